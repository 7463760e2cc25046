// Package venuetest provides an in-memory terminal for tests.
package venuetest

import (
	"context"
	"sync"
	"time"

	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/shopspring/decimal"
)

// Terminal is a scriptable venue.Terminal. Zero value accepts every order.
type Terminal struct {
	InitErr  error
	LoginErr error
	// Symbols maps accepted names to venue symbols. Nil accepts any name.
	Symbols map[string]string
	// Retcode returned by OrderSend, RetcodeDone when zero.
	Retcode venue.Retcode
	Comment string
	SendErr error

	lock      sync.Mutex
	next      int64
	orders    map[int64]*venue.Order
	Requests  []venue.OrderRequest
	Inits     int
	Logins    int
	Shutdowns int
}

func (t *Terminal) Initialize(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Inits++
	return t.InitErr
}

func (t *Terminal) Login(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Logins++
	return t.LoginErr
}

func (t *Terminal) Shutdown() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Shutdowns++
	return nil
}

func (t *Terminal) SymbolInfo(ctx context.Context, name string) (*venue.SymbolInfo, error) {
	sym := name
	if t.Symbols != nil {
		var ok bool
		if sym, ok = t.Symbols[name]; !ok {
			return nil, venue.ErrSymbolNotFound
		}
	}
	return &venue.SymbolInfo{
		Name:           sym,
		PriceDigits:    2,
		VolumeDigits:   2,
		TickSize:       decimal.RequireFromString("0.01"),
		ContractSize:   decimal.NewFromInt(100),
		VolumeMin:      decimal.RequireFromString("0.01"),
		TradingEnabled: true,
	}, nil
}

func (t *Terminal) OrderSend(ctx context.Context, req *venue.OrderRequest) (*venue.Result, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Requests = append(t.Requests, *req)
	if t.SendErr != nil {
		return nil, t.SendErr
	}
	code := t.Retcode
	if code == 0 {
		code = venue.RetcodeDone
	}
	if code != venue.RetcodeDone {
		return &venue.Result{Retcode: code, Comment: t.Comment}, nil
	}
	t.next++
	if t.orders == nil {
		t.orders = make(map[int64]*venue.Order)
	}
	t.orders[t.next] = &venue.Order{
		Ticket: t.next,
		Symbol: req.Symbol,
		Side:   req.Side,
		Kind:   "DEAL",
		Volume: req.Volume,
		Price:  req.Price,
		Time:   time.Now().UTC(),
	}
	return &venue.Result{Retcode: code, Ticket: t.next, Volume: req.Volume, Price: req.Price, Comment: "done"}, nil
}

func (t *Terminal) OrderCancel(ctx context.Context, ticket int64) (*venue.Result, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.orders[ticket]; !ok {
		return nil, venue.ErrOrderNotFound
	}
	delete(t.orders, ticket)
	return &venue.Result{Retcode: venue.RetcodeDone, Ticket: ticket, Comment: "canceled"}, nil
}

func (t *Terminal) Orders(ctx context.Context) ([]*venue.Order, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	var orders []*venue.Order
	for i := int64(1); i <= t.next; i++ {
		if o, ok := t.orders[i]; ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (t *Terminal) AccountInfo(ctx context.Context) (*venue.Account, error) {
	return &venue.Account{
		Balance:    decimal.NewFromInt(1000),
		Equity:     decimal.NewFromInt(1000),
		Margin:     decimal.Zero,
		FreeMargin: decimal.NewFromInt(1000),
		Leverage:   100,
	}, nil
}

// Sent returns the number of order requests received.
func (t *Terminal) Sent() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.Requests)
}
