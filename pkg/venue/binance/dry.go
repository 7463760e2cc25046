package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Dry uses public market metadata from the venue but fills every order
// locally at the requested price.
type Dry struct {
	*Terminal
	lock    sync.Mutex
	next    int64
	orders  map[int64]*venue.Order
	balance decimal.Decimal
}

func NewDry(cfg Config, log zerolog.Logger) *Dry {
	cfg.Key, cfg.Secret = "", ""
	return &Dry{
		Terminal: New(cfg, log),
		orders:   make(map[int64]*venue.Order),
		balance:  decimal.NewFromFloat(100.0),
	}
}

func (d *Dry) Login(ctx context.Context) error {
	return nil
}

func (d *Dry) OrderSend(ctx context.Context, req *venue.OrderRequest) (*venue.Result, error) {
	info, err := d.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	return d.fill(info, req), nil
}

func (d *Dry) fill(info *venue.SymbolInfo, req *venue.OrderRequest) *venue.Result {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.next++
	price := req.Price.Round(info.PriceDigits)
	d.orders[d.next] = &venue.Order{
		Ticket:    d.next,
		Symbol:    info.Name,
		Side:      req.Side,
		Kind:      "POSITION",
		Volume:    req.Volume,
		Price:     price,
		StopPrice: req.StopLoss,
		Time:      time.Now().UTC(),
	}
	return &venue.Result{
		Retcode: venue.RetcodeDone,
		Ticket:  d.next,
		Volume:  req.Volume,
		Price:   price,
		Comment: "dry order filled",
	}
}

func (d *Dry) OrderCancel(ctx context.Context, ticket int64) (*venue.Result, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, ok := d.orders[ticket]; !ok {
		return nil, fmt.Errorf("binance: dry order %d: %w", ticket, venue.ErrOrderNotFound)
	}
	delete(d.orders, ticket)
	return &venue.Result{Retcode: venue.RetcodeDone, Ticket: ticket, Comment: "dry order canceled"}, nil
}

func (d *Dry) Orders(ctx context.Context) ([]*venue.Order, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	var orders []*venue.Order
	for i := int64(1); i <= d.next; i++ {
		if o, ok := d.orders[i]; ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (d *Dry) AccountInfo(ctx context.Context) (*venue.Account, error) {
	return &venue.Account{
		Balance:    d.balance,
		Equity:     d.balance,
		Margin:     decimal.Zero,
		FreeMargin: d.balance,
		Leverage:   1,
	}, nil
}
