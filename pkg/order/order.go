package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/igolaizola/aurum/pkg/signal"
	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrRejected is set on outcomes whose request the venue didn't complete.
var ErrRejected = errors.New("order: rejected by venue")

// Order policy for every signal.
var (
	DefaultVolume    = decimal.NewFromFloat(0.01)
	DefaultDeviation = 10
	Magic            = int64(234000)
)

const commentPrefix = "Telegram Signal"

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

type Outcome struct {
	Success bool
	Ticket  int64
	Reason  string
	// Err classifies failures: signal.ErrInvalid, venue.ErrNotConnected,
	// venue.ErrConnectionLost, venue.ErrUnavailable, venue.ErrSymbolNotFound
	// or ErrRejected.
	Err error
}

func (o *Outcome) Status() Status {
	if o.Success {
		return StatusSuccess
	}
	return StatusFailed
}

func failed(err error) *Outcome {
	return &Outcome{Reason: err.Error(), Err: err}
}

type Session interface {
	ResolveSymbol(ctx context.Context, name string) (*venue.SymbolInfo, error)
	Submit(ctx context.Context, req *venue.OrderRequest) (*venue.Result, error)
}

type Dispatcher struct {
	session   Session
	volume    decimal.Decimal
	deviation int
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Dispatcher)

func WithVolume(v decimal.Decimal) Option {
	return func(d *Dispatcher) { d.volume = v }
}

func WithDeviation(points int) Option {
	return func(d *Dispatcher) { d.deviation = points }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log.With().Str("component", "order").Logger() }
}

func NewDispatcher(session Session, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:   session,
		volume:    DefaultVolume,
		deviation: DefaultDeviation,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Request builds the venue request for a signal on the given symbol.
func (d *Dispatcher) Request(sig *signal.Signal, symbol string) *venue.OrderRequest {
	side := venue.SideBuy
	if sig.Direction == signal.Sell {
		side = venue.SideSell
	}
	return &venue.OrderRequest{
		Action:      venue.ActionDeal,
		Symbol:      symbol,
		Volume:      d.volume,
		Side:        side,
		Price:       sig.Entry,
		StopLoss:    sig.StopLoss(),
		TakeProfit:  sig.TakeProfit(),
		Deviation:   d.deviation,
		Magic:       Magic,
		Comment:     fmt.Sprintf("%s %s", commentPrefix, d.now().Format("2006-01-02 15:04:05")),
		TypeTime:    venue.TimeGTC,
		TypeFilling: venue.FillingIOC,
	}
}

// Dispatch submits one order for the signal. Expected failures are reported
// in the outcome; the error is only set for failures of unknown effect on
// the venue. Dispatch isn't idempotent: each call submits a new order.
func (d *Dispatcher) Dispatch(ctx context.Context, sig *signal.Signal) (*Outcome, error) {
	if err := sig.Validate(); err != nil {
		return failed(err), nil
	}
	info, err := d.session.ResolveSymbol(ctx, sig.Instrument)
	if err != nil {
		if expected(err) {
			return failed(err), nil
		}
		return failed(err), fmt.Errorf("order: couldn't resolve %s: %w", sig.Instrument, err)
	}

	req := d.Request(sig, info.Name)
	res, err := d.session.Submit(ctx, req)
	if err != nil {
		if expected(err) {
			return failed(err), nil
		}
		return failed(err), fmt.Errorf("order: couldn't submit %s: %w", sig, err)
	}
	if !res.Done() {
		reason := res.Comment
		if reason == "" {
			reason = res.Retcode.String()
		}
		d.log.Warn().Str("symbol", req.Symbol).Stringer("retcode", res.Retcode).Str("reason", reason).Msg("order rejected")
		return &Outcome{Ticket: res.Ticket, Reason: reason, Err: fmt.Errorf("%w: %s", ErrRejected, reason)}, nil
	}
	d.log.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).Int64("ticket", res.Ticket).Msg("order placed")
	return &Outcome{Success: true, Ticket: res.Ticket, Reason: res.Comment}, nil
}

func expected(err error) bool {
	return errors.Is(err, venue.ErrNotConnected) ||
		errors.Is(err, venue.ErrConnectionLost) ||
		errors.Is(err, venue.ErrUnavailable) ||
		errors.Is(err, venue.ErrSymbolNotFound)
}
