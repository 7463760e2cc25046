package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/igolaizola/aurum/pkg/dedup"
	"github.com/igolaizola/aurum/pkg/metrics"
	"github.com/igolaizola/aurum/pkg/order"
	"github.com/igolaizola/aurum/pkg/signal"
	"github.com/rs/zerolog"
)

// Reasons attached to signals that are relayed without an order.
const (
	ReasonDuplicate = "duplicate signal"
	ReasonBackfill  = "backfilled message"
	ReasonStale     = "stale signal"
	ReasonDisabled  = "dispatch disabled"
	ReasonGuard     = "duplicate check failed"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, sig *signal.Signal) (*order.Outcome, error)
}

// Pipeline parses, dispatches and relays messages one at a time.
type Pipeline struct {
	parser     signal.Parser
	dispatcher Dispatcher
	guard      dedup.Guard
	sinks      []Sink
	maxAge     time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

type Option func(*Pipeline)

func WithGuard(g dedup.Guard) Option {
	return func(p *Pipeline) { p.guard = g }
}

func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithMaxAge skips dispatch of signals older than d. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(p *Pipeline) { p.maxAge = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log.With().Str("component", "relay").Logger() }
}

// NewPipeline creates a pipeline. A nil dispatcher relays signals without
// placing orders.
func NewPipeline(parser signal.Parser, dispatcher Dispatcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		parser:     parser,
		dispatcher: dispatcher,
		guard:      dedup.Nop{},
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run handles messages until the channel is closed or the context is done.
// It stops on the first unexpected dispatch error.
func (p *Pipeline) Run(ctx context.Context, messages <-chan Message) error {
	for {
		var msg Message
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case msg, ok = <-messages:
		}
		if !ok {
			return nil
		}
		if _, err := p.Handle(ctx, msg); err != nil {
			return fmt.Errorf("relay: couldn't handle message %d from %s: %w", msg.ID, msg.Channel, err)
		}
	}
}

// Handle processes a single message. The event is always published, even
// when an error is returned.
func (p *Pipeline) Handle(ctx context.Context, msg Message) (*Event, error) {
	ev := newEvent(msg)
	metrics.MessagesTotal.WithLabelValues(msg.Channel).Inc()

	sig, err := p.parser.Parse(msg.Text)
	switch {
	case err == nil:
		ev.HasSignal = true
		ev.Signal = sig
		metrics.SignalsTotal.WithLabelValues(sig.Instrument, string(sig.Direction)).Inc()
		p.log.Info().Str("channel", msg.Channel).Stringer("signal", sig).Msg("signal detected")
	case errors.Is(err, signal.ErrNoSignal):
		p.log.Debug().Str("channel", msg.Channel).Err(err).Msg("no signal")
	default:
		p.log.Warn().Str("channel", msg.Channel).Err(err).Msg("couldn't parse message")
	}

	var dispatchErr error
	if sig != nil {
		dispatchErr = p.dispatch(ctx, msg, sig, ev)
	}
	p.publish(ctx, ev)
	return ev, dispatchErr
}

func (p *Pipeline) dispatch(ctx context.Context, msg Message, sig *signal.Signal, ev *Event) error {
	skip := func(reason string) error {
		ev.OrderReason = reason
		metrics.SkippedTotal.WithLabelValues(reason).Inc()
		p.log.Info().Str("channel", msg.Channel).Str("reason", reason).Msg("signal not dispatched")
		return nil
	}
	switch {
	case p.dispatcher == nil:
		return skip(ReasonDisabled)
	case msg.Backfill:
		return skip(ReasonBackfill)
	case p.maxAge > 0 && !msg.Time.IsZero() && p.now().Sub(msg.Time) > p.maxAge:
		return skip(ReasonStale)
	}

	ok, err := p.guard.Allow(ctx, sig.Key())
	if err != nil {
		p.log.Error().Err(err).Str("key", sig.Key()).Msg("couldn't check duplicate")
		return skip(ReasonGuard)
	}
	if !ok {
		return skip(ReasonDuplicate)
	}

	out, err := p.dispatcher.Dispatch(ctx, sig)
	if out != nil {
		ev.OrderStatus = out.Status()
		ev.Ticket = out.Ticket
		if !out.Success {
			ev.OrderReason = out.Reason
		}
		metrics.OrdersTotal.WithLabelValues(string(out.Status())).Inc()
	}
	return err
}

func (p *Pipeline) publish(ctx context.Context, ev *Event) {
	for _, s := range p.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			p.log.Warn().Err(err).Str("event", ev.ID).Msg("couldn't publish event")
		}
	}
}
