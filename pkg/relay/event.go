package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/igolaizola/aurum/pkg/order"
	"github.com/igolaizola/aurum/pkg/signal"
)

const EventMessage = "message"

// Event is what subscribers receive for every inbound message.
type Event struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	Sender      string         `json:"sender"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	HasSignal   bool           `json:"hasSignal"`
	Signal      *signal.Signal `json:"signal,omitempty"`
	OrderStatus order.Status   `json:"orderStatus,omitempty"`
	Ticket      int64          `json:"ticket,omitempty"`
	OrderReason string         `json:"orderReason,omitempty"`
}

func newEvent(msg Message) *Event {
	return &Event{
		Type:      EventMessage,
		ID:        uuid.NewString(),
		Channel:   msg.Channel,
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Time,
	}
}

// Sink receives relay events. Implementations must not block on slow
// consumers.
type Sink interface {
	Publish(ctx context.Context, ev *Event) error
}

type SinkFunc func(ctx context.Context, ev *Event) error

func (f SinkFunc) Publish(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}
