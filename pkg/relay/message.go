package relay

import (
	"strings"
	"time"
)

// DefaultSender is shown when a message carries no usable sender identity.
const DefaultSender = "Channel Admin"

// Message is an inbound chat message as delivered by an ingestion source.
type Message struct {
	ID      int64
	Channel string
	Sender  string
	Text    string
	Time    time.Time
	// Backfill marks history fetched at startup. It is relayed but never
	// dispatched.
	Backfill bool
}

// Identity is the shape of a message author. Sources resolve it to a
// display name with DisplayName before building a Message.
type Identity interface {
	displayName() string
}

type PersonName struct {
	First string
	Last  string
}

func (p PersonName) displayName() string {
	return strings.TrimSpace(p.First + " " + p.Last)
}

type ChannelName struct {
	Title string
}

func (c ChannelName) displayName() string {
	return strings.TrimSpace(c.Title)
}

type Handle struct {
	Username string
}

func (h Handle) displayName() string {
	u := strings.TrimPrefix(strings.TrimSpace(h.Username), "@")
	if u == "" {
		return ""
	}
	return "@" + u
}

// DisplayName returns the name of the first identity that has one.
func DisplayName(ids ...Identity) string {
	for _, id := range ids {
		if id == nil {
			continue
		}
		if name := id.displayName(); name != "" {
			return name
		}
	}
	return DefaultSender
}
