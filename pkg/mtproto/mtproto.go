package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/rs/zerolog"
)

// ErrNoChannels is returned when none of the configured channels resolve.
var ErrNoChannels = errors.New("mtproto: no channels resolved")

const (
	DefaultChannel = "goldhunterpaulnow"
	DefaultHistory = 5
)

type Config struct {
	ID      int
	Hash    string
	Phone   string
	Session string
	// Channels are public channel usernames, with or without "@".
	Channels []string
	// History is the number of past messages relayed per channel on start.
	History int
}

// Listener reads channel messages with a telegram user account.
type Listener struct {
	cfg  Config
	log  zerolog.Logger
	code func(context.Context) (string, error)

	lock     sync.RWMutex
	channels map[int64]*tg.Channel
}

func New(cfg Config, log zerolog.Logger, code func(context.Context) (string, error)) *Listener {
	return &Listener{
		cfg:      cfg,
		log:      log.With().Str("component", "mtproto").Logger(),
		code:     code,
		channels: make(map[int64]*tg.Channel),
	}
}

// Listen authenticates, relays the recent history of every channel and
// then every new channel message until the context is done.
func (l *Listener) Listen(ctx context.Context, out chan<- relay.Message) error {
	codePrompt := func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		code, err := l.code(ctx)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(code), nil
	}

	// This will setup and perform authentication flow.
	flow := auth.NewFlow(
		auth.CodeOnly(l.cfg.Phone, auth.CodeAuthenticatorFunc(codePrompt)),
		auth.SendCodeOptions{},
	)

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		m, ok := u.Message.(*tg.Message)
		if !ok || m.Out {
			return nil
		}
		peerID, err := fromPeer(m.PeerID)
		if err != nil {
			l.log.Debug().Err(err).Msg("skipping update")
			return nil
		}
		l.lock.RLock()
		ch, ok := l.channels[peerID]
		l.lock.RUnlock()
		if !ok {
			return nil
		}
		msg := toMessage(m, ch, e.Users, e.Channels)
		l.log.Info().Str("channel", msg.Channel).Str("sender", msg.Sender).Int64("id", msg.ID).Msg("new message")
		return send(ctx, out, msg)
	})

	client := telegram.NewClient(l.cfg.ID, l.cfg.Hash, telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: l.cfg.Session,
		},
		UpdateHandler: dispatcher,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("mtproto: couldn't authenticate: %w", err)
		}
		api := client.API()
		if err := l.resolve(ctx, api); err != nil {
			return err
		}
		l.lock.RLock()
		var channels []*tg.Channel
		for _, ch := range l.channels {
			channels = append(channels, ch)
		}
		l.lock.RUnlock()
		sort.Slice(channels, func(i, j int) bool { return channels[i].Title < channels[j].Title })

		for _, ch := range channels {
			if err := l.backfill(ctx, api, ch, out); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.log.Error().Err(err).Str("channel", ch.Title).Msg("couldn't fetch history")
			}
		}
		l.log.Info().Int("channels", len(channels)).Msg("listening for mtproto messages")
		<-ctx.Done()
		return nil
	})
}

func (l *Listener) resolve(ctx context.Context, api *tg.Client) error {
	for _, name := range l.cfg.Channels {
		name = strings.TrimPrefix(strings.TrimSpace(name), "@")
		if name == "" {
			continue
		}
		res, err := api.ContactsResolveUsername(ctx, name)
		if err != nil {
			l.log.Error().Err(err).Str("username", name).Msg("couldn't resolve channel")
			continue
		}
		ch := findChannel(res)
		if ch == nil {
			l.log.Error().Str("username", name).Msg("username is not a channel")
			continue
		}
		l.lock.Lock()
		l.channels[ch.ID] = ch
		l.lock.Unlock()
		l.log.Info().Str("username", name).Str("channel", ch.Title).Msg("channel resolved")
	}
	l.lock.RLock()
	defer l.lock.RUnlock()
	if len(l.channels) == 0 {
		return fmt.Errorf("%w: %v", ErrNoChannels, l.cfg.Channels)
	}
	return nil
}

func (l *Listener) backfill(ctx context.Context, api *tg.Client, ch *tg.Channel, out chan<- relay.Message) error {
	if l.cfg.History <= 0 {
		return nil
	}
	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  ch.AsInputPeer(),
		Limit: l.cfg.History,
	})
	if err != nil {
		return fmt.Errorf("mtproto: couldn't get history of %s: %w", ch.Title, err)
	}
	msgs := history(res, ch)
	l.log.Info().Str("channel", ch.Title).Int("messages", len(msgs)).Msg("relaying history")
	for _, msg := range msgs {
		if err := send(ctx, out, msg); err != nil {
			return err
		}
	}
	return nil
}

func send(ctx context.Context, out chan<- relay.Message, msg relay.Message) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func findChannel(res *tg.ContactsResolvedPeer) *tg.Channel {
	peer, ok := res.Peer.(*tg.PeerChannel)
	if !ok {
		return nil
	}
	for _, c := range res.Chats {
		if ch, ok := c.(*tg.Channel); ok && ch.ID == peer.ChannelID {
			return ch
		}
	}
	return nil
}

// history returns the text messages of a history response, oldest first,
// flagged as backfill.
func history(res tg.MessagesMessagesClass, ch *tg.Channel) []relay.Message {
	var (
		messages []tg.MessageClass
		users    []tg.UserClass
		chats    []tg.ChatClass
	)
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		messages, users, chats = v.Messages, v.Users, v.Chats
	case *tg.MessagesMessagesSlice:
		messages, users, chats = v.Messages, v.Users, v.Chats
	case *tg.MessagesMessages:
		messages, users, chats = v.Messages, v.Users, v.Chats
	default:
		return nil
	}
	userMap := make(map[int64]*tg.User)
	for _, u := range users {
		if u, ok := u.(*tg.User); ok {
			userMap[u.ID] = u
		}
	}
	channelMap := make(map[int64]*tg.Channel)
	for _, c := range chats {
		if c, ok := c.(*tg.Channel); ok {
			channelMap[c.ID] = c
		}
	}

	var msgs []relay.Message
	for _, m := range messages {
		m, ok := m.(*tg.Message)
		if !ok || m.Message == "" {
			continue
		}
		msg := toMessage(m, ch, userMap, channelMap)
		msg.Backfill = true
		msgs = append(msgs, msg)
	}
	// The api returns newest first
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Time.Equal(msgs[j].Time) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Time.Before(msgs[j].Time)
	})
	return msgs
}

func toMessage(m *tg.Message, ch *tg.Channel, users map[int64]*tg.User, channels map[int64]*tg.Channel) relay.Message {
	return relay.Message{
		ID:      int64(m.ID),
		Channel: ch.Title,
		Sender:  sender(m, ch, users, channels),
		Text:    m.Message,
		Time:    time.Unix(int64(m.Date), 0).UTC(),
	}
}

func sender(m *tg.Message, ch *tg.Channel, users map[int64]*tg.User, channels map[int64]*tg.Channel) string {
	from, ok := m.GetFromID()
	if !ok {
		// Channel posts are authored by the channel itself
		return relay.DisplayName(relay.ChannelName{Title: ch.Title})
	}
	switch p := from.(type) {
	case *tg.PeerUser:
		if u, ok := users[p.UserID]; ok {
			return relay.DisplayName(
				relay.PersonName{First: u.FirstName, Last: u.LastName},
				relay.Handle{Username: u.Username},
			)
		}
	case *tg.PeerChannel:
		if c, ok := channels[p.ChannelID]; ok {
			return relay.DisplayName(relay.ChannelName{Title: c.Title}, relay.Handle{Username: c.Username})
		}
	}
	return relay.DefaultSender
}

func fromPeer(p tg.PeerClass) (id int64, err error) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, nil
	case *tg.PeerChannel:
		return v.ChannelID, nil
	case *tg.PeerChat:
		return v.ChatID, nil
	}
	return 0, fmt.Errorf("invalid peer: %T", p)
}
