package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/rs/zerolog"
	tb "gopkg.in/tucnak/telebot.v2"
)

type Bot struct {
	bot      *tb.Bot
	chat     *tb.Chat
	boot     time.Time
	log      zerolog.Logger
	messages chan string
}

func New(token string, chatID int64, log zerolog.Logger) (*Bot, error) {
	b, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create bot: %w", err)
	}
	chat, err := b.ChatByID(strconv.FormatInt(chatID, 10))
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create chat %d: %w", chatID, err)
	}
	bot := &Bot{
		bot:      b,
		chat:     chat,
		boot:     time.Now(),
		log:      log.With().Str("component", "telegram").Logger(),
		messages: make(chan string, 100),
	}
	return bot, nil
}

// HandleChat relays text messages and channel posts from the given chat.
// Messages sent before the bot started are ignored.
func (b *Bot) HandleChat(chatID int64, handler func(relay.Message)) {
	fn := func(m *tb.Message) {
		if m.Chat == nil || m.Chat.ID != chatID {
			return
		}
		if m.Time().Before(b.boot) {
			return
		}
		handler(toMessage(m))
	}
	b.bot.Handle(tb.OnText, fn)
	b.bot.Handle(tb.OnChannelPost, fn)
}

func (b *Bot) HandleCommand(command string, handler func(string)) {
	b.bot.Handle(fmt.Sprintf("/%s", command), func(m *tb.Message) {
		if m.Chat.ID != b.chat.ID {
			return
		}
		if m.Time().Before(b.boot) {
			return
		}
		handler(m.Payload)
	})
}

func (b *Bot) Run(ctx context.Context) error {
	go b.bot.Start()
	defer b.bot.Stop()
	defer b.bot.Send(b.chat, "🛑 bot stopping")
	var msg string
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg = <-b.messages:
		}
		opts := tb.ModeDefault
		if strings.Contains(msg, "`") {
			opts = tb.ModeMarkdown
		}
		if _, err := b.bot.Send(b.chat, msg, opts); err != nil {
			b.log.Warn().Err(err).Msg("couldn't send message")
		}
		select {
		case <-ctx.Done():
			return nil
		// Wait to avoid rate limit errors
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Print queues a message for the control chat. Messages are dropped when
// the queue is full.
func (b *Bot) Print(v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintln(v...))
	select {
	case b.messages <- msg:
	default:
		b.log.Warn().Str("message", msg).Msg("control chat queue full")
	}
}

func toMessage(m *tb.Message) relay.Message {
	channel := ""
	var ids []relay.Identity
	if m.Chat != nil {
		channel = m.Chat.Title
		if channel == "" {
			channel = m.Chat.Username
		}
	}
	if u := m.Sender; u != nil {
		ids = append(ids, relay.PersonName{First: u.FirstName, Last: u.LastName}, relay.Handle{Username: u.Username})
	}
	if m.Chat != nil && m.Chat.Type == tb.ChatChannel {
		ids = append(ids, relay.ChannelName{Title: m.Chat.Title})
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return relay.Message{
		ID:      int64(m.ID),
		Channel: channel,
		Sender:  relay.DisplayName(ids...),
		Text:    text,
		Time:    m.Time().UTC(),
	}
}
