package aurum

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/igolaizola/aurum/pkg/api"
	"github.com/igolaizola/aurum/pkg/dedup"
	dedupinmem "github.com/igolaizola/aurum/pkg/dedup/inmem"
	"github.com/igolaizola/aurum/pkg/dedup/redis"
	"github.com/igolaizola/aurum/pkg/fanout"
	"github.com/igolaizola/aurum/pkg/history"
	"github.com/igolaizola/aurum/pkg/history/bolt"
	historyinmem "github.com/igolaizola/aurum/pkg/history/inmem"
	"github.com/igolaizola/aurum/pkg/mtproto"
	"github.com/igolaizola/aurum/pkg/order"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/igolaizola/aurum/pkg/signal/parser"
	"github.com/igolaizola/aurum/pkg/telegram"
	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/igolaizola/aurum/pkg/venue/binance"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var version = "v241018a"

const (
	SourceMTProto = "mtproto"
	SourceBot     = "bot"
	SourceNone    = "none"

	VenueBinance = "binance"
	VenueDry     = "dry"
)

type Config struct {
	Parser string

	Venue        string
	VenueKey     string
	VenueSecret  string
	VenueTestnet bool
	VenueSymbol  string
	ContractSize float64
	Volume       float64
	Deviation    int

	Source         string
	MTProtoID      int
	MTProtoHash    string
	MTProtoPhone   string
	MTProtoSession string
	Channels       []string
	History        int
	// Code asks for the login code sent by telegram.
	Code func(context.Context) (string, error)

	TelegramToken string
	ControlChat   int64
	SignalChat    int64

	WSAddr    string
	APIAddr   string
	APIInject bool

	DB           string
	RedisAddr    string
	DedupWindow  time.Duration
	MaxSignalAge time.Duration

	Debug bool
}

type Bot struct {
	cfg      Config
	log      zerolog.Logger
	print    func(v ...interface{})
	ctx      context.Context
	session  *venue.Session
	pipeline *relay.Pipeline
	messages chan relay.Message
	hub      *fanout.Hub
	api      *api.Handler
	listener *mtproto.Listener
	tgbot    *telegram.Bot
	closers  []func() error
}

// NewTerminal returns the venue terminal selected by the config.
func NewTerminal(cfg Config, log zerolog.Logger) (venue.Terminal, error) {
	bcfg := binance.Config{
		Key:          cfg.VenueKey,
		Secret:       cfg.VenueSecret,
		Testnet:      cfg.VenueTestnet,
		Symbol:       cfg.VenueSymbol,
		ContractSize: decimal.NewFromFloat(cfg.ContractSize),
		Debug:        cfg.Debug,
	}
	switch cfg.Venue {
	case VenueDry:
		return binance.NewDry(bcfg, log), nil
	case VenueBinance, "":
		if cfg.VenueKey == "" || cfg.VenueSecret == "" {
			return nil, errors.New("aurum: missing venue credentials")
		}
		return binance.New(bcfg, log), nil
	default:
		return nil, fmt.Errorf("aurum: unknown venue %q", cfg.Venue)
	}
}

func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:      cfg,
		log:      log,
		ctx:      ctx,
		messages: make(chan relay.Message, 100),
	}
	b.print = func(v ...interface{}) {
		log.Info().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
	}

	if cfg.TelegramToken != "" && cfg.ControlChat != 0 {
		tgbot, err := telegram.New(cfg.TelegramToken, cfg.ControlChat, log)
		if err != nil {
			return nil, fmt.Errorf("aurum: couldn't create telegram bot: %w", err)
		}
		b.tgbot = tgbot
		b.print = func(v ...interface{}) {
			log.Info().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
			tgbot.Print(v...)
		}
	}

	p, err := parser.NewParser(cfg.Parser)
	if err != nil {
		return nil, fmt.Errorf("aurum: couldn't create parser %q: %w", cfg.Parser, err)
	}

	term, err := NewTerminal(cfg, log)
	if err != nil {
		return nil, err
	}
	b.session = venue.NewSession(term, log)

	opts := []order.Option{order.WithLogger(log)}
	if cfg.Volume > 0 {
		opts = append(opts, order.WithVolume(decimal.NewFromFloat(cfg.Volume)))
	}
	if cfg.Deviation > 0 {
		opts = append(opts, order.WithDeviation(cfg.Deviation))
	}
	dispatcher := order.NewDispatcher(b.session, opts...)

	var guard dedup.Guard = dedup.Nop{}
	switch {
	case cfg.DedupWindow <= 0:
	case cfg.RedisAddr != "":
		g, err := redis.New(ctx, cfg.RedisAddr, cfg.DedupWindow)
		if err != nil {
			return nil, fmt.Errorf("aurum: couldn't create dedup guard: %w", err)
		}
		b.closers = append(b.closers, g.Close)
		guard = g
	default:
		guard = dedupinmem.New(cfg.DedupWindow)
	}

	var store history.Store = &historyinmem.Store{}
	if cfg.DB != "" {
		db, err := bolt.New(cfg.DB)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("aurum: couldn't create db: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		store = db
	}

	b.hub = fanout.NewHub(fanout.NewRegistry(), fanout.WithLogger(log))

	var inject chan<- relay.Message
	if cfg.APIInject {
		inject = b.messages
	}
	b.api = api.New(b.session, store, inject, log)

	b.pipeline = relay.NewPipeline(p, dispatcher,
		relay.WithGuard(guard),
		relay.WithMaxAge(cfg.MaxSignalAge),
		relay.WithLogger(log),
		relay.WithSinks(b.hub, history.Sink(store), relay.SinkFunc(b.notify)),
	)

	switch cfg.Source {
	case SourceMTProto:
		b.listener = mtproto.New(mtproto.Config{
			ID:       cfg.MTProtoID,
			Hash:     cfg.MTProtoHash,
			Phone:    cfg.MTProtoPhone,
			Session:  cfg.MTProtoSession,
			Channels: cfg.Channels,
			History:  cfg.History,
		}, log, cfg.Code)
	case SourceBot:
		if b.tgbot == nil {
			b.Close()
			return nil, errors.New("aurum: bot source requires a telegram token and control chat")
		}
		b.tgbot.HandleChat(cfg.SignalChat, func(msg relay.Message) {
			select {
			case b.messages <- msg:
			case <-b.ctx.Done():
			}
		})
	case SourceNone, "":
	default:
		b.Close()
		return nil, fmt.Errorf("aurum: unknown source %q", cfg.Source)
	}

	if b.tgbot != nil {
		b.commands()
	}
	return b, nil
}

func (b *Bot) commands() {
	b.tgbot.HandleCommand("status", func(_ string) {
		b.print(b.status(b.ctx))
	})
	b.tgbot.HandleCommand("orders", func(_ string) {
		orders, err := b.session.Orders(b.ctx)
		if err != nil {
			b.print("❌", err)
			return
		}
		if len(orders) == 0 {
			b.print("no open orders")
			return
		}
		sb := &strings.Builder{}
		for _, o := range orders {
			fmt.Fprintf(sb, "%d %s %s %s %s @ %s\n", o.Ticket, o.Symbol, o.Side, o.Kind, o.Volume, o.Price)
		}
		b.print(sb.String())
	})
	b.tgbot.HandleCommand("cancel", func(payload string) {
		ticket, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
		if err != nil {
			b.print(fmt.Sprintf("invalid ticket %q", payload))
			return
		}
		res, err := b.session.Cancel(b.ctx, ticket)
		if err != nil {
			b.print("❌", err)
			return
		}
		if !res.Done() {
			b.print(fmt.Sprintf("❌ couldn't cancel %d: %s", ticket, res.Retcode))
			return
		}
		b.print(fmt.Sprintf("order %d cancelled", ticket))
	})
	b.tgbot.HandleCommand("connect", func(_ string) {
		if err := b.session.Connect(b.ctx); err != nil {
			b.print("❌", err)
			return
		}
		b.print("✅ venue connected")
	})
	b.tgbot.HandleCommand("disconnect", func(_ string) {
		if err := b.session.Disconnect(); err != nil {
			b.print("❌", err)
			return
		}
		b.print("venue disconnected")
	})
}

func (b *Bot) status(ctx context.Context) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "venue: %s\n", b.session.State())
	fmt.Fprintf(sb, "subscribers: %d\n", b.hub.Registry().Len())
	acc, err := b.session.Account(ctx)
	if err != nil {
		fmt.Fprintf(sb, "account: %v", err)
		return sb.String()
	}
	fmt.Fprintf(sb, "balance: %s\nequity: %s\nmargin: %s\nfree margin: %s\nleverage: %d",
		acc.Balance.StringFixed(2), acc.Equity.StringFixed(2), acc.Margin.StringFixed(2), acc.FreeMargin.StringFixed(2), acc.Leverage)
	return sb.String()
}

// notify reports signals to the control chat.
func (b *Bot) notify(_ context.Context, ev *relay.Event) error {
	if !ev.HasSignal {
		return nil
	}
	msg := notification(ev)
	if b.tgbot != nil {
		b.tgbot.Print(msg)
	}
	return nil
}

func notification(ev *relay.Event) string {
	head := fmt.Sprintf("📡 %s: %s", ev.Channel, ev.Signal)
	switch {
	case ev.OrderStatus == order.StatusSuccess:
		return fmt.Sprintf("%s\n✅ order %d placed", head, ev.Ticket)
	case ev.OrderStatus == order.StatusFailed:
		return fmt.Sprintf("%s\n❌ order failed: %s", head, ev.OrderReason)
	default:
		return fmt.Sprintf("%s\n⏭ not dispatched: %s", head, ev.OrderReason)
	}
}

func (b *Bot) Run(ctx context.Context) error {
	defer b.Close()
	g, ctx := errgroup.WithContext(ctx)
	b.ctx = ctx

	b.print(fmt.Sprintf("🤖 aurum bot running\n- version: %s\n- venue: %s\n- source: %s", version, b.cfg.Venue, b.cfg.Source))
	defer b.print("🛑 aurum bot stopped")

	// A venue failure doesn't stop relaying, /connect retries
	if err := b.session.Connect(ctx); err != nil {
		b.print("❌ venue not connected:", err)
	}

	g.Go(func() error {
		return b.pipeline.Run(ctx, b.messages)
	})
	if b.cfg.WSAddr != "" {
		g.Go(func() error {
			return b.hub.Serve(ctx, b.cfg.WSAddr)
		})
	}
	if b.cfg.APIAddr != "" {
		g.Go(func() error {
			return b.api.Serve(ctx, b.cfg.APIAddr)
		})
	}
	if b.listener != nil {
		g.Go(func() error {
			return b.listener.Listen(ctx, b.messages)
		})
	}
	if b.tgbot != nil {
		g.Go(func() error {
			return b.tgbot.Run(ctx)
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Error().Err(err).Msg("bot stopped")
		return err
	}
	return nil
}

// Close disconnects the venue and releases storage.
func (b *Bot) Close() error {
	var errs []error
	if b.session != nil {
		if err := b.session.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
