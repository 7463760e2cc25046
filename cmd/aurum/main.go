package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/igolaizola/aurum"
	"github.com/igolaizola/aurum/pkg/dedup"
	"github.com/igolaizola/aurum/pkg/fanout"
	"github.com/igolaizola/aurum/pkg/logger"
	"github.com/igolaizola/aurum/pkg/mtproto"
	"github.com/igolaizola/aurum/pkg/order"
	sig "github.com/igolaizola/aurum/pkg/signal"
	"github.com/igolaizola/aurum/pkg/signal/parser"
	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func main() {
	// Create signal based context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
			cancel()
		}
		signal.Stop(c)
	}()

	// Credentials may come from a .env file
	if err := loadEnv(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	// Launch command
	cmd := newCommand()
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// loadEnv loads the file given by -env-file, or .env when present.
func loadEnv(args []string) error {
	path := ".env"
	explicit := false
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, "-env-file="), strings.HasPrefix(a, "--env-file="):
			path = a[strings.Index(a, "=")+1:]
			explicit = true
		case (a == "-env-file" || a == "--env-file") && i+1 < len(args):
			path = args[i+1]
			explicit = true
		}
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil && !explicit {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("couldn't load env file %s: %w", path, err)
	}
	return nil
}

func newCommand() *ffcli.Command {
	fs := flag.NewFlagSet("aurum", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "aurum [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newRunCommand(),
			newParseCommand(),
			newAccountCommand(),
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("AURUM"),
	}
}

// venueFlags registers the flags shared by commands that talk to the venue.
func venueFlags(fs *flag.FlagSet, cfg *aurum.Config) {
	fs.StringVar(&cfg.Venue, "venue", aurum.VenueDry, "venue terminal (binance, dry)")
	fs.StringVar(&cfg.VenueKey, "venue-key", "", "binance api key")
	fs.StringVar(&cfg.VenueSecret, "venue-secret", "", "binance api secret")
	fs.BoolVar(&cfg.VenueTestnet, "venue-testnet", false, "use binance futures testnet")
	fs.StringVar(&cfg.VenueSymbol, "venue-symbol", "XAUUSDT", "venue symbol for gold signals")
	fs.Float64Var(&cfg.ContractSize, "contract-size", 100, "contract units per lot")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug output of venue responses")
}

func newRunCommand() *ffcli.Command {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	_ = fs.String("env-file", ".env", "env file with credentials (optional)")

	var cfg aurum.Config
	var channels string
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	logPretty := fs.Bool("log-pretty", false, "human readable logs")
	fs.StringVar(&cfg.Parser, "parser", "text", "signal parser (text, json)")
	venueFlags(fs, &cfg)
	fs.Float64Var(&cfg.Volume, "volume", order.DefaultVolume.InexactFloat64(), "order volume in lots")
	fs.IntVar(&cfg.Deviation, "deviation", order.DefaultDeviation, "allowed price deviation in points")

	fs.StringVar(&cfg.Source, "source", aurum.SourceMTProto, "message source (mtproto, bot, none)")
	fs.IntVar(&cfg.MTProtoID, "mtproto-id", 0, "telegram api id")
	fs.StringVar(&cfg.MTProtoHash, "mtproto-hash", "", "telegram api hash")
	fs.StringVar(&cfg.MTProtoPhone, "mtproto-phone", "", "telegram account phone number")
	fs.StringVar(&cfg.MTProtoSession, "mtproto-session", "aurum.session", "telegram session file")
	fs.StringVar(&channels, "channels", mtproto.DefaultChannel, "comma separated channel usernames")
	fs.IntVar(&cfg.History, "history", mtproto.DefaultHistory, "past messages relayed per channel on start")

	fs.StringVar(&cfg.TelegramToken, "telegram-token", "", "telegram bot token")
	fs.Int64Var(&cfg.ControlChat, "telegram-control-chat", 0, "telegram chat id for logs and commands")
	fs.Int64Var(&cfg.SignalChat, "telegram-signal-chat", 0, "telegram chat id to read signals with the bot source")

	fs.StringVar(&cfg.WSAddr, "ws-addr", fanout.DefaultAddr, "websocket listen address (empty disables)")
	fs.StringVar(&cfg.APIAddr, "api-addr", ":8000", "http api listen address (empty disables)")
	fs.BoolVar(&cfg.APIInject, "api-inject", false, "accept messages with POST /messages")

	fs.StringVar(&cfg.DB, "db", "aurum.db", "message history database path (empty keeps history in memory)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for duplicate signal detection (optional)")
	fs.DurationVar(&cfg.DedupWindow, "dedup-window", dedup.DefaultWindow, "window to ignore repeated signals (0 disables)")
	fs.DurationVar(&cfg.MaxSignalAge, "max-signal-age", 2*time.Minute, "signals older than this aren't dispatched (0 disables)")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "aurum run [flags]",
		Options:    options(),
		ShortHelp:  "run aurum bot",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			for _, ch := range strings.Split(channels, ",") {
				if ch = strings.TrimSpace(ch); ch != "" {
					cfg.Channels = append(cfg.Channels, ch)
				}
			}
			if cfg.Source == aurum.SourceMTProto {
				if cfg.MTProtoID == 0 || cfg.MTProtoHash == "" {
					return errors.New("missing mtproto api id or hash")
				}
				if cfg.MTProtoPhone == "" {
					return errors.New("missing mtproto phone")
				}
				if len(cfg.Channels) == 0 {
					return errors.New("missing channels")
				}
			}
			if cfg.Source == aurum.SourceBot && cfg.SignalChat == 0 {
				return errors.New("missing telegram signal chat")
			}
			if cfg.Venue == aurum.VenueDry && cfg.DB != "" && !strings.HasSuffix(cfg.DB, ".dry.db") {
				cfg.DB = fmt.Sprintf("%s.dry.db", strings.TrimSuffix(cfg.DB, ".db"))
			}
			cfg.Code = codePrompt(os.Stdin, os.Stdout)

			log := logger.New(*logLevel, *logPretty)
			bot, err := aurum.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return bot.Run(ctx)
		},
	}
}

func newParseCommand() *ffcli.Command {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	name := fs.String("parser", "text", "signal parser (text, json)")

	return &ffcli.Command{
		Name:       "parse",
		ShortUsage: "aurum parse [flags] [text]",
		ShortHelp:  "parse a message, read from stdin when no text is given",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			p, err := parser.NewParser(*name)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			if text == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("couldn't read stdin: %w", err)
				}
				text = string(b)
			}
			s, err := p.Parse(text)
			if errors.Is(err, sig.ErrNoSignal) {
				fmt.Println(err)
				return nil
			}
			if err != nil {
				return err
			}
			js, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(js))
			return nil
		},
	}
}

func newAccountCommand() *ffcli.Command {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	_ = fs.String("env-file", ".env", "env file with credentials (optional)")

	var cfg aurum.Config
	venueFlags(fs, &cfg)
	orders := fs.Bool("orders", false, "also print open orders")

	return &ffcli.Command{
		Name:       "account",
		ShortUsage: "aurum account [flags]",
		Options:    options(),
		ShortHelp:  "print the venue account snapshot",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			log := logger.New("warn", true)
			term, err := aurum.NewTerminal(cfg, log)
			if err != nil {
				return err
			}
			session := venue.NewSession(term, log)
			if err := session.Connect(ctx); err != nil {
				return err
			}
			defer session.Disconnect()

			acc, err := session.Account(ctx)
			if err != nil {
				return err
			}
			out := map[string]interface{}{"account": acc}
			if *orders {
				list, err := session.Orders(ctx)
				if err != nil {
					return err
				}
				out["orders"] = list
			}
			js, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(js))
			return nil
		},
	}
}

// codePrompt asks for the telegram login code on the terminal.
func codePrompt(in io.Reader, out io.Writer) func(context.Context) (string, error) {
	reader := bufio.NewReader(in)
	return func(ctx context.Context) (string, error) {
		fmt.Fprint(out, "Enter telegram code: ")
		type result struct {
			code string
			err  error
		}
		c := make(chan result, 1)
		go func() {
			code, err := reader.ReadString('\n')
			c <- result{code, err}
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r := <-c:
			if r.err != nil && r.code == "" {
				return "", fmt.Errorf("couldn't read code: %w", r.err)
			}
			return strings.TrimSpace(r.code), nil
		}
	}
}
