package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns the lifecycle of one authenticated terminal. Every call is
// serialized; operations other than Connect fail with ErrNotConnected unless
// the session is connected.
type Session struct {
	terminal Terminal
	log      zerolog.Logger

	lock  sync.Mutex
	state State
}

func NewSession(t Terminal, log zerolog.Logger) *Session {
	return &Session{
		terminal: t,
		log:      log.With().Str("component", "venue").Logger(),
	}
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Connect initializes the terminal and logs in. It is a no-op when the
// session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == Connected {
		return nil
	}
	s.state = Connecting
	if err := s.terminal.Initialize(ctx); err != nil {
		s.state = Disconnected
		return fmt.Errorf("venue: couldn't initialize: %w", err)
	}
	if err := s.terminal.Login(ctx); err != nil {
		if err := s.terminal.Shutdown(); err != nil {
			s.log.Warn().Err(err).Msg("couldn't shutdown after failed login")
		}
		s.state = Disconnected
		return fmt.Errorf("venue: couldn't login: %w", err)
	}
	s.state = Connected
	s.log.Info().Msg("connected")
	return nil
}

// Disconnect shuts the terminal down. Calling it while disconnected does
// nothing.
func (s *Session) Disconnect() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == Disconnected {
		return nil
	}
	s.state = Disconnected
	if err := s.terminal.Shutdown(); err != nil {
		return fmt.Errorf("venue: couldn't shutdown: %w", err)
	}
	s.log.Info().Msg("disconnected")
	return nil
}

func (s *Session) ResolveSymbol(ctx context.Context, name string) (*SymbolInfo, error) {
	var info *SymbolInfo
	err := s.do(func() error {
		var err error
		info, err = s.terminal.SymbolInfo(ctx, name)
		return err
	})
	return info, err
}

func (s *Session) Submit(ctx context.Context, req *OrderRequest) (*Result, error) {
	var res *Result
	err := s.do(func() error {
		var err error
		res, err = s.terminal.OrderSend(ctx, req)
		return err
	})
	return res, err
}

func (s *Session) Cancel(ctx context.Context, ticket int64) (*Result, error) {
	var res *Result
	err := s.do(func() error {
		var err error
		res, err = s.terminal.OrderCancel(ctx, ticket)
		return err
	})
	return res, err
}

func (s *Session) Orders(ctx context.Context) ([]*Order, error) {
	var orders []*Order
	err := s.do(func() error {
		var err error
		orders, err = s.terminal.Orders(ctx)
		return err
	})
	return orders, err
}

func (s *Session) Account(ctx context.Context) (*Account, error) {
	var acc *Account
	err := s.do(func() error {
		var err error
		acc, err = s.terminal.AccountInfo(ctx)
		return err
	})
	return acc, err
}

func (s *Session) do(fn func() error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != Connected {
		return ErrNotConnected
	}
	err := fn()
	if errors.Is(err, ErrConnectionLost) {
		s.state = Disconnected
		if err := s.terminal.Shutdown(); err != nil {
			s.log.Warn().Err(err).Msg("couldn't shutdown after connection loss")
		}
		s.log.Error().Err(err).Msg("session dropped")
	}
	return err
}
