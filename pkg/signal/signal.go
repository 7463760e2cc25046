package signal

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoSignal is returned by parsers when a message isn't a trade signal.
var ErrNoSignal = errors.New("signal: not a signal")

// ErrInvalid is returned when a signal misses any of its mandatory fields.
var ErrInvalid = errors.New("signal: invalid")

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Recognized instrument names. Both refer to spot gold.
const (
	XAUUSD = "XAUUSD"
	Gold   = "Gold"
)

type Signal struct {
	Direction   Direction         `json:"direction"`
	Instrument  string            `json:"instrument"`
	Entry       decimal.Decimal   `json:"entry"`
	StopLosses  []decimal.Decimal `json:"stopLosses"`
	TakeProfits []decimal.Decimal `json:"takeProfits"`
}

type Parser interface {
	Parse(text string) (*Signal, error)
}

// New builds a validated signal. Stop losses and take profits are copied and
// sorted ascending for buys and descending for sells.
func New(dir Direction, instrument string, entry decimal.Decimal, stops, targets []decimal.Decimal) (*Signal, error) {
	s := &Signal{
		Direction:   dir,
		Instrument:  instrument,
		Entry:       entry,
		StopLosses:  append([]decimal.Decimal(nil), stops...),
		TakeProfits: append([]decimal.Decimal(nil), targets...),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.StopLosses = order(dir, s.StopLosses)
	s.TakeProfits = order(dir, s.TakeProfits)
	return s, nil
}

// Validate checks that every mandatory field is present.
func (s *Signal) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil signal", ErrInvalid)
	}
	switch s.Direction {
	case Buy, Sell:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalid, s.Direction)
	}
	if s.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalid)
	}
	if !s.Entry.IsPositive() {
		return fmt.Errorf("%w: missing entry", ErrInvalid)
	}
	if len(s.StopLosses) == 0 {
		return fmt.Errorf("%w: missing stop loss", ErrInvalid)
	}
	if len(s.TakeProfits) == 0 {
		return fmt.Errorf("%w: missing take profit", ErrInvalid)
	}
	return nil
}

// StopLoss returns the nearest stop loss.
func (s *Signal) StopLoss() decimal.Decimal {
	return s.StopLosses[0]
}

// TakeProfit returns the first take profit.
func (s *Signal) TakeProfit() decimal.Decimal {
	return s.TakeProfits[0]
}

// Family groups instrument aliases that trade the same venue symbol.
func Family(instrument string) string {
	switch strings.ToUpper(instrument) {
	case XAUUSD, "GOLD":
		return "XAU"
	default:
		return strings.ToUpper(instrument)
	}
}

// Key identifies equivalent signals regardless of the alias used.
func (s *Signal) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", Family(s.Instrument), s.Direction, s.Entry, s.StopLoss(), s.TakeProfit())
}

func (s *Signal) String() string {
	return fmt.Sprintf("%s %s @ %s sl %v tp %v", s.Direction, s.Instrument, s.Entry, s.StopLosses, s.TakeProfits)
}

func order(dir Direction, prices []decimal.Decimal) []decimal.Decimal {
	sort.SliceStable(prices, func(i, j int) bool {
		if dir == Sell {
			return prices[i].GreaterThan(prices[j])
		}
		return prices[i].LessThan(prices[j])
	})
	return prices
}
