package json

import (
	"encoding/json"
	"fmt"

	"github.com/igolaizola/aurum/pkg/signal"
	"github.com/shopspring/decimal"
)

// Parser reads signals already published in structured form. Messages that
// aren't JSON objects are reported as signal.ErrNoSignal.
type Parser struct{}

type jsonSignal struct {
	Direction   string   `json:"direction"`
	Instrument  string   `json:"instrument"`
	Entry       string   `json:"entry"`
	StopLosses  []string `json:"stopLosses"`
	TakeProfits []string `json:"takeProfits"`
}

func (p Parser) Parse(text string) (*signal.Signal, error) {
	var js jsonSignal
	if err := json.Unmarshal([]byte(text), &js); err != nil {
		return nil, fmt.Errorf("json: couldn't parse signal: %w: %v", signal.ErrNoSignal, err)
	}
	entry, err := decimal.NewFromString(js.Entry)
	if err != nil {
		return nil, fmt.Errorf("json: couldn't parse entry price (%s): %w: %v", js.Entry, signal.ErrNoSignal, err)
	}
	stops, err := prices(js.StopLosses)
	if err != nil {
		return nil, fmt.Errorf("json: couldn't parse stop loss: %w: %v", signal.ErrNoSignal, err)
	}
	targets, err := prices(js.TakeProfits)
	if err != nil {
		return nil, fmt.Errorf("json: couldn't parse take profit: %w: %v", signal.ErrNoSignal, err)
	}
	s, err := signal.New(signal.Direction(js.Direction), js.Instrument, entry, stops, targets)
	if err != nil {
		return nil, fmt.Errorf("json: %w: %v", signal.ErrNoSignal, err)
	}
	return s, nil
}

func prices(values []string) ([]decimal.Decimal, error) {
	ds := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("price %d (%s): %w", i+1, v, err)
		}
		ds[i] = d
	}
	return ds, nil
}
