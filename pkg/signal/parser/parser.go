package parser

import (
	"errors"

	"github.com/igolaizola/aurum/pkg/signal"
	"github.com/igolaizola/aurum/pkg/signal/parser/json"
)

var ErrNotFound = errors.New("parser: not found")

func NewParser(name string) (signal.Parser, error) {
	switch name {
	case "", "text":
		return signal.NewParser()
	case "json":
		return json.Parser{}, nil
	default:
		return nil, ErrNotFound
	}
}
