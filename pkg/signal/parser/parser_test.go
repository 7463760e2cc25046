package parser

import (
	"errors"
	"testing"
)

func TestNewParser(t *testing.T) {
	for _, name := range []string{"", "text", "json"} {
		p, err := NewParser(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if p == nil {
			t.Fatalf("%q: nil parser", name)
		}
	}
	if _, err := NewParser("cryptosignals"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
