package signal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	minPrice = decimal.NewFromInt(1000)
	maxPrice = decimal.NewFromInt(10000)
)

type parser struct {
	nums  *regexp.Regexp
	label *regexp.Regexp
}

// NewParser returns the free text parser for gold signals like:
//
//	BUY XAUUSD 1950
//	SL 1945
//	TP 1960
//	TP 1970
func NewParser() (Parser, error) {
	nums, err := regexp.Compile(`[0-9]+(?:\.[0-9]+)?`)
	if err != nil {
		return nil, fmt.Errorf("signal: couldn't create regex: %w", err)
	}
	label, err := regexp.Compile(`^[0-9]{1,2}(?:\s*[:)\-]|\s*\.\s|\s)\s*[0-9]`)
	if err != nil {
		return nil, fmt.Errorf("signal: couldn't create regex: %w", err)
	}
	return &parser{nums: nums, label: label}, nil
}

func (p *parser) Parse(text string) (*Signal, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: not enough lines: %d", ErrNoSignal, len(lines))
	}

	first := strings.ToLower(lines[0])
	var instrument string
	switch {
	case strings.Contains(first, "xauusd"):
		instrument = XAUUSD
	case strings.Contains(first, "gold"):
		instrument = Gold
	default:
		return nil, fmt.Errorf("%w: instrument not found: %s", ErrNoSignal, lines[0])
	}

	var dir Direction
	var keyword string
	switch {
	case strings.Contains(first, "buy"):
		dir, keyword = Buy, "buy"
	case strings.Contains(first, "sell"):
		dir, keyword = Sell, "sell"
	default:
		return nil, fmt.Errorf("%w: direction not found: %s", ErrNoSignal, lines[0])
	}

	// Entry may come inline: "BUY GOLD 1950"
	var entry decimal.Decimal
	var hasEntry bool
	after := first[strings.Index(first, keyword)+len(keyword):]
	if nums := p.numbers(after); len(nums) > 0 {
		entry, hasEntry = nums[0], true
	}

	var stops, targets []decimal.Decimal
	for _, line := range lines[1:] {
		line = strings.ToLower(line)
		switch {
		case strings.HasPrefix(line, "entry"):
			if hasEntry {
				continue
			}
			if nums := p.field(line, "entry"); len(nums) > 0 {
				entry, hasEntry = nums[0], true
			}
		case strings.HasPrefix(line, "sl"):
			stops = append(stops, p.field(line, "sl")...)
		case strings.HasPrefix(line, "tp"):
			if nums := p.field(line, "tp"); len(nums) > 0 {
				targets = append(targets, nums[0])
			}
		}
	}

	// Fall back to the first number that looks like a gold quote
	if !hasEntry {
	lookup:
		for _, line := range lines {
			for _, n := range p.numbers(line) {
				if n.GreaterThan(minPrice) && n.LessThan(maxPrice) {
					entry, hasEntry = n, true
					break lookup
				}
			}
		}
	}
	if !hasEntry {
		return nil, fmt.Errorf("%w: entry not found", ErrNoSignal)
	}

	s, err := New(dir, instrument, entry, stops, targets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSignal, err)
	}
	return s, nil
}

// field returns the numbers following a line prefix. A short index glued to
// the prefix and separated from the price is a label ("tp1: 1960", "sl2 1940")
// and is dropped.
func (p *parser) field(line, prefix string) []decimal.Decimal {
	rest := line[len(prefix):]
	nums := p.numbers(rest)
	if len(nums) > 1 && p.label.MatchString(rest) {
		nums = nums[1:]
	}
	return nums
}

func (p *parser) numbers(s string) []decimal.Decimal {
	var nums []decimal.Decimal
	for _, match := range p.nums.FindAllString(s, -1) {
		n, err := decimal.NewFromString(match)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}
