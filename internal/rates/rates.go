// Package rates provides exchange-rate quotes captured when a payment confirms.
package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownPair = errors.New("unknown currency pair")

type Quote struct {
	Base     string          `json:"base"`
	Quote    string          `json:"quote"`
	Rate     decimal.Decimal `json:"rate"`
	Provider string          `json:"provider"`
	At       time.Time       `json:"at"`
}

type Provider interface {
	GetRate(ctx context.Context, base, quote string) (Quote, error)
}

func pairKey(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// Static serves fixed rates, e.g. parsed from configuration.
type Static struct {
	Name  string
	Rates map[string]decimal.Decimal // "BASE/QUOTE" -> rate
	Now   func() time.Time
}

func (s *Static) GetRate(ctx context.Context, base, quote string) (Quote, error) {
	r, ok := s.Rates[pairKey(base, quote)]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", pairKey(base, quote), ErrUnknownPair)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Quote{
		Base:     strings.ToUpper(base),
		Quote:    strings.ToUpper(quote),
		Rate:     r,
		Provider: s.Name,
		At:       now().UTC(),
	}, nil
}

// ParseStatic reads "XNO/USD=0.92,BTC/EUR=61000.5".
func ParseStatic(name, list string) (*Static, error) {
	out := &Static{Name: name, Rates: make(map[string]decimal.Decimal)}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair, val, ok := strings.Cut(part, "=")
		base, quote, okPair := strings.Cut(pair, "/")
		if !ok || !okPair || base == "" || quote == "" {
			return nil, fmt.Errorf("rate %q: want BASE/QUOTE=value", part)
		}
		r, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("rate %q: %w", part, err)
		}
		if !r.IsPositive() {
			return nil, fmt.Errorf("rate %q: must be positive", part)
		}
		out.Rates[pairKey(strings.TrimSpace(base), strings.TrimSpace(quote))] = r
	}
	return out, nil
}
