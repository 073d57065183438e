package rates

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatic(t *testing.T) {
	s, err := ParseStatic("static", " xno/usd=0.92 , BTC/EUR=61000.5,")
	require.NoError(t, err)
	require.Len(t, s.Rates, 2)
	assert.True(t, s.Rates["XNO/USD"].Equal(decimal.RequireFromString("0.92")))
	assert.True(t, s.Rates["BTC/EUR"].Equal(decimal.RequireFromString("61000.5")))

	empty, err := ParseStatic("static", "")
	require.NoError(t, err)
	assert.Empty(t, empty.Rates)
}

func TestParseStatic_Invalid(t *testing.T) {
	for _, list := range []string{
		"XNO=1",
		"XNO/USD",
		"/USD=1",
		"XNO/USD=abc",
		"XNO/USD=0",
		"XNO/USD=-2",
	} {
		_, err := ParseStatic("static", list)
		assert.Error(t, err, list)
	}
}

func TestStatic_GetRate(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := ParseStatic("fixed", "XNO/USD=0.92")
	require.NoError(t, err)
	s.Now = func() time.Time { return at }

	q, err := s.GetRate(context.Background(), "xno", "usd")
	require.NoError(t, err)
	assert.Equal(t, "XNO", q.Base)
	assert.Equal(t, "USD", q.Quote)
	assert.Equal(t, "fixed", q.Provider)
	assert.Equal(t, at, q.At)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("0.92")))

	_, err = s.GetRate(context.Background(), "XNO", "EUR")
	assert.ErrorIs(t, err, ErrUnknownPair)
}
