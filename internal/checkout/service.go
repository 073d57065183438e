// Package checkout holds the inventory lock manager and the payment lifecycle.
//
// Reserve takes a time-boxed lock on one unit of stock and opens a pending
// payment in the same transaction. The payment then ends in exactly one terminal
// state: confirmed when the ledger shows the transfer, cancelled by the buyer or
// seller, or expired when its window closes. Transitions out of a terminal state
// are no-ops that return the current record, so retries and late ledger answers
// are harmless.
package checkout

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/paygate/internal/ledger"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/google/uuid"
)

type Service struct {
	store  payments.Store
	ledger ledger.Client
	cache  StatusCache
	ttl    time.Duration
	asset  string
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithLedger enables the immediate ledger check in GetStatus.
func WithLedger(c ledger.Client) Option { return func(s *Service) { s.ledger = c } }

func WithStatusCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithAsset names the currency amounts are denominated in; informational only.
func WithAsset(asset string) Option { return func(s *Service) { s.asset = asset } }

func NewService(store payments.Store, ttl time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("checkout: store required")
	}
	if ttl <= 0 {
		return nil, errors.New("checkout: reservation ttl must be positive")
	}
	s := &Service{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Now is the service clock, shared with the reconciliation loop.
func (s *Service) Now() time.Time { return s.now().UTC() }
