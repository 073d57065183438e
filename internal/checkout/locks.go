package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/paygate/internal/payments"
)

type ReserveInput struct {
	ProductID string
	SessionID string
	BuyerID   string // empty for guest checkout
	FormData  map[string]string
}

// Reservation is what the buyer is shown: pay Amount to Address with PaymentID
// as the transfer message before ExpiresAt.
type Reservation struct {
	PaymentID string    `json:"payment_id"`
	Address   string    `json:"address"`
	Amount    int64     `json:"amount"`
	Asset     string    `json:"asset,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Reserve locks one unit of the product for the session and opens a pending
// payment. Re-entering with the same session refreshes the existing lock and
// points it at the new payment. Failures are returned as-is; nothing is retried.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.ProductID == "" || in.SessionID == "" {
		return Reservation{}, fmt.Errorf("product and session required: %w", payments.ErrInvalidInput)
	}

	now := s.Now()
	p, err := s.store.Reserve(ctx, payments.ReserveParams{
		ProductID: in.ProductID,
		SessionID: in.SessionID,
		BuyerID:   in.BuyerID,
		PaymentID: s.newID(),
		FormData:  in.FormData,
		Now:       now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", in.ProductID, err)
	}

	s.logger.Info("reservation created",
		"payment_id", p.ID, "product_id", p.ProductID, "session_id", p.SessionID, "expires_at", p.ExpiresAt)
	return Reservation{
		PaymentID: p.ID,
		Address:   p.Address,
		Amount:    p.Amount,
		Asset:     s.asset,
		ExpiresAt: p.ExpiresAt,
	}, nil
}

// Release drops the lock held for the payment; no-op when there is none.
func (s *Service) Release(ctx context.Context, paymentID string) error {
	if err := s.store.ReleaseLock(ctx, paymentID); err != nil {
		return fmt.Errorf("release lock %s: %w", paymentID, err)
	}
	return nil
}
