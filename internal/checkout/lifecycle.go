package checkout

import (
	"context"
	"fmt"

	"github.com/ariefcatur/paygate/internal/payments"
)

// Identity is whoever asks for a transition. An empty UserID is an anonymous caller.
type Identity struct {
	UserID string
}

// Confirm records the on-chain transfer. Stock is decremented, the lock dropped
// and the rate snapshot and notification queued in the same transaction. A
// payment that is no longer pending is returned unchanged.
func (s *Service) Confirm(ctx context.Context, paymentID, txID, sender string) (payments.Payment, error) {
	res, err := s.store.Confirm(ctx, payments.ConfirmParams{
		PaymentID: paymentID,
		TxID:      txID,
		Sender:    sender,
		At:        s.Now(),
	})
	if err != nil {
		return payments.Payment{}, fmt.Errorf("confirm %s: %w", paymentID, err)
	}
	if !res.Applied {
		s.logger.Debug("confirm ignored", "payment_id", paymentID, "status", res.Payment.Status, "tx_id", txID)
		s.releaseTerminal(ctx, res.Payment)
		return res.Payment, nil
	}
	if !res.StockDecremented {
		// the transfer already happened on-chain; keep the confirmation and flag the product
		s.logger.Error("stock decrement skipped, product stock already zero",
			"payment_id", paymentID, "product_id", res.Payment.ProductID, "tx_id", txID)
	}
	s.logger.Info("payment confirmed",
		"payment_id", paymentID, "product_id", res.Payment.ProductID, "tx_id", txID, "sender", sender)
	s.remember(ctx, res.Payment)
	return res.Payment, nil
}

// Cancel aborts a pending payment. Guest checkouts may be cancelled by anyone
// holding the payment id; otherwise only the buyer or the seller may cancel.
func (s *Service) Cancel(ctx context.Context, paymentID string, who Identity) (payments.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return payments.Payment{}, fmt.Errorf("cancel %s: %w", paymentID, err)
	}
	if p.Status != payments.StatusPending {
		return p, nil
	}
	if !mayCancel(p, who) {
		return payments.Payment{}, fmt.Errorf("cancel %s: %w", paymentID, payments.ErrForbidden)
	}

	p, applied, err := s.store.Finish(ctx, paymentID, payments.StatusCancelled, s.Now())
	if err != nil {
		return payments.Payment{}, fmt.Errorf("cancel %s: %w", paymentID, err)
	}
	if applied {
		s.logger.Info("payment cancelled", "payment_id", paymentID, "by", who.UserID)
		s.remember(ctx, p)
	}
	return p, nil
}

// ExpireIfPast moves a pending payment whose window has closed to expired and
// frees its lock. Anything else is returned unchanged.
func (s *Service) ExpireIfPast(ctx context.Context, p payments.Payment) (payments.Payment, error) {
	if p.Status != payments.StatusPending || !p.PastExpiry(s.Now()) {
		return p, nil
	}
	np, applied, err := s.store.Finish(ctx, p.ID, payments.StatusExpired, s.Now())
	if err != nil {
		return p, fmt.Errorf("expire %s: %w", p.ID, err)
	}
	if applied {
		s.logger.Info("payment expired", "payment_id", p.ID, "product_id", p.ProductID, "expires_at", p.ExpiresAt)
		s.remember(ctx, np)
	}
	return np, nil
}

func mayCancel(p payments.Payment, who Identity) bool {
	if p.BuyerID == "" {
		return true
	}
	return who.UserID != "" && (who.UserID == p.BuyerID || who.UserID == p.SellerID)
}

// releaseTerminal makes sure no lock outlives a finished payment.
func (s *Service) releaseTerminal(ctx context.Context, p payments.Payment) {
	if !p.Status.Terminal() {
		return
	}
	if err := s.Release(ctx, p.ID); err != nil {
		s.logger.Warn("release lock failed", "payment_id", p.ID, "err", err)
	}
}
