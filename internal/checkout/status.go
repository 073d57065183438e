package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/shopspring/decimal"
)

type RateView struct {
	Rate     decimal.Decimal `json:"rate"`
	Currency string          `json:"currency"`
	Provider string          `json:"provider"`
	QuotedAt time.Time       `json:"quoted_at"`
}

type PaymentView struct {
	PaymentID   string          `json:"payment_id"`
	ProductID   string          `json:"product_id"`
	Status      payments.Status `json:"status"`
	Address     string          `json:"address"`
	Amount      int64           `json:"amount"`
	ExpiresAt   time.Time       `json:"expires_at"`
	TxID        string          `json:"tx_id,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	Rate        *RateView       `json:"rate,omitempty"`
}

func viewOf(p payments.Payment) PaymentView {
	v := PaymentView{
		PaymentID:   p.ID,
		ProductID:   p.ProductID,
		Status:      p.Status,
		Address:     p.Address,
		Amount:      p.Amount,
		ExpiresAt:   p.ExpiresAt,
		TxID:        p.TxID,
		Sender:      p.Sender,
		ConfirmedAt: p.ConfirmedAt,
	}
	if p.Rate != nil {
		v.Rate = &RateView{Rate: p.Rate.Rate, Currency: p.Rate.Currency, Provider: p.Rate.Provider, QuotedAt: p.Rate.QuotedAt}
	}
	return v
}

// GetStatus returns the payment as the buyer should see it. A pending payment is
// expired if its window closed, otherwise the ledger is asked once; a ledger error
// leaves the payment pending for the reconciliation loop.
func (s *Service) GetStatus(ctx context.Context, paymentID string) (PaymentView, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, paymentID); ok {
			return v, nil
		}
	}

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return PaymentView{}, fmt.Errorf("status %s: %w", paymentID, err)
	}

	if p.Status == payments.StatusPending {
		if p, err = s.ExpireIfPast(ctx, p); err != nil {
			return PaymentView{}, err
		}
	}
	if p.Status == payments.StatusPending && s.ledger != nil {
		tr, err := s.ledger.FindConfirmedTransfer(ctx, p.Address, p.Amount, p.ID)
		switch {
		case err != nil:
			s.logger.Debug("immediate ledger check failed", "payment_id", p.ID, "err", err)
		case tr != nil:
			if p, err = s.Confirm(ctx, p.ID, tr.TransactionID, tr.SenderAddress); err != nil {
				return PaymentView{}, err
			}
		}
	}

	s.remember(ctx, p)
	return viewOf(p), nil
}
