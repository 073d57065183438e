package payments

import (
	"context"
	"time"
)

type ReserveParams struct {
	ProductID string
	SessionID string
	BuyerID   string
	PaymentID string
	FormData  map[string]string
	Now       time.Time
	ExpiresAt time.Time
}

type ConfirmParams struct {
	PaymentID string
	TxID      string
	Sender    string
	At        time.Time
}

type ConfirmResult struct {
	Payment Payment
	// Applied is false when the payment was already terminal; Payment is then unchanged.
	Applied bool
	// StockDecremented is false when the stock > 0 guard refused the decrement.
	StockDecremented bool
}

// Store is the transactional repository behind checkout and reconciliation.
// Every writing method runs as a single transaction.
type Store interface {
	Reserve(ctx context.Context, in ReserveParams) (Payment, error)
	ReleaseLock(ctx context.Context, paymentID string) error
	ReapExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	GetPayment(ctx context.Context, id string) (Payment, error)
	ListPending(ctx context.Context) ([]Payment, error)

	Confirm(ctx context.Context, in ConfirmParams) (ConfirmResult, error)
	// Finish moves a pending payment to expired or cancelled and drops its lock.
	// The bool is false when the payment was no longer pending.
	Finish(ctx context.Context, paymentID string, to Status, at time.Time) (Payment, bool, error)
	SaveRateSnapshot(ctx context.Context, paymentID string, snap RateSnapshot) (bool, error)

	ClaimTasks(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]Task, error)
	CompleteTask(ctx context.Context, id int64) error
	RetryTask(ctx context.Context, id int64, at time.Time, lastErr string) error
	AbandonTask(ctx context.Context, id int64, lastErr string) error
}

// ConfirmTasks are enqueued atomically with every applied confirmation.
var ConfirmTasks = []TaskKind{TaskRateSnapshot, TaskNotifyConfirmed}
