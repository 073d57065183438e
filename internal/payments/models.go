package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID      string
	OwnerID string
	Name    string
	Price   int64 // minor units of the payment asset
	Stock   int
	// SaleStart/SaleEnd are optional; nil means open on that side.
	SaleStart *time.Time
	SaleEnd   *time.Time
}

// OnSale reports whether t falls inside the product's sale window.
func (p Product) OnSale(t time.Time) bool {
	if p.SaleStart != nil && t.Before(*p.SaleStart) {
		return false
	}
	if p.SaleEnd != nil && t.After(*p.SaleEnd) {
		return false
	}
	return true
}

type Address struct {
	ID        string
	OwnerID   string
	Address   string
	IsDefault bool
}

// ProductLock is a time-boxed hold on one unit of a product for a checkout session.
type ProductLock struct {
	ProductID string
	SessionID string
	PaymentID string
	ExpiresAt time.Time
}

type RateSnapshot struct {
	Rate     decimal.Decimal
	Currency string // quote currency
	Provider string
	QuotedAt time.Time
}

type Payment struct {
	ID          string
	ProductID   string
	SellerID    string
	BuyerID     string // empty for guest checkouts
	SessionID   string
	AddressID   string
	Address     string
	Amount      int64
	Status      Status
	ExpiresAt   time.Time
	FormData    map[string]string
	CreatedAt   time.Time
	TxID        string
	Sender      string
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	ExpiredAt   *time.Time
	Rate        *RateSnapshot
}

// PastExpiry reports whether the payment window closed before now.
func (p Payment) PastExpiry(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

type TaskKind string

const (
	TaskRateSnapshot    TaskKind = "rate_snapshot"
	TaskNotifyConfirmed TaskKind = "notify_confirmed"
)

// Task is a side effect recorded in the same transaction as the transition that
// caused it and executed after commit.
type Task struct {
	ID            int64
	PaymentID     string
	Kind          TaskKind
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}
