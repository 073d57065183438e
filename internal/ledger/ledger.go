// Package ledger answers "has this payment arrived on-chain?".
//
// A Client is asked for a confirmed transfer into an address that carries an
// exact amount and correlation tag. Matching is exact: a transfer with the
// right tag but a different amount is not a match, so under- and over-payments
// are never accepted automatically.
package ledger

import "context"

type Transfer struct {
	TransactionID string
	SenderAddress string
}

type Client interface {
	// FindConfirmedTransfer returns nil, nil when no matching transfer is known yet.
	FindConfirmedTransfer(ctx context.Context, address string, amount int64, tag string) (*Transfer, error)
}
