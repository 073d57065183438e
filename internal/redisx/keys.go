package redisx

import "time"

const (
	// Observed transfers: hash ledger:transfers:{address}:{tag} -> {tx_id: transfer json}
	KeyTransfers = "ledger:transfers:%s:%s"

	// Cached terminal payment view: payment_status:{payment_id} -> view json
	KeyPaymentStatus = "payment_status:%s"

	// Rate cache: rate:{base}:{quote} -> quote json
	KeyRate = "rate:%s:%s"

	// Leader lease for the reconciliation sweep: lease:{name} -> instance id
	KeyLease = "lease:%s"
)

var (
	TTLTransfers   = 7 * 24 * time.Hour
	TTLStatusCache = 24 * time.Hour
)
