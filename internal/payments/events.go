package payments

import (
	"encoding/json"
	"time"
)

const (
	EventPaymentConfirmed = "PaymentConfirmed"
	EventTransferObserved = "TransferObserved"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // payment id
	Payload       json.RawMessage `json:"payload"`
}

type PaymentConfirmedPayload struct {
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount"`
	TxID      string `json:"tx_id"`
}

// TransferObservedPayload is emitted by the chain indexer for each transfer it sees.
type TransferObservedPayload struct {
	TxID          string    `json:"tx_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Amount        int64     `json:"amount"`
	Message       string    `json:"message"`
	Confirmations int       `json:"confirmations"`
	ObservedAt    time.Time `json:"observed_at"`
}
