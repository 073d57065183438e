package payments

const (
	TopicPaymentEvents     = "payment.events"
	TopicTransfersObserved = "ledger.transfers.observed"
)

// Partition key = payment_id, so every event of one payment keeps its order.
func PartitionKey(paymentID string) []byte { return []byte(paymentID) }
