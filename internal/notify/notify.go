// Package notify delivers payment events to users. Delivery is best effort:
// a failed notification never changes payment state.
package notify

import (
	"context"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/paygate/internal/kafka"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type Event string

const EventPaymentConfirmed Event = payments.EventPaymentConfirmed

type Notifier interface {
	Notify(ctx context.Context, userID, paymentID string, ev Event) error
}

// Publisher is the part of kafka.Producer the notifier needs. The write must be
// acknowledged before it returns so a broker failure reaches the task dispatcher.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

var _ Publisher = (*kafkax.Producer)(nil)

// Kafka publishes notifications as event envelopes on TopicPaymentEvents; the
// delivery service (mail, push) consumes them.
type Kafka struct {
	Producer Publisher
	Service  string
	// Lookup loads the payment for the payload; optional.
	Lookup func(ctx context.Context, paymentID string) (payments.Payment, error)
}

func (k *Kafka) Notify(ctx context.Context, userID, paymentID string, ev Event) error {
	payload := payments.PaymentConfirmedPayload{PaymentID: paymentID, UserID: userID}
	if k.Lookup != nil {
		p, err := k.Lookup(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		payload.ProductID = p.ProductID
		payload.Amount = p.Amount
		payload.TxID = p.TxID
	}

	env := payments.Envelope{
		EventID:       uuid.NewString(),
		EventType:     string(ev),
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      k.Service,
		CorrelationID: paymentID,
		Payload:       kafkax.MustMarshal(payload),
	}
	return k.Producer.Publish(ctx, payments.PartitionKey(paymentID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
