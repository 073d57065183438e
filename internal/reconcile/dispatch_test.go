package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/paygate/internal/notify"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/ariefcatur/paygate/internal/rates"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRates struct{ calls int }

func (r *failingRates) GetRate(ctx context.Context, base, quote string) (rates.Quote, error) {
	r.calls++
	return rates.Quote{}, errors.New("provider unavailable")
}

type brokerDown struct{ calls int }

func (b *brokerDown) Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error {
	b.calls++
	return errors.New("kafka write: dial tcp: connection refused")
}

func confirmDirect(t *testing.T, f *fixture, session string) string {
	t.Helper()
	res := f.reserve(t, session)
	_, err := f.svc.Confirm(context.Background(), res.PaymentID, "tx-"+session, "nano_buyer")
	require.NoError(t, err)
	return res.PaymentID
}

func TestDispatch_RetriesFailedNotification(t *testing.T) {
	f := newFixture(t, 1, Config{TaskBackoff: time.Minute})
	f.notifier.failLeft = 1
	ctx := context.Background()
	id := confirmDirect(t, f, "sess-a")

	stats := f.loop.Sweep(ctx)
	assert.Equal(t, 2, stats.Tasks)
	assert.Equal(t, 1, f.store.PendingTasks(), "notification left for retry")
	require.NotNil(t, f.status(t, id).Rate, "rate snapshot succeeded independently")

	// not due yet
	stats = f.loop.Sweep(ctx)
	assert.Zero(t, stats.Tasks)

	f.clock.Advance(time.Minute)
	stats = f.loop.Sweep(ctx)
	assert.Equal(t, 1, stats.Tasks)
	assert.Zero(t, f.store.PendingTasks())
	assert.Len(t, f.notifier.Calls(), 2)
}

func TestDispatch_AbandonsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, 1, Config{TaskMaxAttempts: 2, TaskBackoff: time.Minute})
	f.notifier.failLeft = -1
	ctx := context.Background()
	id := confirmDirect(t, f, "sess-a")

	f.loop.Sweep(ctx)
	f.clock.Advance(time.Minute)
	f.loop.Sweep(ctx)
	assert.Zero(t, f.store.PendingTasks())

	f.clock.Advance(time.Hour)
	stats := f.loop.Sweep(ctx)
	assert.Zero(t, stats.Tasks)
	assert.Len(t, f.notifier.Calls(), 2)

	var notifyTask payments.Task
	for _, task := range f.store.Tasks() {
		if task.Kind == payments.TaskNotifyConfirmed {
			notifyTask = task
		}
	}
	assert.Equal(t, id, notifyTask.PaymentID)
	assert.Equal(t, 2, notifyTask.Attempts)
	assert.Contains(t, notifyTask.LastError, "smtp down")

	// the payment itself is untouched by notification failures
	assert.Equal(t, payments.StatusConfirmed, f.status(t, id).Status)
}

func TestDispatch_RateFailureKeepsConfirmation(t *testing.T) {
	provider := &failingRates{}
	f := newFixture(t, 1, Config{TaskBackoff: time.Minute}, WithRates(provider))
	ctx := context.Background()
	id := confirmDirect(t, f, "sess-a")

	f.loop.Sweep(ctx)
	assert.Equal(t, 1, provider.calls)

	p := f.status(t, id)
	assert.Equal(t, payments.StatusConfirmed, p.Status)
	assert.Nil(t, p.Rate)
	assert.Equal(t, 1, f.store.PendingTasks())
}

func TestDispatch_ExpiredClaimIsRetried(t *testing.T) {
	f := newFixture(t, 1, Config{TaskVisibility: time.Minute})
	ctx := context.Background()
	confirmDirect(t, f, "sess-a")

	// a dispatcher that claimed and crashed before finishing
	claimed, err := f.store.ClaimTasks(ctx, f.clock.Now(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	stats := f.loop.Sweep(ctx)
	assert.Zero(t, stats.Tasks)

	f.clock.Advance(time.Minute)
	stats = f.loop.Sweep(ctx)
	assert.Equal(t, 2, stats.Tasks)
	assert.Zero(t, f.store.PendingTasks())
}

func TestDispatch_SnapshotNotOverwritten(t *testing.T) {
	f := newFixture(t, 1, Config{})
	ctx := context.Background()
	id := confirmDirect(t, f, "sess-a")
	f.loop.Sweep(ctx)
	first := f.status(t, id).Rate
	require.NotNil(t, first)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.loop.captureRate(ctx, id))
	assert.Equal(t, first.QuotedAt, f.status(t, id).Rate.QuotedAt)
}

func TestDispatch_KafkaWriteErrorIsRetried(t *testing.T) {
	broker := &brokerDown{}
	f := newFixture(t, 1, Config{TaskBackoff: time.Minute},
		WithNotifier(&notify.Kafka{Producer: broker, Service: "paygate"}))
	ctx := context.Background()
	id := confirmDirect(t, f, "sess-a")

	f.loop.Sweep(ctx)
	assert.Equal(t, 1, broker.calls)
	assert.Equal(t, 1, f.store.PendingTasks(), "undelivered notification stays queued")

	var notifyTask payments.Task
	for _, task := range f.store.Tasks() {
		if task.Kind == payments.TaskNotifyConfirmed {
			notifyTask = task
		}
	}
	assert.Equal(t, id, notifyTask.PaymentID)
	assert.Contains(t, notifyTask.LastError, "connection refused")
}
