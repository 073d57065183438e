package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded(stock int) *Store {
	s := New()
	s.PutAddress(payments.Address{ID: "addr-1", OwnerID: "seller", Address: "nano_s", IsDefault: true})
	s.PutProduct(payments.Product{ID: "prod", OwnerID: "seller", Price: 100, Stock: stock})
	return s
}

func reserve(t *testing.T, s *Store, session, id string, now time.Time) payments.Payment {
	t.Helper()
	p, err := s.Reserve(context.Background(), payments.ReserveParams{
		ProductID: "prod", SessionID: session, PaymentID: id,
		FormData: map[string]string{"k": "v"}, Now: now, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	return p
}

func TestReserve_ReturnsCopies(t *testing.T) {
	s := seeded(1)
	p := reserve(t, s, "sess", "pay-1", t0)
	p.FormData["k"] = "mutated"

	got, err := s.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "v", got.FormData["k"])
}

func TestReapExpiredLocks(t *testing.T) {
	s := seeded(2)
	reserve(t, s, "a", "pay-1", t0)
	reserve(t, s, "b", "pay-2", t0.Add(30*time.Second))

	n, err := s.ReapExpiredLocks(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, s.Locks("prod"), 1)
	assert.Equal(t, "pay-2", s.Locks("prod")[0].PaymentID)
}

func TestListPending_OrderedByExpiry(t *testing.T) {
	s := seeded(3)
	reserve(t, s, "a", "pay-late", t0.Add(time.Second))
	reserve(t, s, "b", "pay-early", t0)
	_, _, err := s.Finish(context.Background(), "pay-late", payments.StatusCancelled, t0)
	require.NoError(t, err)
	reserve(t, s, "c", "pay-mid", t0.Add(time.Millisecond))

	pending, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "pay-early", pending[0].ID)
	assert.Equal(t, "pay-mid", pending[1].ID)
}

func TestFinish_RejectsConfirmedTarget(t *testing.T) {
	s := seeded(1)
	reserve(t, s, "a", "pay-1", t0)
	_, _, err := s.Finish(context.Background(), "pay-1", payments.StatusConfirmed, t0)
	assert.ErrorIs(t, err, payments.ErrInvalidStatus)
}

func TestClaimTasks_LimitAndVisibility(t *testing.T) {
	s := seeded(5)
	ctx := context.Background()
	for _, id := range []string{"pay-1", "pay-2"} {
		reserve(t, s, id, id, t0)
		_, err := s.Confirm(ctx, payments.ConfirmParams{PaymentID: id, TxID: "tx-" + id, At: t0})
		require.NoError(t, err)
	}
	total := 2 * len(payments.ConfirmTasks)

	first, err := s.ClaimTasks(ctx, t0, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	rest, err := s.ClaimTasks(ctx, t0, 100, time.Minute)
	require.NoError(t, err)
	assert.Len(t, rest, total-1)

	none, err := s.ClaimTasks(ctx, t0.Add(59*time.Second), 100, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.CompleteTask(ctx, first[0].ID))
	again, err := s.ClaimTasks(ctx, t0.Add(time.Minute), 100, time.Minute)
	require.NoError(t, err)
	assert.Len(t, again, total-1)
	assert.Equal(t, total-1, s.PendingTasks())

	assert.ErrorIs(t, s.CompleteTask(ctx, 999), payments.ErrNotFound)
}
