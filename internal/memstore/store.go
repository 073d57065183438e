// Package memstore is an in-memory payments.Store. A single mutex makes every
// operation a serializable transaction, which is what the Postgres store gets from
// its row locks and guarded updates.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/paygate/internal/payments"
)

type lockKey struct {
	productID string
	sessionID string
}

type taskRow struct {
	task      payments.Task
	done      bool
	abandoned bool
}

type Store struct {
	mu        sync.Mutex
	products  map[string]payments.Product
	addresses map[string]payments.Address
	locks     map[lockKey]payments.ProductLock
	payments  map[string]payments.Payment
	tasks     []*taskRow
	nextTask  int64
}

var _ payments.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:  make(map[string]payments.Product),
		addresses: make(map[string]payments.Address),
		locks:     make(map[lockKey]payments.ProductLock),
		payments:  make(map[string]payments.Payment),
	}
}

func (s *Store) PutProduct(p payments.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutAddress(a payments.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[a.ID] = a
}

// PutPayment inserts a payment as-is; used to seed state in tests.
func (s *Store) PutPayment(p payments.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = clonePayment(p)
}

func (s *Store) Product(id string) (payments.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// Locks returns the current locks of a product, expired ones included.
func (s *Store) Locks(productID string) []payments.ProductLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payments.ProductLock
	for k, l := range s.locks {
		if k.productID == productID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Tasks returns the outbox, completed tasks included.
func (s *Store) Tasks() []payments.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payments.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.task)
	}
	return out
}

// PendingTasks counts tasks that are neither completed nor abandoned.
func (s *Store) PendingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

func (s *Store) Reserve(ctx context.Context, in payments.ReserveParams) (payments.Payment, error) {
	if err := ctx.Err(); err != nil {
		return payments.Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked(in.Now)

	p, ok := s.products[in.ProductID]
	if !ok {
		return payments.Payment{}, fmt.Errorf("product %s: %w", in.ProductID, payments.ErrNotFound)
	}
	if !p.OnSale(in.Now) {
		return payments.Payment{}, payments.ErrSaleWindowClosed
	}
	if p.Stock <= 0 {
		return payments.Payment{}, payments.ErrOutOfStock
	}

	held := 0
	for k, l := range s.locks {
		if k.productID == p.ID && k.sessionID != in.SessionID && l.ExpiresAt.After(in.Now) {
			held++
		}
	}
	if held >= p.Stock {
		return payments.Payment{}, payments.ErrOutOfStock
	}

	addr, ok := s.defaultAddressLocked(p.OwnerID)
	if !ok {
		return payments.Payment{}, payments.ErrNoRecipient
	}

	for id, old := range s.payments {
		if old.ProductID == p.ID && old.SessionID == in.SessionID && old.Status == payments.StatusPending {
			at := in.Now
			old.Status = payments.StatusCancelled
			old.CancelledAt = &at
			s.payments[id] = old
		}
	}

	pay := payments.Payment{
		ID:        in.PaymentID,
		ProductID: p.ID,
		SellerID:  p.OwnerID,
		BuyerID:   in.BuyerID,
		SessionID: in.SessionID,
		AddressID: addr.ID,
		Address:   addr.Address,
		Amount:    p.Price,
		Status:    payments.StatusPending,
		ExpiresAt: in.ExpiresAt,
		FormData:  maps.Clone(in.FormData),
		CreatedAt: in.Now,
	}
	s.payments[pay.ID] = pay
	s.locks[lockKey{p.ID, in.SessionID}] = payments.ProductLock{
		ProductID: p.ID,
		SessionID: in.SessionID,
		PaymentID: pay.ID,
		ExpiresAt: in.ExpiresAt,
	}
	return clonePayment(pay), nil
}

func (s *Store) ReleaseLock(ctx context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(paymentID)
	return nil
}

func (s *Store) ReapExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapLocked(now), nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payments.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return payments.Payment{}, fmt.Errorf("payment %s: %w", id, payments.ErrNotFound)
	}
	return clonePayment(p), nil
}

func (s *Store) ListPending(ctx context.Context) ([]payments.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payments.Payment
	for _, p := range s.payments {
		if p.Status == payments.StatusPending {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (s *Store) Confirm(ctx context.Context, in payments.ConfirmParams) (payments.ConfirmResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[in.PaymentID]
	if !ok {
		return payments.ConfirmResult{}, fmt.Errorf("payment %s: %w", in.PaymentID, payments.ErrNotFound)
	}
	if p.Status != payments.StatusPending {
		return payments.ConfirmResult{Payment: clonePayment(p)}, nil
	}

	at := in.At
	p.Status = payments.StatusConfirmed
	p.TxID = in.TxID
	p.Sender = in.Sender
	p.ConfirmedAt = &at
	s.payments[p.ID] = p

	decremented := false
	if prod, ok := s.products[p.ProductID]; ok && prod.Stock > 0 {
		prod.Stock--
		s.products[prod.ID] = prod
		decremented = true
	}

	s.releaseLocked(p.ID)

	for _, kind := range payments.ConfirmTasks {
		s.enqueueLocked(p.ID, kind, in.At)
	}
	return payments.ConfirmResult{Payment: clonePayment(p), Applied: true, StockDecremented: decremented}, nil
}

func (s *Store) Finish(ctx context.Context, paymentID string, to payments.Status, at time.Time) (payments.Payment, bool, error) {
	if to != payments.StatusExpired && to != payments.StatusCancelled {
		return payments.Payment{}, false, fmt.Errorf("finish as %s: %w", to, payments.ErrInvalidStatus)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return payments.Payment{}, false, fmt.Errorf("payment %s: %w", paymentID, payments.ErrNotFound)
	}
	if !payments.CanTransition(p.Status, to) {
		return clonePayment(p), false, nil
	}
	p.Status = to
	if to == payments.StatusExpired {
		p.ExpiredAt = &at
	} else {
		p.CancelledAt = &at
	}
	s.payments[p.ID] = p
	s.releaseLocked(p.ID)
	return clonePayment(p), true, nil
}

func (s *Store) SaveRateSnapshot(ctx context.Context, paymentID string, snap payments.RateSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return false, fmt.Errorf("payment %s: %w", paymentID, payments.ErrNotFound)
	}
	if p.Rate != nil {
		return false, nil
	}
	p.Rate = &snap
	s.payments[p.ID] = p
	return true, nil
}

func (s *Store) ClaimTasks(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]payments.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payments.Task
	for _, t := range s.tasks {
		if len(out) >= limit {
			break
		}
		if t.done || t.task.NextAttemptAt.After(now) {
			continue
		}
		t.task.Attempts++
		t.task.NextAttemptAt = now.Add(visibility)
		out = append(out, t.task)
	}
	return out, nil
}

func (s *Store) CompleteTask(ctx context.Context, id int64) error {
	return s.updateTask(id, func(t *taskRow) { t.done = true })
}

func (s *Store) RetryTask(ctx context.Context, id int64, at time.Time, lastErr string) error {
	return s.updateTask(id, func(t *taskRow) {
		t.task.NextAttemptAt = at
		t.task.LastError = lastErr
	})
}

func (s *Store) AbandonTask(ctx context.Context, id int64, lastErr string) error {
	return s.updateTask(id, func(t *taskRow) {
		t.done = true
		t.abandoned = true
		t.task.LastError = lastErr
	})
}

func (s *Store) updateTask(id int64, fn func(*taskRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.task.ID == id {
			fn(t)
			return nil
		}
	}
	return fmt.Errorf("task %d: %w", id, payments.ErrNotFound)
}

func (s *Store) enqueueLocked(paymentID string, kind payments.TaskKind, at time.Time) {
	for _, t := range s.tasks {
		if t.task.PaymentID == paymentID && t.task.Kind == kind {
			return
		}
	}
	s.nextTask++
	s.tasks = append(s.tasks, &taskRow{task: payments.Task{
		ID:            s.nextTask,
		PaymentID:     paymentID,
		Kind:          kind,
		NextAttemptAt: at,
		CreatedAt:     at,
	}})
}

func (s *Store) reapLocked(now time.Time) int64 {
	var n int64
	for k, l := range s.locks {
		if !l.ExpiresAt.After(now) {
			delete(s.locks, k)
			n++
		}
	}
	return n
}

func (s *Store) releaseLocked(paymentID string) {
	for k, l := range s.locks {
		if l.PaymentID == paymentID {
			delete(s.locks, k)
		}
	}
}

func (s *Store) defaultAddressLocked(ownerID string) (payments.Address, bool) {
	for _, a := range s.addresses {
		if a.OwnerID == ownerID && a.IsDefault {
			return a, true
		}
	}
	return payments.Address{}, false
}

func clonePayment(p payments.Payment) payments.Payment {
	p.FormData = maps.Clone(p.FormData)
	if p.Rate != nil {
		r := *p.Rate
		p.Rate = &r
	}
	return p
}
