// Package reconcile matches pending payments against the ledger.
//
// Every tick the loop reloads the pending payments from the store, asks the
// ledger about each one outside of any transaction, and confirms or expires it
// through the checkout service. The store is the source of truth; the in-memory
// working set is rebuilt from it on start and on every sweep, so a restart loses
// nothing. One payment failing never stops the sweep for the others.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/paygate/internal/checkout"
	"github.com/ariefcatur/paygate/internal/ledger"
	"github.com/ariefcatur/paygate/internal/notify"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/ariefcatur/paygate/internal/rates"
)

// Lease gates the ledger sweep when several processes run the loop.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Config struct {
	Interval        time.Duration
	LedgerTimeout   time.Duration
	TaskBatch       int
	TaskVisibility  time.Duration
	TaskMaxAttempts int
	TaskBackoff     time.Duration
	// Asset/QuoteCurrency form the pair captured in the rate snapshot.
	Asset         string
	QuoteCurrency string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 5 * time.Second
	}
	if c.TaskBatch <= 0 {
		c.TaskBatch = 50
	}
	if c.TaskVisibility <= 0 {
		c.TaskVisibility = time.Minute
	}
	if c.TaskMaxAttempts <= 0 {
		c.TaskMaxAttempts = 10
	}
	if c.TaskBackoff <= 0 {
		c.TaskBackoff = 30 * time.Second
	}
	return c
}

type SweepStats struct {
	Checked   int
	Confirmed int
	Expired   int
	Failed    int
	Tasks     int
	Skipped   bool // another instance holds the lease
}

type Loop struct {
	svc      *checkout.Service
	store    payments.Store
	ledger   ledger.Client
	rates    rates.Provider
	notifier notify.Notifier
	lease    Lease
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	working map[string]payments.Payment

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Loop)

func WithRates(p rates.Provider) Option { return func(l *Loop) { l.rates = p } }

func WithNotifier(n notify.Notifier) Option { return func(l *Loop) { l.notifier = n } }

func WithLease(le Lease) Option { return func(l *Loop) { l.lease = le } }

func WithLogger(lg *slog.Logger) Option { return func(l *Loop) { l.logger = lg } }

func New(svc *checkout.Service, store payments.Store, client ledger.Client, cfg Config, opts ...Option) (*Loop, error) {
	if svc == nil || store == nil || client == nil {
		return nil, errors.New("reconcile: service, store and ledger client required")
	}
	l := &Loop{
		svc:     svc,
		store:   store,
		ledger:  client,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		working: make(map[string]payments.Payment),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Start seeds the working set with every pending payment and begins sweeping.
func (l *Loop) Start(ctx context.Context) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.done != nil {
		return errors.New("reconcile: already started")
	}
	if err := l.refresh(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.logger.Info("reconciliation started", "pending", len(l.Pending()), "interval", l.cfg.Interval)
	go l.run(runCtx, l.done)
	return nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		l.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown stops the timer and waits for the running sweep. Product locks are
// left in place so in-flight reservations survive a restart.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.runMu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if l.lease != nil {
		if err := l.lease.Release(ctx); err != nil {
			l.logger.Warn("lease release failed", "err", err)
		}
	}
	l.logger.Info("reconciliation stopped")
	return nil
}

// Pending lists the ids in the working set.
func (l *Loop) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.working))
	for id := range l.working {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep runs one reconciliation pass followed by one task dispatch pass.
func (l *Loop) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	if l.holdsLease(ctx) {
		l.sweepPayments(ctx, &stats)
	} else {
		stats.Skipped = true
	}
	l.dispatch(ctx, &stats)

	if stats.Checked > 0 || stats.Tasks > 0 {
		l.logger.Debug("sweep done", "checked", stats.Checked, "confirmed", stats.Confirmed,
			"expired", stats.Expired, "failed", stats.Failed, "tasks", stats.Tasks)
	}
	return stats
}

func (l *Loop) holdsLease(ctx context.Context) bool {
	if l.lease == nil {
		return true
	}
	ok, err := l.lease.Acquire(ctx)
	if err != nil {
		l.logger.Warn("lease acquire failed", "err", err)
		return false
	}
	return ok
}

func (l *Loop) sweepPayments(ctx context.Context, stats *SweepStats) {
	if n, err := l.store.ReapExpiredLocks(ctx, l.svc.Now()); err != nil {
		l.logger.Warn("reap locks failed", "err", err)
	} else if n > 0 {
		l.logger.Debug("reaped expired locks", "count", n)
	}
	if err := l.refresh(ctx); err != nil {
		// keep going with the previous working set
		l.logger.Warn("reload pending failed", "err", err)
	}

	for _, p := range l.snapshot() {
		if ctx.Err() != nil {
			return
		}
		stats.Checked++
		l.reconcileOne(ctx, p, stats)
	}
}

func (l *Loop) reconcileOne(ctx context.Context, p payments.Payment, stats *SweepStats) {
	log := l.logger.With("payment_id", p.ID)

	qctx, cancel := context.WithTimeout(ctx, l.cfg.LedgerTimeout)
	tr, err := l.ledger.FindConfirmedTransfer(qctx, p.Address, p.Amount, p.ID)
	cancel()
	if err != nil {
		// no transition on an unanswered query, not even expiry
		stats.Failed++
		log.Warn("ledger query failed", "err", err)
		return
	}

	var np payments.Payment
	if tr != nil {
		np, err = l.svc.Confirm(ctx, p.ID, tr.TransactionID, tr.SenderAddress)
		if err == nil && np.Status == payments.StatusConfirmed && np.TxID == tr.TransactionID {
			stats.Confirmed++
		}
	} else {
		np, err = l.svc.ExpireIfPast(ctx, p)
		if err == nil && np.Status == payments.StatusExpired {
			stats.Expired++
		}
	}
	if err != nil {
		stats.Failed++
		log.Warn("transition failed", "err", err)
		return
	}
	l.track(np)
}

func (l *Loop) refresh(ctx context.Context) error {
	pending, err := l.store.ListPending(ctx)
	if err != nil {
		return err
	}
	working := make(map[string]payments.Payment, len(pending))
	for _, p := range pending {
		working[p.ID] = p
	}
	l.mu.Lock()
	l.working = working
	l.mu.Unlock()
	return nil
}

func (l *Loop) snapshot() []payments.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]payments.Payment, 0, len(l.working))
	for _, p := range l.working {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (l *Loop) track(p payments.Payment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Status == payments.StatusPending {
		l.working[p.ID] = p
		return
	}
	delete(l.working, p.ID)
}
