package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/paygate/internal/notify"
	"github.com/ariefcatur/paygate/internal/payments"
)

// dispatch runs the side effects queued by confirmations. Tasks are claimed with a
// visibility timeout, so dispatchers in several processes do not collide.
func (l *Loop) dispatch(ctx context.Context, stats *SweepStats) {
	now := l.svc.Now()
	tasks, err := l.store.ClaimTasks(ctx, now, l.cfg.TaskBatch, l.cfg.TaskVisibility)
	if err != nil {
		l.logger.Warn("claim tasks failed", "err", err)
		return
	}

	for _, t := range tasks {
		stats.Tasks++
		log := l.logger.With("task_id", t.ID, "payment_id", t.PaymentID, "kind", t.Kind, "attempt", t.Attempts)

		runErr := l.runTask(ctx, t)
		switch {
		case runErr == nil:
			err = l.store.CompleteTask(ctx, t.ID)
		case t.Attempts >= l.cfg.TaskMaxAttempts:
			log.Error("task abandoned, needs manual follow-up", "err", runErr)
			err = l.store.AbandonTask(ctx, t.ID, runErr.Error())
		default:
			log.Warn("task failed, will retry", "err", runErr)
			next := now.Add(time.Duration(t.Attempts) * l.cfg.TaskBackoff)
			err = l.store.RetryTask(ctx, t.ID, next, runErr.Error())
		}
		if err != nil {
			log.Warn("task bookkeeping failed", "err", err)
		}
	}
}

func (l *Loop) runTask(ctx context.Context, t payments.Task) error {
	switch t.Kind {
	case payments.TaskRateSnapshot:
		return l.captureRate(ctx, t.PaymentID)
	case payments.TaskNotifyConfirmed:
		return l.notifyConfirmed(ctx, t.PaymentID)
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

func (l *Loop) captureRate(ctx context.Context, paymentID string) error {
	if l.rates == nil {
		return nil
	}
	q, err := l.rates.GetRate(ctx, l.cfg.Asset, l.cfg.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("get rate: %w", err)
	}
	saved, err := l.store.SaveRateSnapshot(ctx, paymentID, payments.RateSnapshot{
		Rate:     q.Rate,
		Currency: q.Quote,
		Provider: q.Provider,
		QuotedAt: q.At,
	})
	if err != nil {
		return fmt.Errorf("save rate: %w", err)
	}
	if saved {
		l.logger.Debug("rate snapshot saved", "payment_id", paymentID, "rate", q.Rate.String(), "provider", q.Provider)
	}
	return nil
}

func (l *Loop) notifyConfirmed(ctx context.Context, paymentID string) error {
	if l.notifier == nil {
		return nil
	}
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	return l.notifier.Notify(ctx, p.SellerID, p.ID, notify.EventPaymentConfirmed)
}
