package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the PostgreSQL Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const paymentColumns = `id, product_id, seller_id, buyer_id, session_id, address_id, address, amount, status,
	expires_at, COALESCE(form_data, '{}'::jsonb), created_at, tx_id, sender,
	confirmed_at, cancelled_at, expired_at,
	rate_value::text, rate_currency, rate_provider, rate_quoted_at`

// Reserve: reap expired locks -> lock product row (FOR UPDATE) -> check window/stock/held
// locks -> resolve default address -> cancel the session's previous pending payment ->
// upsert lock + insert pending payment.
// The product row lock serializes concurrent reservations of the same product.
func (r *Repo) Reserve(ctx context.Context, in ReserveParams) (Payment, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM product_locks WHERE expires_at <= $1`, in.Now); err != nil {
		return Payment{}, fmt.Errorf("reap locks: %w", err)
	}

	var p Product
	err = tx.QueryRow(ctx, `
		SELECT id, owner_id, name, price, stock, sale_start, sale_end
		FROM products WHERE id=$1 FOR UPDATE`, in.ProductID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Price, &p.Stock, &p.SaleStart, &p.SaleEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("product %s: %w", in.ProductID, ErrNotFound)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("load product: %w", err)
	}
	if !p.OnSale(in.Now) {
		return Payment{}, ErrSaleWindowClosed
	}
	if p.Stock <= 0 {
		return Payment{}, ErrOutOfStock
	}

	// the caller's own lock is refreshed below, so it does not count against it
	var held int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM product_locks
		WHERE product_id=$1 AND session_id <> $2 AND expires_at > $3`,
		p.ID, in.SessionID, in.Now,
	).Scan(&held); err != nil {
		return Payment{}, fmt.Errorf("count locks: %w", err)
	}
	if held >= p.Stock {
		return Payment{}, ErrOutOfStock
	}

	var addrID, addr string
	err = tx.QueryRow(ctx, `SELECT id, address FROM addresses WHERE owner_id=$1 AND is_default`, p.OwnerID).Scan(&addrID, &addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNoRecipient
	}
	if err != nil {
		return Payment{}, fmt.Errorf("resolve address: %w", err)
	}

	var form []byte
	if len(in.FormData) > 0 {
		if form, err = json.Marshal(in.FormData); err != nil {
			return Payment{}, fmt.Errorf("encode form data: %w", err)
		}
	}

	// a session holds one reservation per product; the one it replaces can no longer confirm
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET status='cancelled', cancelled_at=$3
		WHERE product_id=$1 AND session_id=$2 AND status='pending'`,
		p.ID, in.SessionID, in.Now,
	); err != nil {
		return Payment{}, fmt.Errorf("cancel superseded payment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments(id, product_id, seller_id, buyer_id, session_id, address_id, address,
		                     amount, status, expires_at, form_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9,$10,$11)`,
		in.PaymentID, p.ID, p.OwnerID, in.BuyerID, in.SessionID, addrID, addr,
		p.Price, in.ExpiresAt, form, in.Now,
	); err != nil {
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO product_locks(product_id, session_id, payment_id, expires_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (product_id, session_id)
		DO UPDATE SET payment_id = EXCLUDED.payment_id, expires_at = EXCLUDED.expires_at`,
		p.ID, in.SessionID, in.PaymentID, in.ExpiresAt,
	); err != nil {
		return Payment{}, fmt.Errorf("upsert lock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}

	return Payment{
		ID:        in.PaymentID,
		ProductID: p.ID,
		SellerID:  p.OwnerID,
		BuyerID:   in.BuyerID,
		SessionID: in.SessionID,
		AddressID: addrID,
		Address:   addr,
		Amount:    p.Price,
		Status:    StatusPending,
		ExpiresAt: in.ExpiresAt,
		FormData:  in.FormData,
		CreatedAt: in.Now,
	}, nil
}

func (r *Repo) ReleaseLock(ctx context.Context, paymentID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM product_locks WHERE payment_id=$1`, paymentID)
	return err
}

func (r *Repo) ReapExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.DB.Exec(ctx, `DELETE FROM product_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) GetPayment(ctx context.Context, id string) (Payment, error) {
	p, err := scanPayment(r.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r *Repo) ListPending(ctx context.Context) ([]Payment, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+paymentColumns+` FROM payments
	                              WHERE status='pending' ORDER BY expires_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Confirm: guarded status flip -> stock decrement (stock > 0) -> drop lock -> enqueue
// side-effect tasks, all in one transaction.
func (r *Repo) Confirm(ctx context.Context, in ConfirmParams) (ConfirmResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ConfirmResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var productID string
	err = tx.QueryRow(ctx, `
		UPDATE payments SET status='confirmed', tx_id=$2, sender=$3, confirmed_at=$4
		WHERE id=$1 AND status='pending'
		RETURNING product_id`, in.PaymentID, in.TxID, in.Sender, in.At,
	).Scan(&productID)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		p, err := r.GetPayment(ctx, in.PaymentID)
		return ConfirmResult{Payment: p}, err
	}
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm payment: %w", err)
	}

	ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock - 1, updated_at = now()
	                         WHERE id=$1 AND stock > 0`, productID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("decrement stock: %w", err)
	}
	decremented := ct.RowsAffected() == 1

	if _, err := tx.Exec(ctx, `DELETE FROM product_locks WHERE payment_id=$1`, in.PaymentID); err != nil {
		return ConfirmResult{}, fmt.Errorf("release lock: %w", err)
	}

	for _, kind := range ConfirmTasks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox_tasks(payment_id, kind, next_attempt_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (payment_id, kind) DO NOTHING`, in.PaymentID, string(kind), in.At,
		); err != nil {
			return ConfirmResult{}, fmt.Errorf("enqueue %s: %w", kind, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ConfirmResult{}, err
	}

	p, err := r.GetPayment(ctx, in.PaymentID)
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Payment: p, Applied: true, StockDecremented: decremented}, nil
}

func (r *Repo) Finish(ctx context.Context, paymentID string, to Status, at time.Time) (Payment, bool, error) {
	var q string
	switch to {
	case StatusExpired:
		q = `UPDATE payments SET status='expired', expired_at=$2 WHERE id=$1 AND status='pending'`
	case StatusCancelled:
		q = `UPDATE payments SET status='cancelled', cancelled_at=$2 WHERE id=$1 AND status='pending'`
	default:
		return Payment{}, false, fmt.Errorf("finish as %s: %w", to, ErrInvalidStatus)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, q, paymentID, at)
	if err != nil {
		return Payment{}, false, fmt.Errorf("finish payment: %w", err)
	}
	applied := ct.RowsAffected() == 1
	if applied {
		if _, err := tx.Exec(ctx, `DELETE FROM product_locks WHERE payment_id=$1`, paymentID); err != nil {
			return Payment{}, false, fmt.Errorf("release lock: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Payment{}, false, err
	}

	p, err := r.GetPayment(ctx, paymentID)
	return p, applied, err
}

func (r *Repo) SaveRateSnapshot(ctx context.Context, paymentID string, snap RateSnapshot) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payments
		SET rate_value=$2::numeric, rate_currency=$3, rate_provider=$4, rate_quoted_at=$5
		WHERE id=$1 AND rate_value IS NULL`,
		paymentID, snap.Rate.String(), snap.Currency, snap.Provider, snap.QuotedAt,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ClaimTasks hides the claimed tasks from other dispatchers until now+visibility.
func (r *Repo) ClaimTasks(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]Task, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE outbox_tasks SET attempts = attempts + 1, next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_tasks
			WHERE done_at IS NULL AND next_attempt_at <= $1
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payment_id, kind, attempts, next_attempt_at, last_error, created_at`,
		now, now.Add(visibility), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var kind string
		if err := rows.Scan(&t.ID, &t.PaymentID, &kind, &t.Attempts, &t.NextAttemptAt, &t.LastError, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = TaskKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) CompleteTask(ctx context.Context, id int64) error {
	_, err := r.DB.Exec(ctx, `UPDATE outbox_tasks SET done_at = now() WHERE id=$1`, id)
	return err
}

func (r *Repo) RetryTask(ctx context.Context, id int64, at time.Time, lastErr string) error {
	_, err := r.DB.Exec(ctx, `UPDATE outbox_tasks SET next_attempt_at=$2, last_error=$3 WHERE id=$1`, id, at, lastErr)
	return err
}

func (r *Repo) AbandonTask(ctx context.Context, id int64, lastErr string) error {
	_, err := r.DB.Exec(ctx, `UPDATE outbox_tasks SET done_at = now(), abandoned = TRUE, last_error=$2
	                          WHERE id=$1`, id, lastErr)
	return err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p                                     Payment
		status                                string
		form                                  []byte
		txID, sender                          *string
		rateValue, rateCurrency, rateProvider *string
		rateQuotedAt                          *time.Time
	)
	if err := row.Scan(&p.ID, &p.ProductID, &p.SellerID, &p.BuyerID, &p.SessionID, &p.AddressID, &p.Address,
		&p.Amount, &status, &p.ExpiresAt, &form, &p.CreatedAt, &txID, &sender,
		&p.ConfirmedAt, &p.CancelledAt, &p.ExpiredAt,
		&rateValue, &rateCurrency, &rateProvider, &rateQuotedAt,
	); err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	if !p.Status.Valid() {
		return Payment{}, fmt.Errorf("payment %s: unknown status %q", p.ID, status)
	}
	if txID != nil {
		p.TxID = *txID
	}
	if sender != nil {
		p.Sender = *sender
	}
	if len(form) > 0 {
		if err := json.Unmarshal(form, &p.FormData); err != nil {
			return Payment{}, fmt.Errorf("decode form data: %w", err)
		}
		if len(p.FormData) == 0 {
			p.FormData = nil
		}
	}
	if rateValue != nil {
		rate, err := decimal.NewFromString(*rateValue)
		if err != nil {
			return Payment{}, fmt.Errorf("parse rate: %w", err)
		}
		snap := &RateSnapshot{Rate: rate}
		if rateCurrency != nil {
			snap.Currency = *rateCurrency
		}
		if rateProvider != nil {
			snap.Provider = *rateProvider
		}
		if rateQuotedAt != nil {
			snap.QuotedAt = *rateQuotedAt
		}
		p.Rate = snap
	}
	return p, nil
}
