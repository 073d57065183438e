package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/ariefcatur/paygate/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// StatusCache holds views of payments that can no longer change.
type StatusCache interface {
	Get(ctx context.Context, paymentID string) (PaymentView, bool)
	Put(ctx context.Context, v PaymentView)
}

type RedisStatusCache struct {
	Redis  *redis.Client
	Logger *slog.Logger
}

func (c *RedisStatusCache) Get(ctx context.Context, paymentID string) (PaymentView, bool) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(redisx.KeyPaymentStatus, paymentID)).Bytes()
	if err != nil {
		return PaymentView{}, false
	}
	var v PaymentView
	if err := json.Unmarshal(b, &v); err != nil {
		return PaymentView{}, false
	}
	return v, true
}

func (c *RedisStatusCache) Put(ctx context.Context, v PaymentView) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.Redis.Set(ctx, fmt.Sprintf(redisx.KeyPaymentStatus, v.PaymentID), b, redisx.TTLStatusCache).Err(); err != nil && c.Logger != nil {
		c.Logger.Warn("status cache write failed", "payment_id", v.PaymentID, "err", err)
	}
}

// remember caches final views only. A confirmed payment is final once its rate
// snapshot has been recorded.
func (s *Service) remember(ctx context.Context, p payments.Payment) {
	if s.cache == nil || !p.Status.Terminal() {
		return
	}
	if p.Status == payments.StatusConfirmed && p.Rate == nil {
		return
	}
	s.cache.Put(ctx, viewOf(p))
}
