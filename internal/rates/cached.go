package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/paygate/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Cached keeps quotes from Next in Redis for TTL. A Redis failure falls through
// to Next; it never fails the lookup by itself.
type Cached struct {
	Next   Provider
	Redis  *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

func (c *Cached) GetRate(ctx context.Context, base, quote string) (Quote, error) {
	key := fmt.Sprintf(redisx.KeyRate, strings.ToUpper(base), strings.ToUpper(quote))

	raw, err := c.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q Quote
		if err := json.Unmarshal(raw, &q); err == nil {
			return q, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger().Warn("rate cache read failed", "key", key, "err", err)
	}

	q, err := c.Next.GetRate(ctx, base, quote)
	if err != nil {
		return Quote{}, err
	}
	if b, err := json.Marshal(q); err == nil {
		if err := c.Redis.Set(ctx, key, b, c.TTL).Err(); err != nil {
			c.logger().Warn("rate cache write failed", "key", key, "err", err)
		}
	}
	return q, nil
}

func (c *Cached) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
