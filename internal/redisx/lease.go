package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var acquireLeaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current == owner then
	redis.call('PEXPIRE', key, ttl)
	return 1
end
if not current then
	redis.call('SET', key, owner, 'PX', ttl)
	return 1
end
return 0
`)

var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lease is a renewable, owner-tagged lock. Holding it is advisory: callers still
// rely on idempotent writes for correctness.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func NewLease(client *redis.Client, name, owner string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: fmt.Sprintf(KeyLease, name), owner: owner, ttl: ttl}
}

// Acquire takes the lease or renews it when already held by this owner.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	return releaseLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
}
