package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/paygate/internal/kafka"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/ariefcatur/paygate/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Index is a Client over transfers observed by the chain indexer. Observations
// arrive on Kafka and are kept in Redis hashes keyed by recipient address and tag.
type Index struct {
	Redis            *redis.Client
	MinConfirmations int
	Logger           *slog.Logger
}

var _ Client = (*Index)(nil)

func NewIndex(rdb *redis.Client, minConfs int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{Redis: rdb, MinConfirmations: minConfs, Logger: logger}
}

// recordTransferScript stores an observation unless the stored one for the same
// transaction already has more confirmations, so redeliveries in any order are safe.
var recordTransferScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
	local ok, old = pcall(cjson.decode, cur)
	if ok and tonumber(old['confirmations'] or 0) > tonumber(ARGV[3]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[4])
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// Record stores an observation. It is idempotent: recording the same transfer
// again keeps the highest confirmation count seen.
func (ix *Index) Record(ctx context.Context, t payments.TransferObservedPayload) error {
	if t.TxID == "" || t.To == "" {
		return fmt.Errorf("transfer %q: %w", t.TxID, payments.ErrInvalidInput)
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(redisx.KeyTransfers, t.To, t.Message)
	return recordTransferScript.Run(ctx, ix.Redis, []string{key},
		t.TxID, b, t.Confirmations, redisx.TTLTransfers.Milliseconds()).Err()
}

func (ix *Index) FindConfirmedTransfer(ctx context.Context, address string, amount int64, tag string) (*Transfer, error) {
	key := fmt.Sprintf(redisx.KeyTransfers, address, tag)
	vals, err := ix.Redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read transfers: %w", err)
	}

	var best *payments.TransferObservedPayload
	for txID, raw := range vals {
		var t payments.TransferObservedPayload
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			ix.Logger.Warn("skip undecodable transfer", "tx_id", txID, "err", err)
			continue
		}
		if t.Amount != amount || t.Message != tag || t.Confirmations < ix.MinConfirmations {
			continue
		}
		if best == nil || t.ObservedAt.Before(best.ObservedAt) ||
			(t.ObservedAt.Equal(best.ObservedAt) && t.TxID < best.TxID) {
			tt := t
			best = &tt
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Transfer{TransactionID: best.TxID, SenderAddress: best.From}, nil
}

// HandleTransferObserved is the Kafka consumer handler for TopicTransfersObserved.
// Redeliveries simply record the transfer again.
func (ix *Index) HandleTransferObserved(ctx context.Context, m kafkago.Message) error {
	var env payments.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// undecodable messages are committed and skipped
		ix.Logger.Error("drop undecodable envelope", "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != payments.EventTransferObserved {
		return nil
	}

	t, err := kafkax.UnwrapPayload[payments.TransferObservedPayload](env.Payload)
	if err != nil {
		ix.Logger.Error("drop undecodable transfer", "event_id", env.EventID, "err", err)
		return nil
	}
	if t.ObservedAt.IsZero() {
		t.ObservedAt = env.OccurredAt
	}
	if err := ix.Record(ctx, t); err != nil {
		if errors.Is(err, payments.ErrInvalidInput) {
			ix.Logger.Warn("drop invalid transfer", "event_id", env.EventID, "err", err)
			return nil
		}
		return err
	}
	ix.Logger.Debug("transfer recorded", "tx_id", t.TxID, "to", t.To, "tag", t.Message, "confs", t.Confirmations)
	return nil
}
