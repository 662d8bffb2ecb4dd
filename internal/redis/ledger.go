package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
)

// shouldFireScript records the firing time for a key unless it already fired
// less than window ago. Check and set happen atomically, so two scheduler
// processes sharing Redis cannot both fire the same alert.
//
// KEYS[1] = ledger key, ARGV[1] = firing time (unix ms), ARGV[2] = window (ms)
var shouldFireScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and (tonumber(ARGV[1]) - tonumber(last)) < tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// FiringLedger tracks "(type, entity) -> last fired" in Redis.
type FiringLedger struct {
	client *Client
	logger *zap.Logger
}

// NewFiringLedger creates a ledger on top of an established client.
func NewFiringLedger(client *Client, logger *zap.Logger) *FiringLedger {
	return &FiringLedger{
		client: client,
		logger: logger,
	}
}

func (l *FiringLedger) buildKey(key db.FireKey) string {
	return "lifecycle:fired:" + key.String()
}

// ShouldFire reports whether the alert for key may be raised at the given time,
// and if so records it as fired. A second call inside window returns false.
func (l *FiringLedger) ShouldFire(ctx context.Context, key db.FireKey, at time.Time, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	fired, err := shouldFireScript.Run(ctx, l.client.rdb,
		[]string{l.buildKey(key)},
		at.UnixMilli(),
		window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis ledger check failed: %w", err)
	}

	if fired == 0 {
		l.logger.Debug("alert suppressed by ledger", zap.String("key", key.String()))
	}

	return fired == 1, nil
}

// Release forgets a firing so the next tick can retry, used when the
// notification could not be written after ShouldFire reserved the key.
func (l *FiringLedger) Release(ctx context.Context, key db.FireKey) error {
	if err := l.client.rdb.Del(ctx, l.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis ledger release failed: %w", err)
	}
	return nil
}

// LastFired returns when key last fired, if it is still remembered.
func (l *FiringLedger) LastFired(ctx context.Context, key db.FireKey) (time.Time, bool, error) {
	val, err := l.client.rdb.Get(ctx, l.buildKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid ledger entry %q: %w", val, err)
	}

	return time.UnixMilli(ms), true, nil
}
