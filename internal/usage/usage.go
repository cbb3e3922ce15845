package usage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gate enforces a per-subject monthly analysis quota backed by Redis. Only
// fresh analyses count; cache hits are free.
type Gate struct {
	rdb    *redis.Client
	limit  int
	logger *log.Logger

	// now is swapped out in tests to pin the month.
	now func() time.Time
}

// NewGate builds a usage gate. limit <= 0 disables enforcement.
func NewGate(rdb *redis.Client, limit int, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(log.Writer(), "[USAGE] ", log.LstdFlags)
	}
	return &Gate{rdb: rdb, limit: limit, logger: logger, now: time.Now}
}

func (g *Gate) key(subject string) string {
	return fmt.Sprintf("usage:%s:%s", subject, g.now().UTC().Format("2006-01"))
}

// Allow reports whether the subject has quota left this month. Redis
// failures fail open so an outage never blocks analysis.
func (g *Gate) Allow(ctx context.Context, subject string) (bool, error) {
	if g.limit <= 0 || g.rdb == nil {
		return true, nil
	}
	val, err := g.rdb.Get(ctx, g.key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		g.logger.Printf("usage lookup failed for %s, allowing: %v", subject, err)
		return true, nil
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		g.logger.Printf("corrupt usage counter for %s, allowing: %v", subject, err)
		return true, nil
	}
	return count < g.limit, nil
}

// Record increments the subject's counter for the current month. The key
// expires past the month boundary so old counters clean themselves up.
func (g *Gate) Record(ctx context.Context, subject string) error {
	if g.limit <= 0 || g.rdb == nil {
		return nil
	}
	key := g.key(subject)
	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("record usage for %s: %w", subject, err)
	}
	if count == 1 {
		// expiry only needs to outlive the month the key names
		if err := g.rdb.Expire(ctx, key, 32*24*time.Hour).Err(); err != nil {
			g.logger.Printf("failed to set expiry on %s: %v", key, err)
		}
	}
	return nil
}
