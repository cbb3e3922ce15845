package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newscheck/internal/store"
)

// Janitor prunes cached analyses past the retention window on a cron
// schedule. With Redis available it takes a distributed lock so only one
// replica prunes per window.
type Janitor struct {
	Cache     store.CacheStore
	Rdb       *redis.Client
	Retention time.Duration
	CronSpec  string
	Logger    *log.Logger

	Stop chan struct{}

	lastRun *time.Time
}

func (j *Janitor) Start() {
	if j.Logger == nil {
		j.Logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	if j.Stop == nil {
		j.Stop = make(chan struct{})
	}
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-j.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				j.tick()
			}
		}
	}()
}

func (j *Janitor) tick() {
	if j.Retention <= 0 {
		return
	}
	now := time.Now()
	if !isDue(j.CronSpec, j.lastRun, now) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.Rdb != nil {
		ok, err := j.Rdb.SetNX(ctx, "janitor:lock", "1", 5*time.Minute).Result()
		if err != nil {
			j.Logger.Printf("janitor lock failed, skipping run: %v", err)
			return
		}
		if !ok {
			return
		}
		defer j.Rdb.Del(ctx, "janitor:lock")
	}

	j.lastRun = &now
	removed, err := j.Cache.DeleteOlderThan(ctx, now.Add(-j.Retention))
	if err != nil {
		j.Logger.Printf("prune failed: %v", err)
		return
	}
	if removed > 0 {
		j.Logger.Printf("pruned %d stale analyses", removed)
	}
}

// isDue reports whether a 5-field cron expression has a fire time between
// the last run and now. A missing or invalid spec falls back to daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	}
	if last == nil {
		return true
	}
	next := expr.Next(*last)
	return !next.IsZero() && !next.After(now)
}
