// Package snalloc allocates daily-scoped ticket serial numbers of the
// form loonflow_YYYYMMDDNNNN (§6.3). The counter lives in Redis with a
// 24-hour TTL and is regenerable from the database on a cache miss
// (§6.4); a cron job clears stale keys at midnight so the TTL is a
// backstop, not the primary rollover mechanism.
package snalloc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"ticketflow/internal/logging"
	"ticketflow/internal/ticketerr"
)

const (
	snPrefix   = "loonflow_"
	counterTTL = 24 * time.Hour
)

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Allocator issues unique daily-scoped ticket SNs.
type Allocator struct {
	redis    *redis.Client
	db       *sql.DB
	now      Clock
	timezone *time.Location
	cron     *cron.Cron
}

// New builds an Allocator backed by redisClient for the hot path and
// db to reseed the day's counter on a cache miss. tz scopes "calendar
// day" to the server's configured timezone (§6.3).
func New(redisClient *redis.Client, db *sql.DB, tz *time.Location) *Allocator {
	return &Allocator{redis: redisClient, db: db, now: time.Now, timezone: tz}
}

// StartRollover registers a midnight cron job (server tz) that clears
// the previous day's counter key proactively, so the TTL-based expiry
// is never relied on under normal operation.
func (a *Allocator) StartRollover() error {
	c := cron.New(cron.WithLocation(a.timezone))
	_, err := c.AddFunc("0 0 * * *", func() {
		key := a.counterKey(a.now().In(a.timezone).AddDate(0, 0, -1))
		if err := a.redis.Del(context.Background(), key).Err(); err != nil {
			logging.Error("snalloc: rollover delete of %q failed: %v", key, err)
		}
	})
	if err != nil {
		return fmt.Errorf("register snalloc rollover: %w", err)
	}
	c.Start()
	a.cron = c
	return nil
}

// Stop halts the rollover scheduler, if running.
func (a *Allocator) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}
}

// Next allocates the next SN for "today" in the server's timezone.
// Concurrent callers never receive the same SN (§5): Redis INCR is
// atomic, and the counter is seeded from a DB count exactly once per
// day via SETNX.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	day := a.now().In(a.timezone)
	key := a.counterKey(day)

	if err := a.seedIfAbsent(ctx, key, day); err != nil {
		return "", err
	}

	n, err := a.redis.Incr(ctx, key).Result()
	if err != nil {
		return "", ticketerr.Wrap(ticketerr.UpstreamFailure, err, "allocate sn counter")
	}
	a.redis.Expire(ctx, key, counterTTL)

	if n > 9999 {
		logging.Error("snalloc: daily counter for %s exceeded 9999 (n=%d); behavior beyond this is unspecified", key, n)
	}

	return fmt.Sprintf("%s%s%04d", snPrefix, day.Format("20060102"), n), nil
}

// seedIfAbsent sets key to today's existing ticket count exactly once,
// so a cache miss (process restart, evicted key) resumes counting
// instead of restarting at 1 and risking a collision with SNs already
// issued today.
func (a *Allocator) seedIfAbsent(ctx context.Context, key string, day time.Time) error {
	dayPrefix := snPrefix + day.Format("20060102")
	var count int64
	row := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ticket_record WHERE sn LIKE ?`, dayPrefix+"%")
	if err := row.Scan(&count); err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "seed sn counter from database")
	}

	ok, err := a.redis.SetNX(ctx, key, count, counterTTL).Result()
	if err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "seed sn counter in cache")
	}
	if ok {
		logging.Debug("snalloc: seeded counter %q from database count %d", key, count)
	}
	return nil
}

func (a *Allocator) counterKey(day time.Time) string {
	return "snalloc:" + day.Format("20060102")
}
