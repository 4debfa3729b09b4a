package throttle

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Throttler allows one event per key per interval across all processes.
// Events over the limit are dropped, never queued.
type Throttler struct {
	log      *log.Logger
	rdb      *redis.Client
	prefix   string
	interval time.Duration
}

func New(logger *log.Logger, rdb *redis.Client, prefix string, interval time.Duration) *Throttler {
	return &Throttler{
		log:      logger,
		rdb:      rdb,
		prefix:   prefix,
		interval: interval,
	}
}

// Allow reports whether the event for key may be emitted. When redis is
// unavailable the event is allowed.
func (t *Throttler) Allow(ctx context.Context, key string) bool {
	if t.interval <= 0 {
		return true
	}

	ok, err := t.rdb.SetNX(ctx, t.prefix+":"+key, 1, t.interval).Result()
	if err != nil {
		t.log.Printf("throttle: %s: %v", key, err)
		return true
	}
	return ok
}
