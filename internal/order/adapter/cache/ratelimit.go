package cache

import (
	"context"
	"fmt"
	"time"

	"kitchen-ledger/internal/xpkg/logger"

	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "ratelimit:"

// Limiter is a fixed-window request counter shared by every instance
// talking to the same redis.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	mylog  logger.Logger
}

func NewLimiter(rdb redis.Cmdable, limit int, window time.Duration, mylog logger.Logger) *Limiter {
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{rdb: rdb, limit: int64(limit), window: window, mylog: mylog.Action("rate_limit")}
}

// Allow counts one request for key in the current window. Redis failures
// let the request through.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	bucket := fmt.Sprintf("%s%s:%d", rateKeyPrefix, key, time.Now().Unix()/int64(l.window.Seconds()))

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, bucket)
		p.Expire(ctx, bucket, l.window)
		return nil
	})
	if err != nil {
		l.mylog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err.Error())
		return true
	}
	return incr.Val() <= l.limit
}
