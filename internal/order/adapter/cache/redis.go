package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	orderKeyPrefix = "order:"
	genKeyPrefix   = "order:gen:"
	// genTTL must outlive any store read between Generation and Set.
	genTTL = 24 * time.Hour
)

// setIfGeneration writes the snapshot only while the generation is the one
// the reader saw before its store read.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Connect opens a redis client and checks it with PING.
func Connect(ctx context.Context, cfg *config.Redis, mylog logger.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	mylog.Action("redis_connected").Debug("Redis client ready", "addr", cfg.Addr)
	return rdb, nil
}

// Orders caches order snapshots by id. Redis failures degrade to misses.
type Orders struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	mylog logger.Logger
}

var _ core.IOrderCache = (*Orders)(nil)

func NewOrders(rdb redis.Cmdable, ttl time.Duration, mylog logger.Logger) *Orders {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Orders{rdb: rdb, ttl: ttl, mylog: mylog.Action("order_cache")}
}

func (c *Orders) Get(ctx context.Context, id string) (models.Order, bool) {
	data, err := c.rdb.Get(ctx, orderKeyPrefix+id).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.mylog.Warn("cache read failed", "order_id", id, "error", err.Error())
		}
		return models.Order{}, false
	}
	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return models.Order{}, false
	}
	return order, true
}

func (c *Orders) Generation(ctx context.Context, id string) (int64, bool) {
	gen, err := c.rdb.Get(ctx, genKeyPrefix+id).Int64()
	switch {
	case err == nil:
		return gen, true
	case err == redis.Nil:
		return 0, true
	default:
		c.mylog.Warn("cache generation read failed", "order_id", id, "error", err.Error())
		return 0, false
	}
}

// Set stores order unless the order was invalidated after gen was read.
func (c *Orders) Set(ctx context.Context, order models.Order, gen int64) {
	data, err := json.Marshal(order)
	if err != nil {
		return
	}
	keys := []string{orderKeyPrefix + order.ID, genKeyPrefix + order.ID}
	stored, err := setIfGeneration.Run(ctx, c.rdb, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.mylog.Warn("cache write failed", "order_id", order.ID, "error", err.Error())
		return
	}
	if stored == 0 {
		c.mylog.Debug("stale snapshot not cached", "order_id", order.ID, "generation", gen)
	}
}

// Invalidate bumps the generation and drops the snapshot in one MULTI.
func (c *Orders) Invalidate(ctx context.Context, id string) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKeyPrefix+id)
		pipe.Expire(ctx, genKeyPrefix+id, genTTL)
		pipe.Del(ctx, orderKeyPrefix+id)
		return nil
	})
	if err != nil {
		c.mylog.Warn("cache invalidate failed", "order_id", id, "error", err.Error())
	}
}
