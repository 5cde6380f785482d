// Package rediscache wraps a market.PriceSource with a Redis cache, so reruns on
// the same day do not hit the upstream API again.
package rediscache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"eom_fund/internal/market"
	"eom_fund/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "eom_fund:history:"

// DefaultTTL keeps a day's fetch around past the close of the next session.
const DefaultTTL = 36 * time.Hour

// store is the subset of redis.Cmdable the cache uses.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Options holds connection parameters for the Redis client.
type Options struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
}

// Cache implements market.PriceSource. A cache failure is logged and the
// upstream source is used; it never fails a fetch on its own.
type Cache struct {
	rdb  store
	src  market.PriceSource
	TTL  time.Duration
	Now  func() time.Time
	Zone *time.Location
}

var _ market.PriceSource = (*Cache)(nil)

// Dial connects to Redis and pings it before wrapping src.
func Dial(ctx context.Context, opts Options, src market.PriceSource) (*Cache, func() error, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLSEnabled {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(rdb, src), rdb.Close, nil
}

func New(rdb store, src market.PriceSource) *Cache {
	return &Cache{rdb: rdb, src: src, TTL: DefaultTTL, Now: time.Now, Zone: time.Local}
}

// Key identifies one fetch: the calendar day it ran on, the start date and the
// ticker set (order-insensitive).
func Key(day, from models.Date, tickers []string) string {
	ts := slices.Clone(tickers)
	slices.Sort(ts)
	return keyPrefix + day.String() + ":" + from.String() + ":" + strings.Join(ts, ",")
}

func (c *Cache) History(ctx context.Context, tickers []string, from models.Date) (market.History, error) {
	key := Key(models.DateOf(c.Now().In(c.Zone)), from, tickers)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var h market.History
		jerr := json.Unmarshal(raw, &h)
		if jerr == nil {
			return h.Normalize(), nil
		}
		log.Printf("WARN: discarding unreadable cache entry %s: %v", key, jerr)
	case errors.Is(err, redis.Nil):
	default:
		log.Printf("WARN: redis get %s: %v", key, err)
	}

	h, err := c.src.History(ctx, tickers, from)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(h); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.TTL).Err(); err != nil {
			log.Printf("WARN: redis set %s: %v", key, err)
		}
	}
	return h, nil
}
