// Package cache is the Redis-backed seat-availability cache invalidation
// fan-out, grounded in original_source's invalidate_seat_cache: one commit
// touching a seat clears that seat's entry plus every cached listing page
// that might have included it, rather than trying to patch them in place.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb *redis.Client
}

func New(addr string) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// InvalidateSeat drops the single-seat cache entry and every cached
// "seats:*" listing page, since any of those pages may embed this seat's
// availability.
func (c *Cache) InvalidateSeat(ctx context.Context, seatID int64) error {
	if err := c.rdb.Del(ctx, fmt.Sprintf("seat:%d", seatID)).Err(); err != nil {
		return err
	}

	keys, err := c.rdb.Keys(ctx, "seats:*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
