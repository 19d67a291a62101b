// Package customercache keeps the set of known customer ids in Redis, so
// every replica can reject unknown customers without touching the database.
package customercache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis set holding the customer ids.
const DefaultKey = "ledger:customers"

// Directory answers whether a customer exists from a Redis set.
type Directory struct {
	log *slog.Logger
	rdb *redis.Client
	key string
}

func NewDirectory(log *slog.Logger, rdb *redis.Client, key string) *Directory {
	if key == "" {
		key = DefaultKey
	}
	return &Directory{
		log: log,
		rdb: rdb,
		key: key,
	}
}

// Load replaces the set with ids atomically.
func (d *Directory) Load(ctx context.Context, ids []int) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = strconv.Itoa(id)
	}

	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.key)
		if len(members) > 0 {
			pipe.SAdd(ctx, d.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", d.key, err)
	}

	d.log.InfoContext(ctx, "customercache.Load", "key", d.key, "customers", len(ids))
	return nil
}

func (d *Directory) Exists(ctx context.Context, customerID int) (bool, error) {
	ok, err := d.rdb.SIsMember(ctx, d.key, strconv.Itoa(customerID)).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", d.key, err)
	}
	return ok, nil
}
