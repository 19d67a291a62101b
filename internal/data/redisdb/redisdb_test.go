package redisdb_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rschio/ledger/internal/data/dbtest"
	"github.com/rschio/ledger/internal/data/redisdb"
)

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	rdb := dbtest.NewRedis(t)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := redisdb.WithLock(ctx, rdb, "test:lock", 5*time.Second, func() error {
				n := inside.Add(1)
				defer inside.Add(-1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(20 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("with lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Fatalf("got %d holders at once, want 1", got)
	}
}

func TestWithLockReturnsFnError(t *testing.T) {
	ctx := context.Background()
	rdb := dbtest.NewRedis(t)

	errBoom := errors.New("boom")
	err := redisdb.WithLock(ctx, rdb, "test:lock", time.Second, func() error {
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("got %v want %v", err, errBoom)
	}
}
