package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis はSETNXとDELだけを持つメモリ上のRedis。
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisIdempotencyGuard_AcquireOnce(t *testing.T) {
	r := newFakeRedis()
	g := NewRedisIdempotencyGuard(r, 0)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "student@example.com", "key-1")
	if err != nil || !ok {
		t.Fatalf("first Acquire = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = g.Acquire(ctx, "student@example.com", "key-1")
	if err != nil || ok {
		t.Fatalf("second Acquire = (%v, %v), want (false, nil)", ok, err)
	}

	// 別の利用者は同じキーでも独立
	ok, _ = g.Acquire(ctx, "other@example.com", "key-1")
	if !ok {
		t.Error("key should be scoped per user")
	}

	for k, ttl := range r.keys {
		if !strings.HasPrefix(k, idempotencyKeyPrefix) {
			t.Errorf("key %q lacks prefix", k)
		}
		if strings.Contains(k, "key-1") {
			t.Errorf("raw client key should not appear in %q", k)
		}
		if ttl != DefaultIdempotencyTTL {
			t.Errorf("ttl = %v, want %v", ttl, DefaultIdempotencyTTL)
		}
	}
}

func TestRedisIdempotencyGuard_Release(t *testing.T) {
	r := newFakeRedis()
	g := NewRedisIdempotencyGuard(r, time.Minute)
	ctx := context.Background()

	if _, err := g.Acquire(ctx, "s@example.com", "k"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := g.Release(ctx, "s@example.com", "k"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	ok, _ := g.Acquire(ctx, "s@example.com", "k")
	if !ok {
		t.Error("key should be acquirable after release")
	}
}

func TestRedisIdempotencyGuard_Error(t *testing.T) {
	r := newFakeRedis()
	r.err = errors.New("connection refused")
	g := NewRedisIdempotencyGuard(r, time.Minute)

	_, err := g.Acquire(context.Background(), "s@example.com", "k")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v", err)
	}
}

func TestIdempotencyRedisKey_NormalizesScope(t *testing.T) {
	a := idempotencyRedisKey("Student@Example.com ", "k")
	b := idempotencyRedisKey("student@example.com", "k")
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}
