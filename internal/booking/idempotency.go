package booking

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL は冪等キーを保持する期間。
const DefaultIdempotencyTTL = 24 * time.Hour

const idempotencyKeyPrefix = "studydesk:purchase:"

// IdempotencyGuard は購入リクエストの二重送信を検出するインターフェース。
type IdempotencyGuard interface {
	// Acquire はキーを確保する。既に確保済みの場合はfalseを返す。
	Acquire(ctx context.Context, scope, key string) (bool, error)
	// Release は課金前に失敗したリクエストのキーを解放する。
	Release(ctx context.Context, scope, key string) error
}

// RedisClient はRedisIdempotencyGuardが使うRedisコマンドのサブセット。
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisIdempotencyGuard はRedisのSET NXで冪等キーを管理する。
type RedisIdempotencyGuard struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisIdempotencyGuard はRedisIdempotencyGuardを生成する。ttlが0以下の場合はDefaultIdempotencyTTLを使う。
func NewRedisIdempotencyGuard(client RedisClient, ttl time.Duration) *RedisIdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyGuard{client: client, ttl: ttl}
}

// Acquire はキーを確保する。
func (g *RedisIdempotencyGuard) Acquire(ctx context.Context, scope, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, idempotencyRedisKey(scope, key), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	return ok, nil
}

// Release はキーを解放する。
func (g *RedisIdempotencyGuard) Release(ctx context.Context, scope, key string) error {
	if err := g.client.Del(ctx, idempotencyRedisKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// idempotencyRedisKey は利用者ごとに名前空間を分けたRedisキーを返す。
// クライアント由来の値をそのままキーにしないようハッシュ化する。
func idempotencyRedisKey(scope, key string) string {
	payload := strings.ToLower(strings.TrimSpace(scope)) + ":" + strings.TrimSpace(key)
	hash := sha256.Sum256([]byte(payload))
	return idempotencyKeyPrefix + base64.RawURLEncoding.EncodeToString(hash[:])
}

// compile-time interface check
var _ IdempotencyGuard = (*RedisIdempotencyGuard)(nil)
