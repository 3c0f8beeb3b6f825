package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore は全ゲートウェイインスタンスで共有されるRedisベースのストア。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore はRedisストアを生成し、疎通を確認する。
// 起動時にストアへ到達できない場合はエラーを返す（プロセスを起動させない）。
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの疎通確認に失敗: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Increment はカウンタを原子的に増分する。
// MULTI/EXECパイプライン内でINCRとEXPIRE NX、PTTLを実行するため、
// 並行するゲートウェイインスタンス間でも読み取り・計算・書き込みの競合は起きない。
// EXPIRE NXにより期限はキー作成時にのみ設定され、以降の増分でウィンドウは延長されない。
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	remaining := pttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// BlockedFor はブロックキーの残りTTLを返す。キーが存在しなければ0。
func (s *RedisStore) BlockedFor(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Block はキーを指定時間ブロック状態に置く。
func (s *RedisStore) Block(ctx context.Context, key string, d time.Duration) error {
	return s.client.Set(ctx, key, "1", d).Err()
}

// Close はRedisとの接続を閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
