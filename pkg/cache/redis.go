package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache は同一サービスの全インスタンスで共有されるRedisベースのキャッシュ。
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache はRedisキャッシュを生成し、疎通を確認する。
func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの疎通確認に失敗: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get はキーの値をdestにデシリアライズする。
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, fmt.Errorf("キャッシュ値のデシリアライズに失敗 (key=%s): %w", key, err)
	}
	return true, nil
}

// Set はキーに値をTTL付きで格納する。
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("キャッシュ値のシリアライズに失敗 (key=%s): %w", key, err)
	}
	return c.client.Set(ctx, key, b, ttl).Err()
}

// Delete は指定されたキーを削除する。既に存在しないキーは何もしない（冪等）。
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern はパターンに一致する全キーをSCANで列挙して削除する。
// KEYSはRedisをブロックするため使わない。
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("キーの走査に失敗 (pattern=%s): %w", pattern, err)
	}

	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Close はRedisとの接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
