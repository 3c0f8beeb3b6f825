package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"
)

// MemoryCache はミューテックスで保護されたプロセス内キャッシュ。
// テストおよび共有ストアを持たない単一プロセス実行で使用する。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// memoryEntry は1キー分のキャッシュエントリ。
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache は新しいプロセス内キャッシュを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get はキーの値をdestにデシリアライズする。期限切れのエントリはミスとして扱う。
func (c *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return false, nil
	}
	if err := json.Unmarshal(e.value, dest); err != nil {
		return false, fmt.Errorf("キャッシュ値のデシリアライズに失敗 (key=%s): %w", key, err)
	}
	return true, nil
}

// Set はキーに値をTTL付きで格納する。
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("キャッシュ値のシリアライズに失敗 (key=%s): %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: b, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete は指定されたキーを削除する。存在しないキーは何もしない（冪等）。
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// DeletePattern はグロブパターンに一致する全キーを削除する。
func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		matched, err := path.Match(pattern, k)
		if err != nil {
			return fmt.Errorf("不正なパターンです (pattern=%s): %w", pattern, err)
		}
		if matched {
			delete(c.entries, k)
		}
	}
	return nil
}

// Close は何もしない。Cacheインターフェースを満たすためのもの。
func (c *MemoryCache) Close() error {
	return nil
}
