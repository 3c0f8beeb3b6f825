package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はミューテックスで保護されたプロセス内ストア。
// テストおよび共有ストアを持たない単一プロセス実行で使用する。
// 複数インスタンス構成では分散保証がないためRedisStoreを使用すること。
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	blocks   map[string]time.Time
}

// memoryCounter は1キー分の固定ウィンドウカウンタ。
type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore は新しいプロセス内ストアを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		blocks:   make(map[string]time.Time),
	}
}

// Increment はカウンタを増分する。ミューテックス下で実行されるため原子的。
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.expiresAt.Sub(now), nil
}

// BlockedFor はブロック解除までの残り時間を返す。ブロックされていなければ0。
func (s *MemoryStore) BlockedFor(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok {
		return 0, nil
	}
	remaining := time.Until(until)
	if remaining <= 0 {
		delete(s.blocks, key)
		return 0, nil
	}
	return remaining, nil
}

// Block はキーを指定時間ブロック状態に置く。
func (s *MemoryStore) Block(_ context.Context, key string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[key] = time.Now().Add(d)
	return nil
}

// Close は何もしない。Storeインターフェースを満たすためのもの。
func (s *MemoryStore) Close() error {
	return nil
}
