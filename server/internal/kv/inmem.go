package kv

import (
	"context"
	"sync"
)

// InMemoryBackend 是基于内存的 Backend 实现。
type InMemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryBackend() *InMemoryBackend {
	// 重启即丢数据，只用于测试与本地调试。
	return &InMemoryBackend{data: make(map[string][]byte)}
}

// Get 返回值的副本。
func (b *InMemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set 覆盖写入 key。
func (b *InMemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	b.data[key] = stored
	return nil
}

func (b *InMemoryBackend) Close() error { return nil }
