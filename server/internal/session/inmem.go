package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"spotted/server/internal/model"
)

var ErrNotFound = errors.New("viewer session not found")

// InMemoryStore 是一个基于内存的查看实例存储。
// 注意：重启即丢数据；查看实例本身只是 websocket 连接的登记，不需要持久化。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.ViewerSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*model.ViewerSession)}
}

// Get 根据 ViewerID 获取查看实例。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.ViewerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// Save 保存或更新查看实例。
func (s *InMemoryStore) Save(_ context.Context, v *model.ViewerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.data[v.ViewerID] = &cp
	return nil
}

// Delete 移除查看实例；不存在时不报错。
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// List 按创建时间返回全部查看实例。
func (s *InMemoryStore) List(_ context.Context) ([]*model.ViewerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.ViewerSession, 0, len(s.data))
	for _, v := range s.data {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
