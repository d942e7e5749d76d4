package timeline

import (
	"context"
	"sync"

	"spotted/server/internal/model"
)

// defaultRetention 是每个 stream 保留的最大条数，集合本身常驻内存，日志不需要无限增长。
const defaultRetention = 1024

// InMemoryStore 是一个基于内存的变更日志实现。
type InMemoryStore struct {
	mu        sync.RWMutex
	changes   map[string][]model.Change
	seq       map[string]int64
	eventIDs  map[string]map[string]int64
	retention int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		changes:   make(map[string][]model.Change),
		seq:       make(map[string]int64),
		eventIDs:  make(map[string]map[string]int64),
		retention: defaultRetention,
	}
}

// Append 追加变更，并为该 stream 分配单调递增 seq。
// 副作用：会修改内存状态；相同 EventID 会直接返回已分配的 seq（幂等）。
func (s *InMemoryStore) Append(_ context.Context, stream string, change *model.Change) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if change.EventID != "" {
		if seen, ok := s.eventIDs[stream]; ok {
			if seq, exists := seen[change.EventID]; exists {
				return seq, nil
			}
		}
	}

	s.seq[stream]++
	seq := s.seq[stream]

	changeCopy := *change
	changeCopy.Seq = seq
	s.changes[stream] = append(s.changes[stream], changeCopy)
	if over := len(s.changes[stream]) - s.retention; over > 0 {
		dropped := s.changes[stream][:over]
		for _, c := range dropped {
			if c.EventID != "" {
				delete(s.eventIDs[stream], c.EventID)
			}
		}
		s.changes[stream] = append([]model.Change(nil), s.changes[stream][over:]...)
	}

	if change.EventID != "" {
		if s.eventIDs[stream] == nil {
			s.eventIDs[stream] = make(map[string]int64)
		}
		s.eventIDs[stream][change.EventID] = seq
	}

	return seq, nil
}

// Since 返回 seq > after 的变更（按 seq 顺序）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) Since(_ context.Context, stream string, after int64) ([]model.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	changes := s.changes[stream]
	out := make([]model.Change, 0, len(changes))
	for _, c := range changes {
		if c.Seq > after {
			out = append(out, c)
		}
	}
	return out, nil
}
