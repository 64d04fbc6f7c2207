package storage

import (
	"context"
	"sync"

	"github.com/skalibog/bandarscope/pkg/models"
)

// MemoryStore кольцевой буфер ограниченного размера на каждую пару
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	records  map[models.TradingPair][]*models.Recommendation
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = MaxRecent
	}
	return &MemoryStore{
		capacity: capacity,
		records:  make(map[models.TradingPair][]*models.Recommendation),
	}
}

func (s *MemoryStore) Append(_ context.Context, rec *models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.records[rec.Pair], rec)
	if len(list) > s.capacity {
		// копируем, чтобы не удерживать старый массив
		list = append([]*models.Recommendation(nil), list[len(list)-s.capacity:]...)
	}
	s.records[rec.Pair] = list
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, pair models.TradingPair, limit int) ([]*models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.records[pair]
	limit = clampLimit(limit)
	if limit > len(list) {
		limit = len(list)
	}

	out := make([]*models.Recommendation, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
