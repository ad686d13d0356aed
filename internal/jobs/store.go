package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store はジョブIDからジョブ状態への並行安全なマップです。
// Get は常に一時点の完全なスナップショット（コピー）を返します。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	// Mutate は fn を排他的に1回だけ適用し、適用後のスナップショットを返します。
	Mutate(ctx context.Context, jobID string, fn func(*Record)) (*Record, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, jobID string) error
}

// MemoryStore はプロセス内メモリにジョブ状態を保持します。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create は新しいジョブを登録します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with jobID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.JobID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, record.JobID)
	}
	s.records[record.JobID] = record.Clone()
	return nil
}

// Get はジョブ状態のコピーを返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return record.Clone(), nil
}

// Mutate はロックを保持したまま fn を適用します。
func (s *MemoryStore) Mutate(ctx context.Context, jobID string, fn func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	fn(record)
	return record.Clone(), nil
}

// ListCreatedBefore は cutoff より前に作成されたジョブIDを返します。
func (s *MemoryStore) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, record := range s.records {
		if record.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete はジョブを削除します。存在しなくてもエラーにはしません。
func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}
