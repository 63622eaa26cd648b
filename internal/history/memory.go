// internal/history/memory.go
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// MemoryStore keeps the serialized history in process memory. It round-trips
// through the same encoding as the remote backends, so callers never share
// state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	data   []byte
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory history.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{logger: logger.Named("history.memory"), now: time.Now}
}

func (s *MemoryStore) Append(_ context.Context, rec schemas.BiteRecord) (schemas.BiteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec = stamp(rec, s.now())
	data, err := encodeList(prepend(decodeList(s.data, s.logger), rec))
	if err != nil {
		return schemas.BiteRecord{}, err
	}
	s.data = data
	return rec, nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *MemoryStore) List(context.Context) ([]schemas.BiteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decodeList(s.data, s.logger), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (schemas.BiteRecord, error) {
	list, _ := s.List(ctx)
	return find(list, id)
}

func (s *MemoryStore) Close() error { return nil }
