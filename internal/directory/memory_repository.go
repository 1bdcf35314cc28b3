package directory

import (
	"context"
	"errors"
	"sync"
)

type memoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]Party
	byHandle map[string]Party
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:     make(map[string]Party),
		byHandle: make(map[string]Party),
	}
}

func (r *memoryRepository) Create(_ context.Context, p Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHandle[p.Handle]; exists {
		return errors.New("handle taken")
	}
	r.byID[p.ID] = p
	r.byHandle[p.Handle] = p
	return nil
}

func (r *memoryRepository) ByID(_ context.Context, id string) (Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) ByHandle(_ context.Context, handle string) (Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byHandle[handle]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}
