package protocols

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists protocols.
type Store interface {
	Create(ctx context.Context, p *Protocol) error
	Get(ctx context.Context, id string) (*Protocol, error)
	Update(ctx context.Context, p *Protocol) error
	// List returns protocols ordered by id.
	List(ctx context.Context, filter ListFilter) ([]Protocol, error)
}

// MemoryStore is an in-memory Store used in development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	protocols map[string]Protocol
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{protocols: make(map[string]Protocol)}
}

func (s *MemoryStore) Create(_ context.Context, p *Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	s.protocols[p.ID] = clone(*p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.protocols[id]
	if !ok {
		return nil, ErrProtocolNotFound
	}
	out := clone(p)
	return &out, nil
}

func (s *MemoryStore) Update(_ context.Context, p *Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.protocols[p.ID]
	if !ok {
		return ErrProtocolNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.protocols[p.ID] = clone(*p)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]Protocol, error) {
	s.mu.RLock()
	out := make([]Protocol, 0, len(s.protocols))
	for _, p := range s.protocols {
		if filter.matches(p) {
			out = append(out, clone(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
