package protocols

import (
	"context"

	"github.com/wolfman30/careflow-scheduling/internal/cache"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

const activeListKey = "list:active"

// CachedStore is a Redis read-through cache in front of another Store. It
// caches single protocols and the active list the matcher scans on every
// call; both are dropped on any write.
type CachedStore struct {
	src    Store
	cache  *cache.JSONCache
	logger *logging.Logger
}

// NewCachedStore wraps src.
func NewCachedStore(src Store, c *cache.JSONCache, logger *logging.Logger) *CachedStore {
	if src == nil {
		panic("protocols: source store required")
	}
	if c == nil {
		panic("protocols: cache required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedStore{src: src, cache: c, logger: logger}
}

func (s *CachedStore) Create(ctx context.Context, p *Protocol) error {
	if err := s.src.Create(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, p.ID)
	return nil
}

func (s *CachedStore) Update(ctx context.Context, p *Protocol) error {
	if err := s.src.Update(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, p.ID)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*Protocol, error) {
	var cached Protocol
	found, err := s.cache.Get(ctx, "id:"+id, &cached)
	if err != nil {
		s.logger.Warn("protocol cache read failed", "protocol_id", id, "error", err)
	} else if found {
		return &cached, nil
	}

	p, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, "id:"+id, p); err != nil {
		s.logger.Warn("protocol cache fill failed", "protocol_id", id, "error", err)
	}
	return p, nil
}

// List serves the active-only listing from cache; other filters go to the
// source.
func (s *CachedStore) List(ctx context.Context, filter ListFilter) ([]Protocol, error) {
	if !filter.activeOnly() {
		return s.src.List(ctx, filter)
	}

	var cached []Protocol
	found, err := s.cache.Get(ctx, activeListKey, &cached)
	if err != nil {
		s.logger.Warn("protocol list cache read failed", "error", err)
	} else if found {
		return cached, nil
	}

	list, err := s.src.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Protocol{}
	}
	if err := s.cache.Set(ctx, activeListKey, list); err != nil {
		s.logger.Warn("protocol list cache fill failed", "error", err)
	}
	return list, nil
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, "id:"+id, activeListKey); err != nil {
		s.logger.Error("protocol cache invalidation failed", "protocol_id", id, "error", err)
	}
}
