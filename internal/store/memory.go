package store

import (
	"context"
	"sync"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// for deployments without a database (fills are refetched on restart).
type MemoryStore struct {
	mu         sync.RWMutex
	fills      map[string][]model.Fill    // wallet → fills
	profiles   map[string]*model.Profile  // wallet → profile
	byUsername map[string]string          // username → wallet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fills:      make(map[string][]model.Fill),
		profiles:   make(map[string]*model.Profile),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) SaveFills(_ context.Context, walletAddr string, fills []model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	stored := make([]model.Fill, len(fills))
	copy(stored, fills)
	s.fills[walletAddr] = stored
	return nil
}

func (s *MemoryStore) GetFills(_ context.Context, walletAddr string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.fills[walletAddr]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Fill, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	s.profiles[p.Wallet] = &stored
	if p.Username != "" {
		s.byUsername[p.Username] = p.Wallet
	}
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, walletAddr string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[walletAddr]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	s.mu.RLock()
	walletAddr, ok := s.byUsername[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetProfile(ctx, walletAddr)
}
