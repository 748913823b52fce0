package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveFills(ctx context.Context, walletAddr string, fills []model.Fill) error {
	if err := s.primary.SaveFills(ctx, walletAddr, fills); err != nil {
		return err
	}
	s.cacheFills(ctx, walletAddr, fills)
	return nil
}

func (s *CachedStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	if err := s.primary.SaveProfile(ctx, p); err != nil {
		return err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, profileKey(p.Wallet), data, s.ttl)
		if p.Username != "" {
			s.rdb.Set(ctx, usernameKey(p.Username), p.Wallet, s.ttl)
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFills(ctx context.Context, walletAddr string) ([]model.Fill, error) {
	data, err := s.rdb.Get(ctx, fillsKey(walletAddr)).Bytes()
	if err == nil {
		var fills []model.Fill
		if json.Unmarshal(data, &fills) == nil {
			return fills, nil
		}
	}

	fills, err := s.primary.GetFills(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	s.cacheFills(ctx, walletAddr, fills)
	return fills, nil
}

func (s *CachedStore) GetProfile(ctx context.Context, walletAddr string) (*model.Profile, error) {
	data, err := s.rdb.Get(ctx, profileKey(walletAddr)).Bytes()
	if err == nil {
		var p model.Profile
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetProfile(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, profileKey(walletAddr), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	// Try cache via username → wallet mapping.
	walletAddr, err := s.rdb.Get(ctx, usernameKey(username)).Result()
	if err == nil {
		return s.GetProfile(ctx, walletAddr)
	}

	p, err := s.primary.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if p.Username != "" {
		s.rdb.Set(ctx, usernameKey(p.Username), p.Wallet, s.ttl)
	}
	return p, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheFills(ctx context.Context, walletAddr string, fills []model.Fill) {
	if data, err := json.Marshal(fills); err == nil {
		s.rdb.Set(ctx, fillsKey(walletAddr), data, s.ttl)
	}
}

func fillsKey(wallet string) string     { return fmt.Sprintf("fills:%s", wallet) }
func profileKey(wallet string) string   { return fmt.Sprintf("profile:%s", wallet) }
func usernameKey(username string) string { return fmt.Sprintf("username:%s", username) }
