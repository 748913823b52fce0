// Package store defines persistence for fetched fills and user profiles.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and cache-less deployments).
//
// The PnL engine itself never touches storage; the store only saves what
// was fetched upstream so repeat dashboard loads skip the venue API.
package store

import (
	"context"
	"errors"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// ErrNotFound is returned when a wallet or username has no stored data.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// SaveFills replaces the stored fill set for a wallet.
	SaveFills(ctx context.Context, walletAddr string, fills []model.Fill) error

	// GetFills returns the stored fills for a wallet in timestamp order,
	// or ErrNotFound if the wallet has never been fetched.
	GetFills(ctx context.Context, walletAddr string) ([]model.Fill, error)

	// SaveProfile upserts a user profile.
	SaveProfile(ctx context.Context, p *model.Profile) error

	// GetProfile returns the profile for a wallet, or ErrNotFound.
	GetProfile(ctx context.Context, walletAddr string) (*model.Profile, error)

	// GetProfileByUsername returns the profile for a display username,
	// or ErrNotFound.
	GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error)
}
