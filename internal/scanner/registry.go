package scanner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/evandatickets/ticket-validation/internal/observability"
)

// Cache is the read-through cache of scanner identities; a nil Cache
// disables caching.
type Cache interface {
	GetScanner(ctx context.Context, username string) (*domain.Scanner, error)
	SetScanner(ctx context.Context, s domain.Scanner, ttl time.Duration) error
}

// Registry authorizes redemption callers against the scanners table.
type Registry struct {
	store  domain.ScannerStore
	cache  Cache
	ttl    time.Duration
	logger observability.Logger
}

func NewRegistry(store domain.ScannerStore, cache Cache, ttl time.Duration, logger observability.Logger) *Registry {
	return &Registry{store: store, cache: cache, ttl: ttl, logger: logger}
}

// Authorize resolves a scanner name to its identity. Unknown names fail
// closed with ErrUnauthorized; nothing about the ticket is processed first.
func (r *Registry) Authorize(ctx context.Context, username string) (*domain.Scanner, error) {
	if r.cache != nil {
		cached, err := r.cache.GetScanner(ctx, username)
		if err != nil {
			r.logger.WithError(err).Warn("scanner cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	s, err := r.store.ScannerByName(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetScanner(ctx, *s, r.ttl); err != nil {
			r.logger.WithError(err).Warn("scanner cache write failed")
		}
	}
	return s, nil
}

// RecordScan bumps the scanner's scan counter. Best-effort accounting: a
// failure here is logged and never rolls back the redemption it follows.
func (r *Registry) RecordScan(ctx context.Context, username string) {
	if err := r.store.IncrementScanCount(ctx, username); err != nil {
		r.logger.WithError(err).WithField("scanner", username).Warn("failed to record scan")
	}
}

// Register creates a scanner identity with a fresh authorization token.
// Duplicate names return ErrConflict.
func (r *Registry) Register(ctx context.Context, username, location, role string) (*domain.Scanner, error) {
	if username == "" || location == "" || role == "" {
		return nil, domain.ErrInvalidInput
	}
	s := domain.NewScanner(username, location, role)
	if err := r.store.InsertScanner(ctx, s); err != nil {
		return nil, err
	}
	return &s, nil
}
