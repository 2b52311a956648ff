package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Store is the single source of truth for the current Pair. Writes go to the primary
// backend first and are then propagated to the mirror; the mirror is best-effort.
type Store struct {
	mu       sync.RWMutex
	primary  Backend
	mirror   Backend
	notifier ChangeNotifier
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMirror sets the secondary backend (the vendor SDK's own session storage).
func WithMirror(mirror Backend) StoreOption {
	return func(s *Store) {
		s.mirror = mirror
	}
}

// WithNotifier registers the change notifier invoked after every Set and Clear.
func WithNotifier(n ChangeNotifier) StoreOption {
	return func(s *Store) {
		s.notifier = n
	}
}

// NewStore creates a Store over the primary backend.
func NewStore(primary Backend, options ...StoreOption) (*Store, error) {
	if primary == nil {
		return nil, errors.New("[NewStore] primary backend is required")
	}
	s := &Store{primary: primary}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// SetNotifier replaces the change notifier. It allows the notifier to be wired after
// the store when the two are built in that order.
func (s *Store) SetNotifier(n ChangeNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Get returns the current pair, or false when no access or refresh token is stored.
// Storage errors are logged and treated as absence.
func (s *Store) Get(ctx context.Context) (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, err := s.primary.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("token store: primary read failed, falling back to mirror")
		if s.mirror == nil {
			return Pair{}, false
		}
		if pair, err = s.mirror.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("token store: mirror read failed")
			return Pair{}, false
		}
	}
	if pair.IsZero() {
		return Pair{}, false
	}
	return pair, true
}

// Set overwrites both backends with pair. Readers of this Store never observe a
// partially written pair.
func (s *Store) Set(ctx context.Context, pair Pair) error {
	if pair.AccessToken == "" {
		return errors.New("[Store Set] access token is required")
	}

	s.mu.Lock()
	if err := s.primary.Save(ctx, pair); err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("token store: primary write failed")
		return fmt.Errorf("[Store Set] primary write: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Save(ctx, pair); err != nil {
			log.Warn().Err(err).Msg("token store: mirror write failed")
		}
	}
	notifier := s.notifier
	s.mu.Unlock()

	log.Debug().Str("access_fp", Fingerprint(pair.AccessToken)).Str("refresh_fp", Fingerprint(pair.RefreshToken)).Msg("token store: pair set")
	if notifier != nil {
		notifier.TokensChanged(ctx, ChangeSet)
	}
	return nil
}

// Clear removes the pair from every backend.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.primary.Delete(ctx); err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("token store: primary delete failed")
		return fmt.Errorf("[Store Clear] primary delete: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx); err != nil {
			log.Warn().Err(err).Msg("token store: mirror delete failed")
		}
	}
	notifier := s.notifier
	s.mu.Unlock()

	log.Debug().Msg("token store: cleared")
	if notifier != nil {
		notifier.TokensChanged(ctx, ChangeCleared)
	}
	return nil
}
