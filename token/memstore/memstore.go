package memstore

import (
	"context"
	"sync"

	"github.com/hippocampus/sessionsync/token"
)

var _ token.Backend = (*MemStore)(nil)

// MemStore is an in-process token backend. It models the extension-local storage area
// and the auth SDK's session object.
type MemStore struct {
	values map[string]string
	lock   sync.RWMutex
}

func New() *MemStore {
	return &MemStore{
		values: make(map[string]string),
	}
}

func (m *MemStore) Load(_ context.Context) (token.Pair, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return token.Pair{
		AccessToken:  m.values[token.AccessTokenKey],
		RefreshToken: m.values[token.RefreshTokenKey],
	}, nil
}

func (m *MemStore) Save(_ context.Context, pair token.Pair) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.values[token.AccessTokenKey] = pair.AccessToken
	if pair.RefreshToken == "" {
		delete(m.values, token.RefreshTokenKey)
		return nil
	}
	m.values[token.RefreshTokenKey] = pair.RefreshToken
	return nil
}

func (m *MemStore) Delete(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.values, token.AccessTokenKey)
	delete(m.values, token.RefreshTokenKey)
	return nil
}

// Keys returns the keys currently held, for inspecting the persisted layout.
func (m *MemStore) Keys() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}
