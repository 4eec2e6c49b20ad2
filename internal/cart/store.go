package cart

import (
	"context"
	"errors"
	"sync"
)

var ErrCartNotFound = errors.New("cart not found")

// Store keeps carts by session id.
type Store interface {
	Load(ctx context.Context, sessionID string) (Cart, error)
	Save(ctx context.Context, sessionID string, c Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]Cart)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.carts[sessionID]
	if !ok {
		return Cart{}, ErrCartNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, c Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[sessionID] = c.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}
