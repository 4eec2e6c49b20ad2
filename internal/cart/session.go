package cart

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"cafepos/m/internal/logger"
)

// Session is the cart of one storefront visitor. Mutations always land
// locally; the copy in the remote store is written after each change and may
// lag behind when the store is unreachable. Reconcile brings them back in
// line.
type Session struct {
	id    string
	store Store
	log   *zap.Logger

	mu    sync.Mutex
	cart  Cart
	dirty bool
}

func NewSession(id string, store Store, log *zap.Logger) *Session {
	return &Session{id: id, store: store, log: log}
}

// Init adopts the stored cart if there is one.
func (s *Session) Init(ctx context.Context) error {
	c, err := s.store.Load(ctx, s.id)
	if errors.Is(err, ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cart = c
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Cart returns a copy of the local cart.
func (s *Session) Cart() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Dirty reports whether local changes have not reached the store.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Update applies fn to a copy of the cart and keeps the result when fn
// succeeds. A failed store write is logged and leaves the session dirty; it
// is not returned. The next successful write clears the dirty flag.
func (s *Session) Update(ctx context.Context, fn func(*Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cart.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.cart = next

	if err := s.store.Save(ctx, s.id, next); err != nil {
		s.dirty = true
		s.log.Warn("cart sync failed",
			zap.String("action", logger.ActionCartSyncFailed),
			zap.String("session_id", s.id),
			zap.Error(err))
		return nil
	}
	// the whole cart was written, so earlier failed writes are covered too
	s.dirty = false
	return nil
}

// Reconcile pushes local changes when the session is dirty, otherwise it
// adopts whatever the store holds.
func (s *Session) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		if err := s.store.Save(ctx, s.id, s.cart); err != nil {
			return err
		}
		s.dirty = false
		s.log.Info("cart pushed to store",
			zap.String("action", logger.ActionCartReconciled),
			zap.String("session_id", s.id),
			zap.String("direction", "push"))
		return nil
	}

	c, err := s.store.Load(ctx, s.id)
	switch {
	case errors.Is(err, ErrCartNotFound):
		c = Cart{}
	case err != nil:
		return err
	}
	s.cart = c
	s.log.Info("cart refreshed from store",
		zap.String("action", logger.ActionCartReconciled),
		zap.String("session_id", s.id),
		zap.String("direction", "pull"))
	return nil
}
