package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a key that was never written or was deleted.
var ErrNotFound = errors.New("slot not found")

// Store is a small durable key/value store holding named slots (the activity
// ledger lives in one). Implementations: SQLite (default), a directory of files,
// memory, and *postgres.Store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Slot binds a Store to one key. It satisfies the ledger's persistence interface.
type Slot struct {
	Store Store
	Key   string
}

// Load returns the slot's value, or ErrNotFound.
func (s Slot) Load(ctx context.Context) ([]byte, error) {
	return s.Store.Get(ctx, s.Key)
}

// Save overwrites the slot.
func (s Slot) Save(ctx context.Context, value []byte) error {
	return s.Store.Put(ctx, s.Key, value)
}

// Clear removes the slot. Clearing an absent slot is not an error.
func (s Slot) Clear(ctx context.Context) error {
	if err := s.Store.Delete(ctx, s.Key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
