package registry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRegistry is a process-local ownership table. It backs development
// setups and tests; production binds the EVM registry instead.
type MemoryRegistry struct {
	mu     sync.RWMutex
	owners map[uint64]string
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		owners: make(map[uint64]string),
	}
}

// Mint assigns an item to its first owner
func (r *MemoryRegistry) Mint(itemID uint64, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[itemID] = owner
}

// OwnerOf returns the principal that currently owns the item
func (r *MemoryRegistry) OwnerOf(ctx context.Context, itemID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[itemID]
	if !ok {
		return "", fmt.Errorf("%w: item %d", ErrUnknownItem, itemID)
	}
	return owner, nil
}

// Transfer moves ownership of the item from one principal to another
func (r *MemoryRegistry) Transfer(ctx context.Context, itemID uint64, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[itemID]
	if !ok {
		return fmt.Errorf("%w: item %d", ErrUnknownItem, itemID)
	}
	if owner != from {
		return fmt.Errorf("%w: item %d is owned by %s", ErrNotOwner, itemID, owner)
	}

	r.owners[itemID] = to
	return nil
}
