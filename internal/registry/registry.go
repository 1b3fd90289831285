// Package registry tracks item ownership. The marketplace never owns this
// state; it consults and mutates it through the AssetRegistry interface and
// treats every call as fallible.
package registry

import (
	"context"
	"errors"
)

var (
	// ErrUnknownItem is returned when the item id does not exist in the registry
	ErrUnknownItem = errors.New("unknown item")
	// ErrNotOwner is returned when the from principal does not own the item
	ErrNotOwner = errors.New("not the item owner")
	// ErrTransferRejected is returned when the registry refuses the transfer
	ErrTransferRejected = errors.New("transfer rejected by registry")
)

// AssetRegistry is the external ownership authority for items
type AssetRegistry interface {
	// OwnerOf returns the principal that currently owns the item
	OwnerOf(ctx context.Context, itemID uint64) (string, error)
	// Transfer moves ownership of the item from one principal to another
	Transfer(ctx context.Context, itemID uint64, from, to string) error
}

// Rebindable is implemented by registries whose backing contract can be
// swapped at runtime
type Rebindable interface {
	Rebind(address string) error
}
