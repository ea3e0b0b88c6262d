// Package store provides durable key-value persistence for engine state.
package store

import (
	"context"
	"time"
)

// SlotTodos is the slot holding the JSON task collection.
const SlotTodos = "todos"

// Slot is one named value in durable storage.
type Slot struct {
	Name      string
	Value     []byte
	UpdatedAt time.Time
}

// Repository defines named-slot persistence.
type Repository interface {
	// GetSlot returns the slot with the given name, or nil if it was never written.
	GetSlot(ctx context.Context, name string) (*Slot, error)

	// PutSlot replaces the slot value atomically.
	PutSlot(ctx context.Context, name string, value []byte) error

	// DeleteSlot removes a slot. Deleting a missing slot is not an error.
	DeleteSlot(ctx context.Context, name string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
