package storage

import "chorddht/internal/domain"

// Store is the minimal interface the rest of the module depends on
// for local resource storage (per spec.md §4.5's primary/replica
// stores). Storage (memory.go) is the only implementation; the
// interface exists so internal/node depends on behavior, not a
// concrete type.
type Store interface {
	// Put inserts or updates a resource, keyed by its ID.
	Put(resource domain.Resource)

	// Get returns the resource stored under id, or
	// domain.ErrResourceNotFound.
	Get(id domain.ID) (domain.Resource, error)

	// Delete removes the resource stored under id, or returns
	// domain.ErrResourceNotFound.
	Delete(id domain.ID) error

	// Between returns every resource with a key in the circular
	// interval (from, to].
	Between(from, to domain.ID) ([]domain.Resource, error)

	// All returns a snapshot of every resource currently stored.
	All() []domain.Resource

	// DebugLog emits a structured DEBUG-level snapshot of the store.
	DebugLog()
}
