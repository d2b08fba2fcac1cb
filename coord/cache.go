// Package coord is the shared coordination cache: the single source of truth
// for "is a trade active" across concurrently running jobs. Entry and exit
// transitions commit through conditional writes (Create / Update with an
// expected revision) so two ticks can never both win the same transition.
package coord

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned by Get/Update/Delete for missing keys.
	// Expired entries behave as missing.
	ErrKeyNotFound = errors.New("coord: key not found")

	// ErrKeyExists is returned by Create when the key is already present.
	ErrKeyExists = errors.New("coord: key already exists")

	// ErrRevisionMismatch is returned by Update when the key changed since
	// the revision the caller observed.
	ErrRevisionMismatch = errors.New("coord: revision mismatch")
)

// Entry is a cached record together with the revision needed for a
// conditional update.
type Entry struct {
	Value    []byte
	Revision uint64
}

// Cache is the coordination store. A zero ttl means the entry does not
// expire.
type Cache interface {
	// Get returns the current entry for key.
	Get(ctx context.Context, key string) (Entry, error)

	// Put writes key unconditionally.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Create writes key only if it does not exist yet and returns the new
	// revision. This is the entry gate: the losing tick gets ErrKeyExists.
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error)

	// Update writes key only if its revision still equals rev.
	Update(ctx context.Context, key string, value []byte, rev uint64, ttl time.Duration) (uint64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
