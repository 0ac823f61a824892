// Package store persists lock identities and states in a bbolt database, so
// a restarted service knows its locks before the cloud or the bolt answers.
package store

import (
	"errors"

	"github.com/srg/ydbolt/internal/lock"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	SaveIdentity(id lock.Identity) error
	GetIdentity(uuid string) (lock.Identity, error)
	ListIdentities() ([]lock.Identity, error)

	// SaveState records st as the last known state and appends it to the
	// bounded history of the lock.
	SaveState(uuid string, st lock.State) error
	GetState(uuid string) (lock.State, error)
	// History returns up to limit most recent states, newest first. A limit
	// of zero returns everything kept.
	History(uuid string, limit int) ([]lock.State, error)

	Close() error
}
