// Package entity defines the base entity type for all Hookline domain objects.
package entity

import (
	"errors"
	"time"
)

// ErrNotFound reports that a referenced record does not exist. Store
// backends return it (via store.ErrNotFound, the same value) so domain
// packages can tell a missing record from an unreachable backend.
var ErrNotFound = errors.New("not found")

// Entity is the base type embedded by all hookline domain objects.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity with both timestamps set to the current UTC time.
func New() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// At returns an Entity with both timestamps set to the given time.
// Used when the caller owns the clock.
func At(now time.Time) Entity {
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch returns a copy with UpdatedAt advanced to now.
func (e Entity) Touch(now time.Time) Entity {
	e.UpdatedAt = now
	return e
}
