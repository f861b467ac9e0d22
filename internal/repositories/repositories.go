// Package repositories persists pulsegram records in Postgres. Consumers
// declare the narrow interfaces they need; the types here satisfy them.
package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record, or a record it references,
	// does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the write would violate a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)
