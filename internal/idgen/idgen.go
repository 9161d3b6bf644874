// Package idgen generates document ids for inserts.
//
// Sequential hands out stepped integers without a database sequence. The
// last id handed out lives in a lock-free Counter; the backing store is
// consulted only when the counter is unknown or evidently stale. Collisions
// with ids written by other processes are expected and resolved by
// retrying the insert (see Retry).
//
// UUIDv7 hands out time-ordered UUID strings.
package idgen

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/roach88/dsq/internal/dserr"
)

// Generator produces ids for new documents.
type Generator interface {
	// Generate returns a fresh id. current is the id the document already
	// carries, or nil.
	Generate(ctx context.Context, current any) (any, error)

	// MaxAttempts bounds how often an insert is tried with fresh ids.
	MaxAttempts() int
}

// DefaultMaxAttempts is the retry bound when none is configured.
const DefaultMaxAttempts = 5

// UUIDv7 generates time-ordered UUID strings.
type UUIDv7 struct {
	Attempts int
}

// Generate returns a new version 7 UUID.
func (g UUIDv7) Generate(context.Context, any) (any, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

// MaxAttempts returns the configured bound, DefaultMaxAttempts when unset.
func (g UUIDv7) MaxAttempts() int {
	if g.Attempts < 1 {
		return DefaultMaxAttempts
	}
	return g.Attempts
}

// Retry calls insert with ids from gen until it succeeds, fails with
// something other than a conflict, or gen.MaxAttempts() conflicts
// happened. After the last attempt the first conflict is returned.
//
// current is the id the document carries before the first attempt; each
// retry passes the id that conflicted.
func Retry(ctx context.Context, gen Generator, current any, insert func(id any) error) (any, error) {
	var first error
	for range gen.MaxAttempts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := gen.Generate(ctx, current)
		if err != nil {
			return nil, err
		}
		err = insert(id)
		if err == nil {
			return id, nil
		}
		if !dserr.IsConflict(err) {
			return nil, err
		}
		if first == nil {
			first = err
		}
		current = id
	}
	if first == nil {
		return nil, errors.New("id generator allows no attempts")
	}
	return nil, first
}
