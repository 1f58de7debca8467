package session

import (
	"context"
)

// Locker defines the interface for per-file lock management.
// A lock is held by a token and keyed by (repository slug, file path).
type Locker interface {
	// RequestLock tries to take the lock. It reports false, without error,
	// when the lock is already held by any token, including the caller.
	RequestLock(ctx context.Context, tokenID, repo, path string) (bool, error)

	// HasLock reports whether tokenID currently holds the lock.
	HasLock(ctx context.Context, tokenID, repo, path string) (bool, error)

	// RelinquishLock releases the lock if tokenID holds it. Releasing an
	// unlocked file succeeds.
	RelinquishLock(ctx context.Context, tokenID, repo, path string) error
}
