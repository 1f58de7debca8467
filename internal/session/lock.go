package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/store"
)

// TokenResolver is the subset of the token store used for locking.
type TokenResolver interface {
	ResolveIdentity(tokenID string) (model.Identity, error)
	IsAuthenticated(tokenID string) bool
}

// RepoChecker reports whether a repository slug is known.
type RepoChecker interface {
	Exists(slug string) bool
}

var _ Locker = (*LockManager)(nil)

// LockManager grants exclusive per-file locks to tokens. Lock state lives in
// the same store cell as the file content, so a write and a lock change on
// one file never interleave.
type LockManager struct {
	tokens  TokenResolver
	repos   RepoChecker
	table   *store.Table
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewLockManager creates a new LockManager.
func NewLockManager(tokens TokenResolver, repos RepoChecker, table *store.Table, rec metrics.Recorder, l *slog.Logger) *LockManager {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &LockManager{
		tokens:  tokens,
		repos:   repos,
		table:   table,
		metrics: rec,
		logger:  l,
	}
}

// key resolves the caller and validates the addressed file.
func (m *LockManager) key(tokenID, repo, path string) (store.Key, error) {
	if _, err := m.tokens.ResolveIdentity(tokenID); err != nil {
		return store.Key{}, err
	}
	k, err := store.NewKey(repo, path)
	if err != nil {
		return store.Key{}, err
	}
	if !m.repos.Exists(repo) {
		return store.Key{}, fmt.Errorf("%s: %w", repo, model.ErrRepositoryNotFound)
	}
	return k, nil
}

// stale reports whether a lock holder's token has expired. Locks of
// expired tokens may be taken over.
func (m *LockManager) stale(holder string) bool {
	return !m.tokens.IsAuthenticated(holder)
}

// RequestLock attempts to acquire the lock on a file for tokenID.
// It succeeds only if:
// 1. No lock is held on the file.
// 2. The holder's token has expired.
func (m *LockManager) RequestLock(ctx context.Context, tokenID, repo, path string) (bool, error) {
	k, err := m.key(tokenID, repo, path)
	if err != nil {
		return false, err
	}

	granted := m.table.TryLock(k, tokenID, m.stale)
	m.metrics.RecordLockRequest(granted)
	if granted {
		m.logger.DebugContext(ctx, "lock granted",
			slog.String("repo", k.Repo), slog.String("path", k.Path), logger.Token(tokenID))
	}
	return granted, nil
}

// HasLock reports whether tokenID holds the lock on a file.
func (m *LockManager) HasLock(ctx context.Context, tokenID, repo, path string) (bool, error) {
	k, err := m.key(tokenID, repo, path)
	if err != nil {
		return false, err
	}

	cell, ok := m.table.Lookup(k)
	if !ok {
		return false, nil
	}
	return cell.Holder() == tokenID, nil
}

// RelinquishLock releases the lock on a file if tokenID holds it.
func (m *LockManager) RelinquishLock(ctx context.Context, tokenID, repo, path string) error {
	k, err := m.key(tokenID, repo, path)
	if err != nil {
		return err
	}

	released, err := m.table.Release(k, tokenID)
	if err != nil {
		return fmt.Errorf("relinquish %s: %w", k, err)
	}
	if !released {
		return nil
	}

	m.metrics.RecordLockRelease()
	m.logger.DebugContext(ctx, "lock released",
		slog.String("repo", k.Repo), slog.String("path", k.Path), logger.Token(tokenID))
	return nil
}
