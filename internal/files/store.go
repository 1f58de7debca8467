// Package files serves file contents and change polling for repositories.
package files

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/store"
)

// IdentityResolver resolves a token id to the identity bound to it.
type IdentityResolver interface {
	ResolveIdentity(tokenID string) (model.Identity, error)
}

// RepoChecker reports whether a repository slug is known.
type RepoChecker interface {
	Exists(slug string) bool
}

// Store holds file contents and change markers. Reads never take the file
// lock; writes require the caller to hold it.
type Store struct {
	tokens  IdentityResolver
	repos   RepoChecker
	table   *store.Table
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewStore creates a file Store over table. The table must be the one used
// by the lock manager.
func NewStore(tokens IdentityResolver, repos RepoChecker, table *store.Table, rec metrics.Recorder, l *slog.Logger) *Store {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &Store{
		tokens:  tokens,
		repos:   repos,
		table:   table,
		metrics: rec,
		logger:  l,
	}
}

func (s *Store) key(repo, path string) (store.Key, error) {
	k, err := store.NewKey(repo, path)
	if err != nil {
		return store.Key{}, err
	}
	if !s.repos.Exists(repo) {
		return store.Key{}, fmt.Errorf("%s: %w", repo, model.ErrRepositoryNotFound)
	}
	return k, nil
}

// GetContents returns the current content and change marker of a file.
// A file that was never written yields empty content and marker 0.
func (s *Store) GetContents(ctx context.Context, repo, path string) (model.FileRecord, error) {
	k, err := s.key(repo, path)
	if err != nil {
		return model.FileRecord{}, err
	}

	rec := model.FileRecord{Repo: k.Repo, Path: k.Path}
	if cell, ok := s.table.Lookup(k); ok {
		rec.Content, rec.LastChange = cell.Snapshot()
	}
	return rec, nil
}

// SetContents replaces the content of a file and returns its new change
// marker. tokenID must hold the file's lock.
func (s *Store) SetContents(ctx context.Context, tokenID, repo, path, content string) (int64, error) {
	if _, err := s.tokens.ResolveIdentity(tokenID); err != nil {
		return 0, err
	}
	k, err := s.key(repo, path)
	if err != nil {
		return 0, err
	}

	cell, ok := s.table.Lookup(k)
	if !ok {
		return 0, fmt.Errorf("write %s: %w", k, model.ErrLockRequired)
	}
	marker, err := cell.Write(tokenID, content, s.table.Now())
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", k, err)
	}

	s.metrics.RecordFileWrite(len(content))
	s.logger.DebugContext(ctx, "file written",
		slog.String("repo", k.Repo),
		slog.String("path", k.Path),
		slog.Int64("last_change", marker),
		logger.Token(tokenID),
	)
	return marker, nil
}

// ListFiles returns the sorted paths of every file written in repo.
func (s *Store) ListFiles(ctx context.Context, repo string) ([]string, error) {
	if !s.repos.Exists(repo) {
		return nil, fmt.Errorf("%s: %w", repo, model.ErrRepositoryNotFound)
	}
	return s.table.Paths(repo), nil
}
