// Package workspace keeps one free-form workspace blob per identity.
package workspace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// Backend persists workspace blobs keyed by login.
type Backend interface {
	// Load returns the stored blob and whether one exists.
	Load(ctx context.Context, login string) (string, bool, error)
	Save(ctx context.Context, login, blob string) error
}

// IdentityResolver resolves a token id to the identity bound to it.
type IdentityResolver interface {
	ResolveIdentity(tokenID string) (model.Identity, error)
}

// Store maps authenticated identities to their workspace. Writes replace the
// whole blob; the last writer wins.
type Store struct {
	tokens   IdentityResolver
	backend  Backend
	fallback string
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDefault sets the blob returned for an identity that never stored one.
func WithDefault(blob string) Option {
	return func(s *Store) { s.fallback = blob }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store over backend. A nil backend selects memory.
func NewStore(tokens IdentityResolver, backend Backend, opts ...Option) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		tokens:  tokens,
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the workspace of the identity behind tokenID.
func (s *Store) Get(ctx context.Context, tokenID string) (string, error) {
	id, err := s.tokens.ResolveIdentity(tokenID)
	if err != nil {
		return "", err
	}
	blob, ok, err := s.backend.Load(ctx, id.Login)
	if err != nil {
		return "", fmt.Errorf("load workspace of %s: %w", id.Login, err)
	}
	if !ok {
		return s.fallback, nil
	}
	return blob, nil
}

// Set replaces the workspace of the identity behind tokenID.
func (s *Store) Set(ctx context.Context, tokenID, blob string) error {
	id, err := s.tokens.ResolveIdentity(tokenID)
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, id.Login, blob); err != nil {
		return fmt.Errorf("save workspace of %s: %w", id.Login, err)
	}
	s.logger.DebugContext(ctx, "workspace saved",
		slog.String("login", id.Login),
		slog.Int("bytes", len(blob)),
	)
	return nil
}
