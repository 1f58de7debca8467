// Package repodir keeps the set of known repositories and who owns them.
package repodir

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// IdentityResolver resolves a token id to the identity bound to it.
type IdentityResolver interface {
	ResolveIdentity(tokenID string) (model.Identity, error)
}

// Directory maps repository slugs to repositories.
type Directory struct {
	tokens IdentityResolver
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	repos   map[string]model.Repository
	byOwner map[string][]string
	shared  []string
}

// NewDirectory creates an empty Directory.
func NewDirectory(tokens IdentityResolver, l *slog.Logger) *Directory {
	if l == nil {
		l = slog.Default()
	}
	return &Directory{
		tokens:  tokens,
		logger:  l,
		now:     time.Now,
		repos:   make(map[string]model.Repository),
		byOwner: make(map[string][]string),
	}
}

// Slug composes the slug of repository name owned by login.
func Slug(login, name string) string {
	return login + "/" + name
}

// SplitSlug splits "owner/name" into its parts.
func SplitSlug(slug string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok || validName(owner) != nil || validName(name) != nil {
		return "", "", fmt.Errorf("slug %q: %w", slug, model.ErrInvalidName)
	}
	return owner, name, nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return model.ErrInvalidName
	}
	return nil
}

// Create registers a new empty repository named name for the identity of
// tokenID and returns its slug.
func (d *Directory) Create(ctx context.Context, tokenID, name string) (string, error) {
	ident, err := d.tokens.ResolveIdentity(tokenID)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if err := validName(name); err != nil {
		return "", fmt.Errorf("repository name %q: %w", name, err)
	}

	slug := Slug(ident.Login, name)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.repos[slug]; exists {
		return "", fmt.Errorf("create %s: %w", slug, model.ErrDuplicateRepository)
	}
	d.repos[slug] = model.Repository{
		Slug:      slug,
		Owner:     ident.Login,
		Name:      name,
		CreatedAt: d.now(),
	}
	d.byOwner[ident.Login] = append(d.byOwner[ident.Login], slug)

	d.logger.InfoContext(ctx, "repository created", slog.String("repo", slug))
	return slug, nil
}

// List returns the sorted slugs owned by the identity of tokenID together
// with every shared repository.
func (d *Directory) List(ctx context.Context, tokenID string) ([]string, error) {
	ident, err := d.tokens.ResolveIdentity(tokenID)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	slugs := []string{}
	for _, group := range [][]string{d.byOwner[ident.Login], d.shared} {
		for _, slug := range group {
			if !seen[slug] {
				seen[slug] = true
				slugs = append(slugs, slug)
			}
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Seed registers shared repositories, as delegated by the content tracker.
// Slugs already known are marked shared.
func (d *Directory) Seed(slugs ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, slug := range slugs {
		owner, name, err := SplitSlug(slug)
		if err != nil {
			return err
		}
		repo, exists := d.repos[slug]
		if !exists {
			repo = model.Repository{Slug: slug, Owner: owner, Name: name, CreatedAt: d.now()}
			d.byOwner[owner] = append(d.byOwner[owner], slug)
		}
		if !repo.Shared {
			repo.Shared = true
			d.shared = append(d.shared, slug)
		}
		d.repos[slug] = repo
	}
	return nil
}

// Exists reports whether slug names a known repository.
func (d *Directory) Exists(slug string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.repos[slug]
	return ok
}
