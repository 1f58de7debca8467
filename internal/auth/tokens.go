package auth

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

const (
	tokenShards = 16
	// Expired tokens are swept once every sweepEvery issued tokens.
	sweepEvery = 32
)

// DefaultPendingTTL is how long an issued token may stay unauthenticated.
const DefaultPendingTTL = 10 * time.Minute

// Assertion is what an identity provider vouches for about the signed-in user.
type Assertion struct {
	Login string
	Name  string
	Email string
}

// Token is an issued authentication token.
type Token struct {
	ID        string
	Login     string    // empty until authenticated
	ExpiresAt time.Time // zero means the token does not expire
}

// Authenticated reports whether the token is bound to an identity.
func (t Token) Authenticated() bool {
	return t.Login != ""
}

func (t Token) expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenConfig controls token lifetimes. A zero TTL disables expiry.
type TokenConfig struct {
	PendingTTL time.Duration
	SessionTTL time.Duration
}

type tokenShard struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// TokenStore issues tokens and binds them to identities.
type TokenStore struct {
	shards [tokenShards]tokenShard

	identMu    sync.RWMutex
	identities map[string]model.Identity

	cfg     TokenConfig
	issued  atomic.Uint64
	now     func() time.Time
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore(cfg TokenConfig, rec metrics.Recorder, l *slog.Logger) *TokenStore {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if l == nil {
		l = slog.Default()
	}
	s := &TokenStore{
		identities: make(map[string]model.Identity),
		cfg:        cfg,
		now:        time.Now,
		metrics:    rec,
		logger:     l,
	}
	for i := range s.shards {
		s.shards[i].tokens = make(map[string]*Token)
	}
	return s
}

func (s *TokenStore) shardFor(id string) *tokenShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%tokenShards]
}

// Issue creates a new unauthenticated token.
func (s *TokenStore) Issue() Token {
	tok := &Token{ID: uuid.NewString()}
	if s.cfg.PendingTTL > 0 {
		tok.ExpiresAt = s.now().Add(s.cfg.PendingTTL)
	}

	sh := s.shardFor(tok.ID)
	sh.mu.Lock()
	sh.tokens[tok.ID] = tok
	issued := *tok
	sh.mu.Unlock()

	s.metrics.RecordTokenIssued()
	if s.issued.Add(1)%sweepEvery == 0 {
		s.Sweep()
	}
	return issued
}

// Lookup returns the live token with the given id.
func (s *TokenStore) Lookup(id string) (Token, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	tok, ok := sh.tokens[id]
	if !ok || tok.expired(s.now()) {
		return Token{}, false
	}
	return *tok, true
}

// IsAuthenticated reports whether id names a live, authenticated token.
// Unknown ids yield false.
func (s *TokenStore) IsAuthenticated(id string) bool {
	tok, ok := s.Lookup(id)
	return ok && tok.Authenticated()
}

// Authenticate binds the token to the asserted identity. Authenticating an
// already bound token again with the same login succeeds; a different login
// fails with ErrAlreadyAuthenticated.
func (s *TokenStore) Authenticate(id string, a Assertion) (model.Identity, error) {
	if err := ValidateLogin(a.Login); err != nil {
		return model.Identity{}, err
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	tok, ok := sh.tokens[id]
	if !ok || tok.expired(now) {
		return model.Identity{}, fmt.Errorf("authenticate token: %w", model.ErrUnknownToken)
	}
	if tok.Login != "" && tok.Login != a.Login {
		return model.Identity{}, fmt.Errorf("authenticate token as %q: %w", a.Login, model.ErrAlreadyAuthenticated)
	}

	ident := s.register(a)
	first := tok.Login == ""
	tok.Login = ident.Login
	if s.cfg.SessionTTL > 0 {
		tok.ExpiresAt = now.Add(s.cfg.SessionTTL)
	} else {
		tok.ExpiresAt = time.Time{}
	}

	if first {
		s.metrics.RecordTokenAuthenticated()
		s.logger.Debug("token authenticated", logger.Token(id), slog.String("login", ident.Login))
	}
	return ident, nil
}

// register creates or refreshes the identity for a.Login.
func (s *TokenStore) register(a Assertion) model.Identity {
	s.identMu.Lock()
	defer s.identMu.Unlock()

	ident, ok := s.identities[a.Login]
	if !ok {
		ident = model.Identity{Login: a.Login}
	}
	if a.Name != "" {
		ident.Name = a.Name
	}
	if a.Email != "" {
		ident.Email = a.Email
	}
	s.identities[a.Login] = ident
	return ident
}

// ResolveIdentity returns the identity bound to id. Unknown or expired
// tokens fail with both ErrUnauthorized and ErrUnknownToken; known but
// unauthenticated tokens fail with ErrUnauthorized.
func (s *TokenStore) ResolveIdentity(id string) (model.Identity, error) {
	tok, ok := s.Lookup(id)
	if !ok {
		return model.Identity{}, fmt.Errorf("%w: %w", model.ErrUnauthorized, model.ErrUnknownToken)
	}
	if !tok.Authenticated() {
		return model.Identity{}, model.ErrUnauthorized
	}

	s.identMu.RLock()
	defer s.identMu.RUnlock()
	ident, ok := s.identities[tok.Login]
	if !ok {
		return model.Identity{Login: tok.Login}, nil
	}
	return ident, nil
}

// Sweep removes expired tokens and returns how many were removed.
func (s *TokenStore) Sweep() int {
	now := s.now()
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, tok := range sh.tokens {
			if tok.expired(now) {
				delete(sh.tokens, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.metrics.RecordTokensSwept(removed)
		s.logger.Debug("expired tokens swept", slog.Int("count", removed))
	}
	return removed
}

// Len returns the number of tokens held, expired or not.
func (s *TokenStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.tokens)
		sh.mu.RUnlock()
	}
	return n
}

// ValidateLogin rejects logins that cannot be the owner part of a
// repository slug.
func ValidateLogin(login string) error {
	if strings.TrimSpace(login) == "" || strings.ContainsAny(login, "/\\") || login == "." || login == ".." {
		return fmt.Errorf("login %q: %w", login, model.ErrInvalidName)
	}
	return nil
}

// MockAssertion is what the mock content tracker asserts for a login.
func MockAssertion(login string) Assertion {
	return Assertion{
		Login: login,
		Name:  login,
		Email: login + "@example.com",
	}
}
