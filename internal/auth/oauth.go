package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// ErrInvalidState is returned when an OAuth callback carries a state that was
// not issued by this server or has expired.
var ErrInvalidState = errors.New("invalid oauth state")

// DefaultStateTTL bounds the time between redirect and callback.
const DefaultStateTTL = 10 * time.Minute

// StateSigner binds a pending token id to an OAuth round trip. The state is
// an HS256 JWT whose subject is the token id.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner creates a StateSigner with key.
func NewStateSigner(key []byte, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{key: key, ttl: ttl, now: time.Now}
}

// Sign returns the state value for tokenID.
func (s *StateSigner) Sign(tokenID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify returns the token id carried by state.
func (s *StateSigner) Verify(state string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidState)
	}
	return claims.Subject, nil
}

// ProfileFetcher turns an authorised token source into an identity assertion.
type ProfileFetcher func(ctx context.Context, ts oauth2.TokenSource) (Assertion, error)

// GoogleProfile fetches the Google userinfo profile. The login is the
// account's email address.
func GoogleProfile(opts ...option.ClientOption) ProfileFetcher {
	return func(ctx context.Context, ts oauth2.TokenSource) (Assertion, error) {
		svc, err := oauth2api.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
		if err != nil {
			return Assertion{}, fmt.Errorf("failed to create oauth2 service: %w", err)
		}
		info, err := svc.Userinfo.Get().Context(ctx).Do()
		if err != nil {
			return Assertion{}, fmt.Errorf("failed to get user info: %w", err)
		}
		if info.Email == "" {
			return Assertion{}, errors.New("user info has no email")
		}
		name := info.Name
		if name == "" {
			name = info.Email
		}
		return Assertion{Login: info.Email, Name: name, Email: info.Email}, nil
	}
}

// OAuthProvider runs the authorization-code flow against an OAuth2 identity
// provider.
type OAuthProvider struct {
	config  *oauth2.Config
	state   *StateSigner
	profile ProfileFetcher
}

// NewGoogleProvider returns an OAuthProvider for Google sign-in.
func NewGoogleProvider(clientID, clientSecret, redirectURL string, state *StateSigner) *OAuthProvider {
	return NewOAuthProvider(&oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{oauth2api.UserinfoEmailScope, oauth2api.UserinfoProfileScope},
		Endpoint:     google.Endpoint,
	}, state, GoogleProfile())
}

// NewOAuthProvider creates an OAuthProvider. The config should be
// constructed by the caller.
func NewOAuthProvider(config *oauth2.Config, state *StateSigner, profile ProfileFetcher) *OAuthProvider {
	return &OAuthProvider{config: config, state: state, profile: profile}
}

// AuthURL returns the provider URL a user visits to bind tokenID.
func (p *OAuthProvider) AuthURL(tokenID string) (string, error) {
	state, err := p.state.Sign(tokenID)
	if err != nil {
		return "", err
	}
	return p.config.AuthCodeURL(state), nil
}

// Complete verifies the callback state, exchanges the code and fetches the
// signed-in profile. It returns the token id the round trip was started for.
func (p *OAuthProvider) Complete(ctx context.Context, code, state string) (string, Assertion, error) {
	tokenID, err := p.state.Verify(state)
	if err != nil {
		return "", Assertion{}, err
	}
	if code == "" {
		return "", Assertion{}, errors.New("missing authorization code")
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", Assertion{}, fmt.Errorf("failed to exchange code: %w", err)
	}
	a, err := p.profile(ctx, p.config.TokenSource(ctx, tok))
	if err != nil {
		return "", Assertion{}, err
	}
	return tokenID, a, nil
}
