package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Identity providers.
const (
	ProviderMock   = "mock"
	ProviderGoogle = "google"
)

// Workspace backends.
const (
	BackendMemory   = "memory"
	BackendDir      = "dir"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	bad := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if len(c.Domains) == 0 {
		bad("domains", c.Domains, "at least one domain is required")
	}
	for _, d := range c.Domains {
		u, err := url.Parse(d)
		if err != nil || !u.IsAbs() || u.Host == "" {
			bad("domains", d, "must be an absolute URI")
		}
	}
	if c.ListenAddr == "" {
		bad("listen_addr", c.ListenAddr, "must not be empty")
	}

	switch c.Identity.Provider {
	case ProviderMock:
	case ProviderGoogle:
		if c.Identity.ClientID == "" {
			bad("identity.client_id", c.Identity.ClientID, "required for the google provider")
		}
		if c.Identity.ClientSecretParam == "" {
			bad("identity.client_secret_param", c.Identity.ClientSecretParam, "required for the google provider")
		}
		if c.Identity.StateSecretParam == "" {
			bad("identity.state_secret_param", c.Identity.StateSecretParam, "required for the google provider")
		}
	default:
		bad("identity.provider", c.Identity.Provider, "must be one of mock, google")
	}

	if !slices.Contains([]string{"env", "ssm"}, c.Secrets.Source) {
		bad("secrets.source", c.Secrets.Source, "must be one of env, ssm")
	}

	if c.Tokens.PendingTTL < 0 {
		bad("tokens.pending_ttl", c.Tokens.PendingTTL, "must not be negative")
	}
	if c.Tokens.SessionTTL < 0 {
		bad("tokens.session_ttl", c.Tokens.SessionTTL, "must not be negative")
	}

	switch c.Workspace.Backend {
	case BackendMemory:
	case BackendDir:
		if c.Workspace.Dir == "" {
			bad("workspace.dir", c.Workspace.Dir, "required for the dir backend")
		}
	case BackendDynamoDB:
		if c.Workspace.Table == "" {
			bad("workspace.table", c.Workspace.Table, "required for the dynamodb backend")
		}
	case BackendPostgres:
		if c.Workspace.DatabaseURL == "" {
			bad("workspace.database_url", c.Workspace.DatabaseURL, "required for the postgres backend")
		}
	default:
		bad("workspace.backend", c.Workspace.Backend, "must be one of memory, dir, dynamodb, postgres")
	}

	for _, slug := range c.Repos.Seed {
		owner, name, ok := strings.Cut(slug, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			bad("repos.seed", slug, "must be owner/name")
		}
	}

	if c.Limits.MaxBodyBytes <= 0 {
		bad("limits.max_body_bytes", c.Limits.MaxBodyBytes, "must be positive")
	}
	if c.Rate.RPS < 0 {
		bad("rate.rps", c.Rate.RPS, "must not be negative")
	}
	if c.Rate.RPS > 0 && c.Rate.Burst < 1 {
		bad("rate.burst", c.Rate.Burst, "must be at least 1 when rate limiting is enabled")
	}
	for _, proxy := range c.Rate.TrustedProxies {
		if _, err := parseProxy(proxy); err != nil {
			bad("rate.trusted_proxies", proxy, "must be an IP address or CIDR range")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		bad("log.level", c.Log.Level, "must be one of debug, info, warn, error")
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		bad("log.format", c.Log.Format, "must be one of json, text")
	}
	return errs
}
