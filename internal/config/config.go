// Package config loads server configuration from defaults, an optional
// collab.yaml, COLLAB_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COLLAB_LISTEN_ADDR.
const EnvPrefix = "COLLAB"

// Config is the complete server configuration.
type Config struct {
	Domains    []string        `mapstructure:"domains"`
	ListenAddr string          `mapstructure:"listen_addr"`
	Identity   IdentityConfig  `mapstructure:"identity"`
	Secrets    SecretsConfig   `mapstructure:"secrets"`
	Tokens     TokensConfig    `mapstructure:"tokens"`
	Workspace  WorkspaceConfig `mapstructure:"workspace"`
	Repos      ReposConfig     `mapstructure:"repos"`
	Limits     LimitsConfig    `mapstructure:"limits"`
	Rate       RateConfig      `mapstructure:"rate"`
	CORS       CORSConfig      `mapstructure:"cors"`
	Log        LogConfig       `mapstructure:"log"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
}

// IdentityConfig selects how tokens get bound to identities.
type IdentityConfig struct {
	// Provider is "mock" or "google".
	Provider          string `mapstructure:"provider"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecretParam string `mapstructure:"client_secret_param"`
	StateSecretParam  string `mapstructure:"state_secret_param"`
}

// SecretsConfig selects where secret parameters are resolved.
type SecretsConfig struct {
	Source string `mapstructure:"source"`
}

// TokensConfig controls token lifetimes. Zero disables expiry.
type TokensConfig struct {
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// WorkspaceConfig selects the workspace persistence backend.
type WorkspaceConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	Table       string `mapstructure:"table"`
	DatabaseURL string `mapstructure:"database_url"`
	// KMSKeyID enables sealing of stored blobs; "mock" selects the
	// development encryptor.
	KMSKeyID string `mapstructure:"kms_key_id"`
	Default  string `mapstructure:"default"`
}

// ReposConfig lists repositories registered at start-up.
type ReposConfig struct {
	Seed []string `mapstructure:"seed"`
}

// LimitsConfig bounds request sizes.
type LimitsConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// RateConfig configures the per-client token bucket. RPS 0 disables it.
// TrustedProxies lists the addresses or CIDR ranges whose X-Forwarded-For
// header is believed.
type RateConfig struct {
	RPS            float64  `mapstructure:"rps"`
	Burst          int      `mapstructure:"burst"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. A bare address is a single-host range.
func (r RateConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(r.TrustedProxies))
	for _, s := range r.TrustedProxies {
		p, err := parseProxy(s)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

func parseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("trusted proxy %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Domains:    []string{"http://localhost:8080"},
		ListenAddr: ":8080",
		Identity: IdentityConfig{
			Provider:          ProviderMock,
			ClientSecretParam: "/collab/oauth-client-secret",
			StateSecretParam:  "/collab/state-secret",
		},
		Secrets: SecretsConfig{Source: "env"},
		Tokens: TokensConfig{
			PendingTTL: 10 * time.Minute,
		},
		Workspace: WorkspaceConfig{
			Backend: BackendMemory,
			Dir:     "UnSHACLed-workspaces",
			Table:   "Workspaces",
		},
		Repos:   ReposConfig{Seed: []string{}},
		Limits:  LimitsConfig{MaxBodyBytes: 4 << 20},
		Rate:    RateConfig{RPS: 50, Burst: 100},
		CORS:    CORSConfig{AllowedOrigins: []string{"*"}},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// SetDefaults registers every default on v. Keys must be registered for
// environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("domains", d.Domains)
	v.SetDefault("listen_addr", d.ListenAddr)

	v.SetDefault("identity.provider", d.Identity.Provider)
	v.SetDefault("identity.client_id", d.Identity.ClientID)
	v.SetDefault("identity.client_secret_param", d.Identity.ClientSecretParam)
	v.SetDefault("identity.state_secret_param", d.Identity.StateSecretParam)

	v.SetDefault("secrets.source", d.Secrets.Source)

	v.SetDefault("tokens.pending_ttl", d.Tokens.PendingTTL)
	v.SetDefault("tokens.session_ttl", d.Tokens.SessionTTL)

	v.SetDefault("workspace.backend", d.Workspace.Backend)
	v.SetDefault("workspace.dir", d.Workspace.Dir)
	v.SetDefault("workspace.table", d.Workspace.Table)
	v.SetDefault("workspace.database_url", d.Workspace.DatabaseURL)
	v.SetDefault("workspace.kms_key_id", d.Workspace.KMSKeyID)
	v.SetDefault("workspace.default", d.Workspace.Default)

	v.SetDefault("repos.seed", d.Repos.Seed)
	v.SetDefault("limits.max_body_bytes", d.Limits.MaxBodyBytes)
	v.SetDefault("rate.rps", d.Rate.RPS)
	v.SetDefault("rate.burst", d.Rate.Burst)
	v.SetDefault("rate.trusted_proxies", d.Rate.TrustedProxies)
	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// New returns a viper instance with defaults and environment overrides set
// up. configFile, when non-empty, replaces the collab.yaml search.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("collab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/collab")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and returns the validated configuration.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := c.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &c, nil
}

// BaseURL is the first domain without a trailing slash.
func (c *Config) BaseURL() string {
	if len(c.Domains) == 0 {
		return ""
	}
	return strings.TrimRight(c.Domains[0], "/")
}
