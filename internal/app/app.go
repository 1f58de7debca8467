// Package app assembles the collaboration server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/auth"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/config"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/crypto"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/database"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/files"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/handler"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/middleware"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/repodir"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/secret"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/session"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/store"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/workspace"
)

// MockKMSKeyID selects the development encryptor instead of AWS KMS.
const MockKMSKeyID = "mock"

// App holds the wired server.
type App struct {
	handler http.Handler
	tokens  *auth.TokenStore
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	closers []func() error
}

// New builds the server described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	var (
		rec         metrics.Recorder = metrics.Nop{}
		metricsHTTP http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec = metrics.NewCollector(reg)
		metricsHTTP = metrics.Handler(reg)
	}

	a.tokens = auth.NewTokenStore(auth.TokenConfig{
		PendingTTL: cfg.Tokens.PendingTTL,
		SessionTTL: cfg.Tokens.SessionTTL,
	}, rec, logger)

	repos := repodir.NewDirectory(a.tokens, logger)
	if err := repos.Seed(cfg.Repos.Seed...); err != nil {
		return nil, fmt.Errorf("seed repositories: %w", err)
	}

	table := store.NewTable()
	fileStore := files.NewStore(a.tokens, repos, table, rec, logger)

	backend, err := a.workspaceBackend(ctx, cfg.Workspace)
	if err != nil {
		a.Close()
		return nil, err
	}

	var signIn handler.SignInProvider
	if cfg.Identity.Provider == config.ProviderGoogle {
		p, err := googleProvider(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		signIn = p
	}

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.NewRecoveryMiddleware(logger),
		middleware.NewLoggingMiddleware(logger, rec),
	}
	if cfg.Rate.RPS > 0 {
		proxies, err := cfg.Rate.ProxyPrefixes()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:           rate.Limit(cfg.Rate.RPS),
			Burst:          cfg.Rate.Burst,
			Identities:     a.tokens,
			TrustedProxies: proxies,
		}, logger)
		mws = append(mws, a.limiter.Middleware)
	}

	a.handler = handler.NewRouter(handler.Deps{
		Tokens:     a.tokens,
		Repos:      repos,
		Locks:      session.NewLockManager(a.tokens, repos, table, rec, logger),
		Files:      fileStore,
		Poller:     files.NewPoller(fileStore, rec),
		Workspaces: workspace.NewStore(a.tokens, backend, workspace.WithDefault(cfg.Workspace.Default), workspace.WithLogger(logger)),
		SignIn:     signIn,

		BaseURL:        cfg.BaseURL(),
		MaxBodyBytes:   cfg.Limits.MaxBodyBytes,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        metricsHTTP,
		Middlewares:    mws,
		Logger:         logger,
	})

	logger.Info("server assembled",
		slog.String("identity_provider", cfg.Identity.Provider),
		slog.String("workspace_backend", cfg.Workspace.Backend),
		slog.Int("seeded_repos", len(cfg.Repos.Seed)),
	)
	return a, nil
}

// workspaceBackend opens the configured persistence, sealed when a KMS key
// is configured. A nil backend keeps workspaces in memory.
func (a *App) workspaceBackend(ctx context.Context, cfg config.WorkspaceConfig) (workspace.Backend, error) {
	var backend workspace.Backend
	switch cfg.Backend {
	case config.BackendMemory:
		backend = workspace.NewMemoryBackend()
	case config.BackendDir:
		b, err := workspace.NewDirBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		backend = b
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		backend = workspace.NewDynamoBackend(dynamodb.NewFromConfig(awsCfg), cfg.Table)
	case config.BackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		backend = workspace.NewPostgresBackend(db)
	default:
		return nil, fmt.Errorf("unknown workspace backend %q", cfg.Backend)
	}

	switch cfg.KMSKeyID {
	case "":
		return backend, nil
	case MockKMSKeyID:
		return workspace.NewSealed(backend, crypto.NewMockEncryptor()), nil
	default:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return workspace.NewSealed(backend, crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)), nil
	}
}

func googleProvider(ctx context.Context, cfg *config.Config) (*auth.OAuthProvider, error) {
	resolver, err := secret.New(ctx, cfg.Secrets.Source)
	if err != nil {
		return nil, err
	}
	clientSecret, err := resolver.GetSecret(ctx, cfg.Identity.ClientSecretParam)
	if err != nil {
		return nil, fmt.Errorf("resolve oauth client secret: %w", err)
	}
	stateKey, err := resolver.GetSecret(ctx, cfg.Identity.StateSecretParam)
	if err != nil {
		return nil, fmt.Errorf("resolve state secret: %w", err)
	}

	state := auth.NewStateSigner([]byte(stateKey), auth.DefaultStateTTL)
	return auth.NewGoogleProvider(cfg.Identity.ClientID, clientSecret, cfg.BaseURL()+"/auth/after-auth", state), nil
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// SweepTokens removes expired tokens every interval until ctx is done.
func (a *App) SweepTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := a.tokens.Sweep(); n > 0 {
				a.logger.Debug("expired tokens swept", slog.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops background work and releases connections.
func (a *App) Close() error {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
