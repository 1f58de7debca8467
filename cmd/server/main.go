package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/app"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/config"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
)

const sweepInterval = time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "collab-server",
		Short: "Collaborative document editing server",
		Long: `collab-server hands out session tokens, per-file edit locks, change
markers for polling clients and per-user workspace blobs over HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.New(configFile)
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "config file (default is ./collab.yaml or /etc/collab/collab.yaml)")
	f.String("listen-addr", "", "address to listen on")
	f.StringSlice("domains", nil, "public base URLs of the server")
	f.String("identity-provider", "", "identity provider: mock or google")
	f.String("workspace-backend", "", "workspace backend: memory, dir, dynamodb or postgres")
	f.String("workspace-dir", "", "directory for the dir workspace backend")
	f.StringSlice("seed", nil, "shared repository slugs registered at start-up")
	f.String("log-level", "", "log level: debug, info, warn or error")
	f.String("log-format", "", "log format: json or text")
	return cmd
}

// bindFlags binds each flag to its config key so that only flags set on the
// command line override the file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	keys := map[string]string{
		"listen-addr":       "listen_addr",
		"domains":           "domains",
		"identity-provider": "identity.provider",
		"workspace-backend": "workspace.backend",
		"workspace-dir":     "workspace.dir",
		"seed":              "repos.seed",
		"log-level":         "log.level",
		"log-format":        "log.format",
	}
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.SetupDefault(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.SweepTokens(ctx, sweepInterval)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("addr", server.Addr), slog.String("base_url", cfg.BaseURL()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped gracefully")
	return nil
}
