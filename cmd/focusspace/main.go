package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/focusspace/internal/config"
	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/httpapi"
)

func main() {
	configPath := flag.String("config", envOrDefault("FOCUSSPACE_CONFIG", config.DefaultPath()), "config file path")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Server.Addr = strings.TrimSpace(*addr)
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	stateBackend, err := buildStateBackend(cfg.Server.StateBackend)
	if err != nil {
		return fmt.Errorf("failed to initialize state backend: %w", err)
	}
	if stateBackend == nil {
		logger.Warn().Msg("no state backend configured; documents are kept in memory only")
	}
	store, err := docstore.NewStoreWithOptions(docstore.StoreOptions{
		StateBackend: stateBackend,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		OriginPatterns:  cfg.Server.OriginPatterns,
		Logger:          logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("focusspace listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// buildStateBackend prefers an explicit DSN, then the storage profile.
func buildStateBackend(dsn string) (docstore.StateBackend, error) {
	profileDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(dsn) != "":
		return docstore.BuildStateBackendFromDSN(dsn)
	case profileDSN != "":
		return docstore.BuildStateBackendFromDSN(profileDSN)
	default:
		return nil, nil
	}
}

func storageProfileDefaultsFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("FOCUSSPACE_BACKEND_PROFILE")))
	dataDir := envOrDefault("FOCUSSPACE_DATA_DIR", ".focusspace")
	switch profile {
	case "", "custom":
		return "", nil
	case "memory", "inmemory":
		return "memory://", nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("FOCUSSPACE_POSTGRES_DSN"))
		if productionDSN == "" {
			return "", fmt.Errorf("FOCUSSPACE_POSTGRES_DSN is required when FOCUSSPACE_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, nil
	case "durable-local", "local-durable":
		return "sqlite://" + filepath.Join(dataDir, "state.db"), nil
	default:
		return "", fmt.Errorf("unsupported FOCUSSPACE_BACKEND_PROFILE: %s", profile)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
