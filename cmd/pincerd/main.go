// Command pincerd starts the Pincer egress boundary's HTTP server.
//
// It reads its configuration from PINCER_* environment variables (and
// an optional YAML override file named by PINCER_CONFIG_FILE), opens
// the embedded store, wires every component, and serves the admin and
// runtime HTTP surfaces until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhannusch/pincer/internal/adminsession"
	"github.com/dhannusch/pincer/internal/config"
	"github.com/dhannusch/pincer/internal/httpapi"
	"github.com/dhannusch/pincer/internal/logging"
	"github.com/dhannusch/pincer/internal/metrics"
	"github.com/dhannusch/pincer/internal/pairing"
	"github.com/dhannusch/pincer/internal/proxy"
	"github.com/dhannusch/pincer/internal/registry"
	"github.com/dhannusch/pincer/internal/runtimekey"
	"github.com/dhannusch/pincer/internal/signedauth"
	"github.com/dhannusch/pincer/internal/store"
	"github.com/dhannusch/pincer/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("pincerd: config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logLevel(cfg.LogLevel),
		Service: cfg.ServiceName,
		Text:    cfg.LogText,
	})
	slog.SetDefault(logger)

	storeCfg := store.DefaultConfig(cfg.StorePath)
	if cfg.InMemoryStore {
		storeCfg = store.InMemoryConfig()
	}
	storeCfg.Logger = logger
	kv, err := store.Open(storeCfg)
	if err != nil {
		log.Fatalf("pincerd: open store: %v", err)
	}
	defer kv.Close()

	v, err := vault.New(kv, cfg.KEK)
	if err != nil {
		log.Fatalf("pincerd: open vault: %v", err)
	}
	defer v.Close()

	reg := registry.New(kv, v)
	m := metrics.New()
	reg = reg.WithMetrics(m)

	runtimeKeys := runtimekey.New(kv)
	admin := adminsession.New(kv, cfg.BootstrapToken)
	defer admin.Close()
	pairingStore := pairing.New(kv)
	px := proxy.New(reg, v, m)
	verifier := signedauth.New(runtimeKeys, v)

	router := httpapi.Router(httpapi.Deps{
		Registry:      reg,
		Vault:         v,
		RuntimeKeys:   runtimeKeys,
		Admin:         admin,
		Pairing:       pairingStore,
		Proxy:         px,
		Metrics:       m,
		Verifier:      verifier,
		ServiceName:   cfg.ServiceName,
		Version:       cfg.Version,
		ConfigVersion: cfg.ConfigVersion,
		Logger:        logger,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runRateLimitSweep(sweepCtx, px)
	defer stopSweep()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErrs:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// runRateLimitSweep periodically evicts stale rate-limit buckets,
// complementing proxy.Execute's lazy per-call eviction.
func runRateLimitSweep(ctx context.Context, px *proxy.Proxy) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			px.Sweep(now)
		}
	}
}

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
