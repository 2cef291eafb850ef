package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/KakatkarAkshay/bluestar-go/internal/config"
	"github.com/KakatkarAkshay/bluestar-go/internal/core"
	"github.com/KakatkarAkshay/bluestar-go/internal/server"
	"github.com/KakatkarAkshay/bluestar-go/internal/session"
	"github.com/KakatkarAkshay/bluestar-go/plugins/bluestar"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("BLUESTARD_CONFIG", config.DefaultPath), "path to config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.String("path", *configPath), zap.Error(err))
	}

	pluginCfg, err := bluestar.ConfigFromApp(cfg.Bluestar)
	if err != nil {
		log.Fatal("resolve bluestar config", zap.Error(err))
	}

	store := buildSessionStore(cfg.Session, log)
	plugin := bluestar.NewPlugin(pluginCfg, log, store)
	defer plugin.Close()

	plugins := []core.Plugin{plugin}
	if err := core.ValidatePlugins(plugins); err != nil {
		log.Fatal("validate plugins", zap.Error(err))
	}
	registry := core.MetricsRegistry(plugins)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.Handle("/metrics", server.MetricsHandler(registry))
	plugin.RegisterHTTP(mux)

	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, mux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server exited", zap.Error(err))
			stop()
		}
	}()

	go func() {
		if err := plugin.Run(ctx); err != nil {
			log.Error("bluestar runner exited", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}

// buildSessionStore prefers object storage when configured, falling
// back to the local state file.
func buildSessionStore(cfg config.SessionConfig, log *zap.Logger) session.Store {
	if cfg.BlobEndpoint != "" {
		store, err := session.NewS3Store(cfg)
		if err == nil {
			return store
		}
		log.Warn("blob session store unavailable, using local file", zap.Error(err))
	}
	return session.NewFileStore(cfg.StatePath)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
