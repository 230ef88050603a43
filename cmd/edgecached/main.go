// cmd/edgecached/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/carelingo/edgecache/internal/api"
	"github.com/carelingo/edgecache/internal/cache"
	"github.com/carelingo/edgecache/internal/config"
	"github.com/carelingo/edgecache/internal/engine"
	"github.com/carelingo/edgecache/internal/persist"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := persist.NewStore(cfg.Snapshot.Path, cfg.Snapshot.Compress, logger.Named("persist"))
	if err != nil {
		logger.Fatal("init snapshot store", zap.Error(err))
	}

	lru := cache.NewLRU(cfg.Cache.Capacity)
	translator := cache.NewHTTPTranslator(cfg.Translator.Endpoint, cfg.Translator.Timeout, logger.Named("translator"))
	backend := cache.NewWarmingBackend(translator, lru, nil, logger.Named("warming"))

	eng := engine.New(cfg, backend, logger.Named("engine"), engine.Options{
		Store:      store,
		CacheStats: lru.Stats,
	})
	if err := eng.LoadState(); err != nil {
		logger.Fatal("restore snapshot", zap.Error(err))
	}

	server := api.NewServer(cfg, logger.Named("api"), eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine loop exited", zap.Error(err))
		}
	}()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger.Named("config"), func(updated *config.Config) {
				eng.SetConfig(updated)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutting down", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}

		cancel()
		if err := eng.SaveState(); err != nil {
			logger.Error("final snapshot", zap.Error(err))
		}
	}()

	logger.Info("edgecached starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("snapshot", cfg.Snapshot.Path))
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
