package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/api"
	"github.com/inkvoice/inkvoice/internal/audio"
	"github.com/inkvoice/inkvoice/internal/book"
	"github.com/inkvoice/inkvoice/internal/config"
	"github.com/inkvoice/inkvoice/internal/health"
	"github.com/inkvoice/inkvoice/internal/logger"
	"github.com/inkvoice/inkvoice/internal/manifest"
	"github.com/inkvoice/inkvoice/internal/packaging"
	"github.com/inkvoice/inkvoice/internal/pipeline"
	"github.com/inkvoice/inkvoice/internal/provider"
	"github.com/inkvoice/inkvoice/internal/storage"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// needsFFmpeg reports whether any enabled provider emits audio the native
// WAV engine cannot concatenate.
func needsFFmpeg(cfg types.TTSConfig) bool {
	for _, p := range cfg.Providers {
		if p.Enabled && p.Format != "wav" {
			return true
		}
	}
	return false
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inkvoice HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting inkvoice server",
		zap.String("version", version),
		zap.String("config", configPath))

	if err := os.MkdirAll(cfg.Pipeline.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir %s: %w", cfg.Pipeline.TempDir, err)
	}

	adapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage adapter: %w", err)
	}
	defer adapter.Close()
	log.Info("storage adapter initialized", zap.String("adapter", cfg.Storage.Adapter))

	registry := provider.NewRegistry()
	if err := registry.InitializeProviders(cfg.TTS, log); err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	defer registry.Close()
	log.Info("TTS providers initialized",
		zap.Strings("providers", registry.ListTTS()),
		zap.String("default", cfg.TTS.DefaultProvider))

	repo := book.NewRepository(adapter)
	manifests := manifest.NewStore(adapter)
	orch := pipeline.NewOrchestrator(cfg.Pipeline, cfg.TTS, repo, manifests, registry, log)
	importer := packaging.NewImporter(repo, manifests, cfg.Pipeline.TempDir, log)

	// Books stuck in "processing" from a previous run can never finish
	if err := orch.RecoverInterrupted(context.Background()); err != nil {
		log.Warn("failed to recover interrupted books", zap.Error(err))
	}

	checks := health.NewHandler(version)
	checks.Register("storage", health.StorageCheck(adapter))
	checks.Register("tts", health.ProviderCheck(registry, cfg.TTS.DefaultProvider))
	if needsFFmpeg(cfg.TTS) {
		checks.Register("ffmpeg", health.FFmpegCheck(&audio.FFmpegEngine{}))
	}

	books := api.NewBookHandler(repo, manifests, orch, importer, cfg.Pipeline, cfg.TTS, log)
	router := api.NewRouter(books, checks, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
