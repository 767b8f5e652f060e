package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Brownie44l1/damage-api/internal/config"
	"github.com/Brownie44l1/damage-api/internal/handlers"
	"github.com/Brownie44l1/damage-api/internal/model"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// resolvePath anchors relative artifact paths at the project root, which is
// two levels up when started from cmd/server.
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Join(wd, path)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg.ModelPath = resolvePath(cfg.ModelPath)
	cfg.MetadataPath = resolvePath(cfg.MetadataPath)

	sugar.Infow("loading model", "path", cfg.ModelPath, "metadata", cfg.MetadataPath)

	// A failed load leaves classifier nil and the service answers
	// "Model not loaded" until restarted.
	var classifier model.Model
	modelServer, err := model.NewServer(model.Options{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.OnnxRuntimeLib,
		Logger:       sugar,
	})
	if err != nil {
		sugar.Errorw("error loading model", "path", cfg.ModelPath, "error", err)
	} else {
		classifier = modelServer
		defer modelServer.Close()
	}

	handler := handlers.NewHandler(handlers.Options{
		Model:          classifier,
		ModelName:      cfg.ModelName,
		Architecture:   cfg.ModelArchitecture,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         sugar,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("server starting",
			"addr", srv.Addr,
			"model_loaded", classifier != nil,
			"endpoints", []string{"GET /health", "GET /summary", "POST /inference"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sugar.Errorw("server failed", "error", err)
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("shutdown failed", "error", err)
	}
	sugar.Info("server stopped")
}
