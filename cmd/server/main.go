package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aviarydata/aviary/internal/api"
	"github.com/aviarydata/aviary/internal/config"
	"github.com/aviarydata/aviary/internal/grid"
	"github.com/aviarydata/aviary/internal/logging"
	"github.com/aviarydata/aviary/internal/search"
	"github.com/aviarydata/aviary/internal/service"
	"github.com/aviarydata/aviary/internal/worker"
)

func main() {
	logging.Info("starting aviary server")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logging.Log.Fatal("could not load config", zap.Error(err))
	}

	// --- Search Backend ---
	searchClient, err := search.NewClient(cfg.Elastic)
	if err != nil {
		logging.Log.Fatal("could not connect to search backend", zap.Error(err))
	}
	defer searchClient.Close()

	// Index bootstrap runs in the background; queries against a missing
	// index fail loudly rather than blocking startup.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := searchClient.EnsureIndexes(ctx); err != nil {
			logging.Error("index bootstrap failed", zap.Error(err))
		}
	}()

	// --- Storage Grid ---
	sessions := grid.NewSessionPool(grid.Dial(cfg.Grid))
	defer sessions.Shutdown()

	// --- Workers ---
	background := worker.NewBackground(cfg.Workers.Background)
	background.Start(context.Background())
	defer background.Stop()

	immediate := worker.NewImmediate(cfg.Workers.Immediate)
	defer immediate.Stop()

	// --- Services ---
	authService := service.NewAuthService(searchClient, cfg.JWT.Secret, cfg.JWT.Expiration)
	catalogService := service.NewCatalogService(searchClient, sessions, immediate, background)
	collectionService := service.NewCollectionService(searchClient, sessions)
	uploadService := service.NewUploadService(searchClient, sessions, background, cfg.Upload)

	// --- HTTP Surface ---
	router := gin.Default()
	api.SetupRoutes(router, cfg.JWT.Secret, authService, catalogService, collectionService, uploadService)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Info("server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log.Fatal("listen and serve", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logging.Log.Fatal("server forced to shutdown", zap.Error(err))
	}

	logging.Info("server exiting")
}
