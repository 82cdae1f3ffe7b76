/*
Package main is the entry point for the meditation community server.

It is responsible for loading configuration, initializing the global logging system,
connecting to the database and object storage, starting the session manager with its
daily flush scheduler, and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sebpessy/meditation-community-sub001/internal/app/session"
	"github.com/Sebpessy/meditation-community-sub001/internal/app/store"
	"github.com/Sebpessy/meditation-community-sub001/internal/app/storage"
	"github.com/Sebpessy/meditation-community-sub001/internal/configs"
	"github.com/Sebpessy/meditation-community-sub001/internal/handler"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("session_timezone", cfg.SessionTimezone).
		Dur("grace_window", cfg.GraceWindow).
		Dur("sweep_interval", cfg.SweepInterval).
		Int("message_window", cfg.MessageWindowSize).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.SessionTimezone)
	if err != nil {
		logx.Fatal(err, "Failed to load session timezone")
	}

	pool, err := store.NewPool(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to connect to database")
	}
	defer pool.Close()

	avatars, err := storage.NewAvatarStorage(storage.ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		logx.Fatal(err, "Failed to initialize avatar storage")
	}

	manager := session.NewManager(store.NewMessages(pool), session.Options{
		Location:      loc,
		GraceWindow:   cfg.GraceWindow,
		SweepInterval: cfg.SweepInterval,
		WindowSize:    cfg.MessageWindowSize,
	})

	deps := &handler.AppDeps{
		Manager: manager,
		Config:  cfg,
		Avatars: avatars,
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Router(deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Meditation community server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}
