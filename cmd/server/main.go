// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/database"
	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(cfg)

	// Initialize i18n
	if err := i18n.Initialize(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Workflow sessions fall back to memory when the database is unreachable in development
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		if cfg.Environment == "production" {
			logrus.WithError(err).Fatal("Failed to initialize database")
		}
		logrus.WithError(err).Warn("Database unavailable, keeping workflow sessions in memory")
	}
	if db != nil {
		defer database.Close(db)
		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(db); err != nil {
				logrus.WithError(err).Fatal("Failed to run migrations")
			}
		}
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logrus.WithError(err).Warn("Redis unavailable, using in-process search cache")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	server, err := router.Initialize(ctx, router.Infrastructure{
		DB:    db,
		Redis: redisClient,
	}, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize router")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      server.Engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	stop()
	server.Workflows.Shutdown()

	logrus.Info("Server exited")
}

func configureLogging(cfg *config.Config) {
	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
		return
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
