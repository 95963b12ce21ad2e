package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/DOCKR/internal/config"
	serrors "github.com/copyleftdev/DOCKR/internal/errors"
	"github.com/copyleftdev/DOCKR/internal/logging"
	"github.com/copyleftdev/DOCKR/internal/metrics"
	"github.com/copyleftdev/DOCKR/internal/server"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "dockr",
		"version": version,
		"env":     cfg.Environment,
	})

	recorder, err := metrics.NewPrometheus(prometheus.DefaultRegisterer)
	if err != nil {
		serviceLogger.Fatal("Failed to register metrics", map[string]interface{}{"error": err.Error()})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(serrors.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("Health check")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, serviceLogger, server.WithMetrics(recorder))
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":  httpServer.Addr,
			"strategy": cfg.Docking.Strategy,
			"max_jobs": cfg.Docking.MaxJobs,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	// Running jobs are cancelled; Close waits for them to return.
	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
	}

	serviceLogger.Info("server exited properly")
}
