package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/palma21/risk-monitor-bot/internal/app"
	"github.com/palma21/risk-monitor-bot/internal/config"
	"github.com/palma21/risk-monitor-bot/internal/monitoring"
	"github.com/palma21/risk-monitor-bot/internal/notifications"
	"github.com/palma21/risk-monitor-bot/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const manualRunTimeout = 30 * time.Minute

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting Risk Monitor Bot")

	// Initialize notification services
	notificationService := notifications.NewService(cfg)

	// Assemble storage, state, scoring and the pipeline
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	components, err := app.Build(startCtx, cfg, notificationService)
	cancelStart()
	if err != nil {
		logrus.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer components.Close()

	monitoringService := components.Service

	// Initialize scheduler
	schedulerService := scheduler.NewService(cfg, monitoringService)

	// Start scheduler
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// Set up HTTP server for health checks and manual triggers
	router := newRouter(monitoringService)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

// pipeline is what the HTTP handlers need from the monitoring service
type pipeline interface {
	RunCollection(ctx context.Context) error
	RunMonitor(ctx context.Context) error
	GetMetrics() string
}

var _ pipeline = (*monitoring.Service)(nil)

func newRouter(p pipeline) *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Run metrics as JSON, process metrics for Prometheus
	router.HandleFunc("/metrics", metricsHandler(p)).Methods("GET")
	router.Handle("/metrics/prometheus", promhttp.Handler()).Methods("GET")

	// Manual trigger endpoints
	router.HandleFunc("/trigger", triggerHandler("collection", p.RunCollection)).Methods("POST")
	router.HandleFunc("/trigger/monitor", triggerHandler("monitor", p.RunMonitor)).Methods("POST")

	return router
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func metricsHandler(p pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := p.GetMetrics()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(metrics))
	}
}

func triggerHandler(name string, run func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), manualRunTimeout)
			defer cancel()
			if err := run(ctx); err != nil {
				logrus.Errorf("Manual %s trigger failed: %v", name, err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"message":"` + name + ` run triggered successfully"}`))
	}
}
