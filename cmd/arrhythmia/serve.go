package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/grpcapi"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/handlers"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ingest"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/middleware"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/training"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health service, training pool and MQTT ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.Load())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	config.InitLogger()
	slog.Info("Starting application", "version", version)
	slog.Info("Configuration loaded successfully",
		"server_port", cfg.Server.Port,
		"gin_mode", cfg.Server.Mode,
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pool := training.NewPool(a.trainer, cfg.Training.Workers, cfg.Training.QueueSize)
	pool.Start()

	jwtService := service.NewJWTService(cfg.JWT)
	userService := service.NewUserService(repository.NewUserRepository(a.db), jwtService)

	router := (&handlers.Router{
		Auth:     handlers.NewAuthHandlers(userService, jwtService, cfg.Server.Env == "production"),
		Patients: handlers.NewPatientHandlers(a.patients),
		Model:    handlers.NewModelHandlers(a.inference, a.models, a.store, pool, a.journal),
		Health:   handlers.NewHealthHandler(a.db),
		JWT:      middleware.NewJWTMiddleware(jwtService, userService),
	}).SetupRoutes(cfg.Server)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	grpcServer := grpcapi.NewServer(func() error { return database.HealthCheck(a.db) }, 0)
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return err
	}
	go func() {
		if err := grpcServer.Serve(ctx, lis); err != nil {
			slog.Error("gRPC server stopped", "error", err)
		}
	}()

	var (
		processor  *ingest.Processor
		mqttClient mqtt.Client
	)
	if cfg.MQTT.Broker != "" {
		processor = ingest.NewProcessor(a.inference, ingest.Options{
			ModelName: cfg.ML.IngestModelName,
			Width:     cfg.ML.FeatureWidth,
		})
		mqttClient, err = ingest.Connect(cfg.MQTT, processor)
		if err != nil {
			slog.Warn("MQTT ingest not connected", "broker", cfg.MQTT.Broker, "error", err)
		}
	} else {
		slog.Info("MQTT broker not configured, live ingest disabled")
	}

	slog.Info("Server started successfully", "port", cfg.Server.Port, "grpc_port", cfg.GRPC.Port)

	waitForShutdown(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// сначала перестаем принимать запросы, затем дорабатываем очереди
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
	if processor != nil {
		processor.Stop()
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		slog.Error("Training pool did not drain", "error", err)
	}

	slog.Info("Server gracefully stopped")
	return nil
}

func waitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		slog.Info("Shutdown signal received")
	case <-ctx.Done():
	}
}
