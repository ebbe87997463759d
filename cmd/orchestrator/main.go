package main

import (
	"context"
	"fmt"
	stlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trainchimp/finetune-orchestrator/internal/config"
	consul_client "github.com/trainchimp/finetune-orchestrator/internal/consul"
	"github.com/trainchimp/finetune-orchestrator/internal/datasets"
	"github.com/trainchimp/finetune-orchestrator/internal/events"
	"github.com/trainchimp/finetune-orchestrator/internal/handlers"
	"github.com/trainchimp/finetune-orchestrator/internal/hub"
	"github.com/trainchimp/finetune-orchestrator/internal/orchestrator"
	"github.com/trainchimp/finetune-orchestrator/internal/provider/runpod"
	"github.com/trainchimp/finetune-orchestrator/internal/server"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		stlog.Fatalf("Failed to load configuration: %v", err) // Use standard log before Zap is up
	}

	// --- Logger ---
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		stlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync() // Flush logs before exiting
	}()

	logger.Info("Fine-Tune Orchestrator Service starting up...")

	// --- Consul Client & Service Registration ---
	consulClient, err := consul_client.Connect(cfg.ConsulAddress, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Consul agent", zap.Error(err))
	}

	serviceID := config.GenerateServiceID(cfg.ServiceIDPrefix)
	if err := consul_client.RegisterService(consulClient, cfg, serviceID, logger); err != nil {
		logger.Fatal("Failed to register service with Consul", zap.Error(err))
	}
	logger.Info("Successfully registered service with Consul",
		zap.String("service_name", cfg.ServiceName),
		zap.String("service_id", serviceID),
	)

	// --- NATS Client ---
	nc, err := events.Connect(cfg.NatsAddress, logger)
	if err != nil {
		// Status events are fire-and-forget; run degraded without them.
		logger.Error("Failed to establish initial NATS connection. Status events disabled.", zap.Error(err))
	}
	if nc != nil {
		defer nc.Close()
	}

	// --- Collaborators ---
	store := hub.NewClient(cfg.HubBaseURL, cfg.HubToken, cfg.HubRequestTimeout, logger)

	provisioner := runpod.NewClient(runpod.Config{
		BaseURL:         cfg.RunpodBaseURL,
		APIKey:          cfg.RunpodAPIKey,
		Image:           cfg.TrainerImage,
		StartCommand:    cfg.TrainerStartCmd,
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
	}, logger)

	orc := orchestrator.New(orchestrator.Settings{
		Namespace:        cfg.HubNamespace,
		PrivateArtifacts: cfg.HubPrivateRepos,
		TrainerEnv:       cfg.TrainerEnv,
	}, store, provisioner, logger)

	if cfg.DatasetStorage.Endpoint != "" {
		verifier, err := datasets.NewVerifier(cfg.DatasetStorage, logger)
		if err != nil {
			logger.Fatal("Failed to initialize dataset storage client", zap.Error(err))
		}
		orc.SetDatasetVerifier(verifier)
	} else {
		logger.Warn("Dataset storage not configured, dataset verification disabled")
	}

	if nc != nil {
		orc.SetStatusPublisher(events.NewPublisher(nc, cfg.NatsStatusSubjectPrefix, logger))
	}

	// --- Setup Router and HTTP Server ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewStructuredLogger(logger)) // Zap logging middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// Health Check endpoint (required by Consul registration)
	r.Get(cfg.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
		healthStatus := http.StatusOK
		healthMsg := "Fine-Tune Orchestrator Service is healthy."

		if nc == nil || nc.Status() != nats.CONNECTED {
			healthStatus = http.StatusServiceUnavailable
			healthMsg = "NATS connection is down."
		} else {
			healthMsg += " NATS: OK."
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(healthStatus)
		fmt.Fprintln(w, healthMsg)
	})

	fineTuneHandler := handlers.NewFineTuneHandler(orc, logger)
	r.Mount("/api/v1/fine-tunes", fineTuneHandler.Routes())

	srv := server.NewServer(cfg, r, logger)

	// --- Start Server Goroutine ---
	go srv.Start()

	// --- Graceful Shutdown & Consul Deregistration ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	logger.Info("Shutdown signal received, starting graceful shutdown...")

	if err := consul_client.DeregisterService(consulClient, serviceID, logger); err != nil {
		logger.Error("Error deregistering service from Consul", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv.Stop(ctx)

	if nc != nil {
		logger.Info("Draining NATS connection...")
		if err := nc.Drain(); err != nil {
			logger.Error("Error draining NATS connection", zap.Error(err))
		}
	}

	logger.Info("Fine-Tune Orchestrator Service gracefully stopped")
}

// setupLogger configures Zap based on the log level string.
func setupLogger(levelString string) (*zap.Logger, error) {
	var logLevel zapcore.Level
	if err := logLevel.Set(levelString); err != nil {
		logLevel = zapcore.InfoLevel // Default to info if parsing fails
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(logLevel),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// NewStructuredLogger returns a middleware that logs request details using Zap.
func NewStructuredLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("Request completed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_ip", r.RemoteAddr),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
