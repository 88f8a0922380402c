package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/renderforge/resilience/pkg/config"
	"github.com/renderforge/resilience/pkg/logging"
	"github.com/renderforge/resilience/pkg/metrics"
	"github.com/renderforge/resilience/pkg/resilience"
	"github.com/renderforge/resilience/pkg/tracing"
)

func main() {
	// .env is optional; environment variables take precedence
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "monitord",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Subsystem: cfg.Metrics.Subsystem,
		Enabled:   cfg.Metrics.Enabled,
	})

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	alerts := resilience.NewAlertManager()
	alerts.AddHandler(resilience.NewLoggingAlertHandler())

	system := resilience.NewSystem(resilience.SystemConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialDelay:      cfg.Retry.InitialDelay,
			MaxDelay:          cfg.Retry.MaxDelay,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			Jitter:            cfg.Retry.Jitter,
		},
		BreakerDefaults: func(name string) resilience.CircuitBreakerConfig {
			return resilience.CircuitBreakerConfig{
				Name:             name,
				FailureThreshold: cfg.Breaker.FailureThreshold,
				SuccessThreshold: cfg.Breaker.SuccessThreshold,
				Timeout:          cfg.Breaker.Timeout,
				HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
			}
		},
		AnalyticsCapacity: cfg.Analytics.HistoryCapacity,
		Metrics:           m,
		Alerts:            alerts,
		Tracer:            tracer.Tracer(),
	})

	router := setupRoutes(cfg, system, m, tracer)

	server := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting resilience monitor", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error("Tracer shutdown failed", "error", err)
	}

	logger.Info("Server exited")
}

func setupRoutes(cfg *config.Config, system *resilience.System, m *metrics.Metrics, tracer *tracing.TracingService) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracer.TracingMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		health := system.GetSystemHealth()
		status := http.StatusOK
		if !health.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	})

	router.GET("/report", func(c *gin.Context) {
		c.JSON(http.StatusOK, system.GenerateResilienceReport())
	})

	router.GET("/metrics", gin.WrapH(m.Handler()))

	return router
}
