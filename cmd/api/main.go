package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/docqa-orchestrator/internal/adapters/http"
	"github.com/kirillkom/docqa-orchestrator/internal/bootstrap"
	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/logging"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/metrics"
)

const (
	serviceName        = "api"
	writeTimeoutMargin = 30 * time.Second
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	routingMetrics := metrics.NewRoutingMetrics(serviceName, httpMetrics.Registerer())

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Async:           cfg.AsyncEnabled,
		RoutingObserver: routingMetrics,
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.QueryUC, app.JobsUC, app.VectorStore, httpMetrics).Handler()
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		slog.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "async_jobs", cfg.AsyncEnabled)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}

// writeTimeout leaves room for the slowest query the pipeline allows, retries and
// streamed generation included.
func writeTimeout(cfg config.Config) time.Duration {
	return bootstrap.JobTimeout(cfg) + writeTimeoutMargin
}
