package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devdazzlee/canton-clob/libs/health"
	"github.com/devdazzlee/canton-clob/libs/httpmiddleware"
	"github.com/devdazzlee/canton-clob/libs/logging"
	"github.com/devdazzlee/canton-clob/libs/metrics"
	"github.com/devdazzlee/canton-clob/libs/trace"
	"github.com/devdazzlee/canton-clob/services/operator/internal/balance"
	"github.com/devdazzlee/canton-clob/services/operator/internal/config"
	"github.com/devdazzlee/canton-clob/services/operator/internal/identity"
	"github.com/devdazzlee/canton-clob/services/operator/internal/ledger"
	"github.com/devdazzlee/canton-clob/services/operator/internal/lifecycle"
	"github.com/devdazzlee/canton-clob/services/operator/internal/matching"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	ready := health.NewManager("ledger")

	creds := ledger.NewCredentialCache(buildTokenSource(cfg, logger), logging.WithComponent(logger, "credentials"))
	client := ledger.NewClient(cfg.Ledger.BaseURL, creds, cfg.Ledger.SubmitTimeout, logging.WithComponent(logger, "ledger"))

	consolidator := balance.NewConsolidator(client,
		logging.WithComponent(logger, "balance"),
		balance.NewMetrics(registry),
	)
	coordinator := lifecycle.NewCoordinator(consolidator, logging.WithComponent(logger, "lifecycle"))

	loop := matching.NewLoop(client, coordinator,
		matching.Config{
			OperatorParty: cfg.OperatorParty,
			Interval:      cfg.Matching.Interval,
			MaxPerCycle:   cfg.Matching.MaxPerCycle,
			SubmitTimeout: cfg.Ledger.SubmitTimeout,
		},
		logging.WithComponent(logger, "matching"),
		matching.NewMetrics(registry),
	)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx)

	go probeLedger(loopCtx, client, ready, logger)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("operator service starting", "addr", addr, "ledger", cfg.Ledger.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(server, stopLoop, logger)
}

func buildTokenSource(cfg *config.Config, logger *slog.Logger) ledger.TokenSource {
	if cfg.Identity.TokenURL != "" {
		return identity.NewClient(
			cfg.Identity.TokenURL,
			cfg.Identity.ClientID,
			cfg.Identity.ClientSecret,
			cfg.Identity.Audience,
			logging.WithComponent(logger, "identity"),
		)
	}
	logger.Warn("no identity provider configured, using static ledger token")
	return identity.StaticTokenSource{Token: cfg.Identity.StaticToken}
}

// probeLedger flips readiness once the operator can authenticate and see the
// ledger. Ping surfaces credential and transport failures that the regular
// read path degrades away. The matching loop runs regardless; it degrades
// per cycle.
func probeLedger(ctx context.Context, client *ledger.Client, ready *health.Manager, logger *slog.Logger) {
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(probeCtx)
		cancel()
		if err == nil {
			ready.SetReady("ledger", true)
			logger.Info("ledger reachable")
			return
		}
		logger.Warn("ledger not reachable yet", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func waitForShutdown(server *http.Server, stopLoop context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopLoop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
