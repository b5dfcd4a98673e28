package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	phttp "github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/http"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/localrunner"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/memory"
	pnats "github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/nats"
	potel "github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/otel"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/postgres"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/ristretto"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/ws"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/config"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/logger"
	portcache "github.com/IbIFACE-Tech/paracle-sub000/internal/port/cache"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/eventbus"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/repository"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/resilience"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workflows_dir", cfg.Workflows.Dir,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := potel.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := potel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metric instruments: %w", err)
	}

	// --- Definitions store ---
	var repo repository.Workflows
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")
		repo = postgres.NewStore(pool)
	} else {
		mem := memory.NewRepository()
		if cfg.Workflows.Dir != "" {
			wfs, err := workflow.LoadFromDirectory(cfg.Workflows.Dir)
			if err != nil {
				return fmt.Errorf("load workflows: %w", err)
			}
			if err := mem.Seed(wfs); err != nil {
				return fmt.Errorf("seed workflows: %w", err)
			}
			slog.Info("workflow definitions loaded", "dir", cfg.Workflows.Dir, "count", len(wfs))
		}
		repo = mem
	}

	// --- NATS ---
	var bus eventbus.Publisher
	if cfg.NATS.URL != "" {
		nb, err := pnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nb.Close() }()
		bus = nb
	}

	// --- Definitions cache ---
	var defsCache portcache.Cache
	if cfg.Cache.MaxSizeMB > 0 {
		rc, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer rc.Close()
		defsCache = rc
	}

	// --- Services ---
	hub := ws.NewHub()

	orch := resilience.NewOrchestrator(resilience.Config{
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			SuccessThreshold: cfg.Resilience.SuccessThreshold,
			RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		},
		Retry: resilience.Policy{
			MaxAttempts:  cfg.Resilience.MaxAttempts,
			Backoff:      resilience.Backoff(cfg.Resilience.Backoff),
			InitialDelay: cfg.Resilience.InitialDelay,
			MaxDelay:     cfg.Resilience.MaxDelay,
			JitterFactor: cfg.Resilience.JitterFactor,
		},
		MaxConcurrentCalls: cfg.Resilience.MaxConcurrentCalls,
		Timeout:            cfg.Resilience.StepTimeout,
	})

	workflowSvc := service.NewWorkflowService(repo, defsCache, cfg.Cache.TTL)
	approvalSvc := service.NewApprovalService(cfg.Approval, hub, bus, metrics)
	executionSvc := service.NewExecutionService(
		workflowSvc, localrunner.New(), approvalSvc, orch, hub, bus, metrics, cfg.Engine,
	)

	stopSweeper := approvalSvc.StartSweeper(ctx)
	defer stopSweeper()

	// --- HTTP ---
	handlers := &phttp.Handlers{
		Workflows:  workflowSvc,
		Executions: executionSvc,
		Approvals:  approvalSvc,
		Resilience: orch,
	}

	r := chi.NewRouter()
	r.Use(phttp.CORS(cfg.Server.CORSOrigin))
	r.Use(phttp.Logger)
	r.Use(potel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(cfg, hub))
	r.Get("/ws", hub.HandleWS)
	phttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports service health and connection counts.
func healthHandler(cfg *config.Config, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		Postgres      bool   `json:"postgres"`
		NATS          bool   `json:"nats"`
		WSConnections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:        "ok",
			Postgres:      cfg.Postgres.DSN != "",
			NATS:          cfg.NATS.URL != "",
			WSConnections: hub.ConnectionCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
