package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daryls-hrplus/intellihrm-sub073/actions"
	"github.com/daryls-hrplus/intellihrm-sub073/config"
	"github.com/daryls-hrplus/intellihrm-sub073/ingest"
	"github.com/daryls-hrplus/intellihrm-sub073/internal/logger"
	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// Server wires the orchestrator's components behind the operator HTTP API.
type Server struct {
	db         *sql.DB
	cfg        *config.Config
	ruleStore  rules.Store
	guards     *rules.GuardSet
	drafts     *rules.DraftStore
	policy     rules.ApprovalPolicy
	log        actions.Store
	executor   *actions.Executor
	gateway    *actions.Gateway
	aggregator *actions.Aggregator
	orch       *actions.Orchestrator
	registry   *actions.Registry
	router     *chi.Mux
}

// NewServer builds the full pipeline. When cfg.Database.URL is empty the
// stores are in-memory, which is useful for local development.
func NewServer(cfg *config.Config, promReg *prometheus.Registry) (*Server, error) {
	var db *sql.DB
	var ruleStore rules.Store
	var log actions.Store

	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		ruleStore = rules.NewPostgresStore(db)
		log = actions.NewPostgresStore(db)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		ruleStore = rules.NewInMemoryStore()
		log = actions.NewInMemoryStore()
	}

	guards, err := rules.NewGuardSet()
	if err != nil {
		return nil, err
	}

	registry := actions.NewRegistry()
	for module, url := range cfg.Targets {
		if err := registry.Register(module, actions.NewWebhookTarget(url)); err != nil {
			return nil, err
		}
	}

	executor := actions.NewExecutor(log, registry, actions.ExecutorConfig{
		Workers:    cfg.Executor.Workers,
		QueueSize:  cfg.Executor.QueueSize,
		Timeout:    cfg.ExecutorTimeout(),
		Prometheus: promReg,
	})

	policy := rules.ApprovalPolicy{
		MandatoryNeedsApproval: cfg.Approval.MandatoryNeedsApproval,
	}
	for _, at := range cfg.Approval.ActionTypes {
		policy.ActionTypes = append(policy.ActionTypes, rules.ActionType(at))
	}

	s := &Server{
		db:         db,
		cfg:        cfg,
		ruleStore:  ruleStore,
		guards:     guards,
		drafts:     rules.NewDraftStore(),
		policy:     policy,
		log:        log,
		executor:   executor,
		gateway:    actions.NewGateway(log, executor),
		aggregator: actions.NewAggregator(log, cfg.StatsTTL()),
		orch:       actions.NewOrchestrator(ruleStore, guards, log, actions.NewDispatcher(log), executor),
		registry:   registry,
	}
	s.setupRoutes(promReg)
	return s, nil
}

func (s *Server) setupRoutes(promReg *prometheus.Registry) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	r.Post("/api/v1/events", s.handleSubmitEvent)

	r.Route("/api/v1/companies/{companyId}", func(r chi.Router) {
		r.Post("/rules", s.handleCreateRule)
		r.Get("/rules", s.handleListRules)
		r.Get("/rules/{ruleId}", s.handleGetRule)
		r.Put("/rules/{ruleId}", s.handleUpdateRule)
		r.Delete("/rules/{ruleId}", s.handleDeactivateRule)

		r.Post("/drafts", s.handleCreateDraft)
		r.Get("/drafts", s.handleListDrafts)
		r.Post("/drafts/{draftId}/promote", s.handlePromoteDraft)
		r.Delete("/drafts/{draftId}", s.handleDiscardDraft)
	})

	r.Get("/api/v1/executions", s.handleListExecutions)
	r.Post("/api/v1/executions/approve", s.handleBulkApprove)
	r.Post("/api/v1/executions/reject", s.handleBulkReject)
	r.Post("/api/v1/executions/{executionId}/retry", s.handleRetry)
	r.Get("/api/v1/stats", s.handleStats)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the database handle.
func (s *Server) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("load config", "error", err)
	}

	promReg := prometheus.NewRegistry()
	server, err := NewServer(cfg, promReg)
	if err != nil {
		logger.Fatal("create server", "error", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.executor.Start(ctx); err != nil {
		logger.Fatal("start executor", "error", err)
	}
	if n, err := server.executor.Recover(ctx); err != nil {
		logger.Error("recover stranded executions", "error", err)
	} else if n > 0 {
		logger.Info("recovered stranded executions", "count", n)
	}

	var consumer *ingest.Consumer
	if cfg.NATS.URL != "" {
		consumer, err = ingest.NewConsumer(cfg.NATS.URL, cfg.NATS.Subject, server.orch)
		if err != nil {
			logger.Fatal("connect ingest", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("start ingest", "error", err)
		}
		defer consumer.Close()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "targets", server.registry.Modules())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := server.executor.Stop(15 * time.Second); err != nil {
		logger.Error("executor shutdown", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Error("logger shutdown", "error", err)
	}
	logger.Info("server stopped")
}
