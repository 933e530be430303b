package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/admission"
	"github.com/cyphergate/cyphergate/internal/auth"
	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
	"github.com/cyphergate/cyphergate/internal/config"
	"github.com/cyphergate/cyphergate/internal/credit"
	"github.com/cyphergate/cyphergate/internal/creditcache"
	"github.com/cyphergate/cyphergate/internal/eventbus"
	"github.com/cyphergate/cyphergate/internal/kvstore"
	"github.com/cyphergate/cyphergate/internal/operation"
	"github.com/cyphergate/cyphergate/internal/queue"
	"github.com/cyphergate/cyphergate/internal/repository/httprepo"
	"github.com/cyphergate/cyphergate/internal/server"
	"github.com/cyphergate/cyphergate/internal/storage/sqlite"
	"github.com/cyphergate/cyphergate/internal/telemetry"
	"github.com/cyphergate/cyphergate/internal/timeout"
	"github.com/cyphergate/cyphergate/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting cyphergate", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	graphIDs := func() []string {
		ids := make([]string, len(cfg.Graphs))
		for i, g := range cfg.Graphs {
			ids[i] = g.GraphID
		}
		return ids
	}

	// Log configured API keys (names only, never key material).
	for _, k := range cfg.Auth.APIKeys {
		if k.Key == "" {
			slog.Warn("api key empty, skipped", "name", k.Name)
			continue
		}
		valid := strings.HasPrefix(k.Key, gateway.APIKeyPrefix)
		slog.Info("api key configured", "name", k.Name, "role", k.Role, "valid_prefix", valid)
	}
	keyEntries := make(map[string]auth.KeyEntry, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		if k.Key == "" {
			continue
		}
		keyEntries[k.Key] = auth.KeyEntry{
			Name:             k.Name,
			Role:             k.Role,
			OrgID:            k.OrgID,
			AccessibleGraphs: k.AccessibleGraphs,
		}
	}
	apiKeyAuth := auth.NewStaticAPIKeyAuth(keyEntries)

	// Shared DNS cache for the outbound repository client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	var repo gateway.Repository
	var usageProvider worker.UsageProvider
	if cfg.Repository.BaseURL != "" {
		client := httprepo.New(cfg.Repository.BaseURL, dnsResolver)
		repo = client
		usageProvider = client
		slog.Info("repository wired", "base_url", cfg.Repository.BaseURL)
	} else {
		slog.Warn("no repository configured, query endpoints will return errors")
	}

	kv := kvstore.NewMemory()

	cache, err := creditcache.New(kv)
	if err != nil {
		return err
	}
	repoCosts := config.BuildSharedRepoCostTable(cfg)
	creditSvc := credit.New(store, cache, repoCosts)

	admissionCfg := admission.DefaultConfig()
	admissionCfg.MemoryThreshold = cfg.Admission.MemoryThreshold
	admissionCfg.CPUThreshold = cfg.Admission.CPUThreshold
	admissionCfg.QueueThreshold = cfg.Admission.QueueThreshold
	admissionCfg.CheckInterval = cfg.Admission.CheckInterval
	admissionCfg.LoadSheddingEnabled = cfg.Admission.LoadSheddingEnabled
	admissionCfg.ShedStartPressure = cfg.Admission.ShedStartPressure
	admissionCfg.ShedStopPressure = cfg.Admission.ShedStopPressure
	admissionCfg.DefaultPriority = cfg.Queue.DefaultPriority
	admissionCtrl := admission.NewController(admissionCfg)
	defer admissionCtrl.Stop()

	executor := func(execCtx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		if repo == nil {
			return nil, gateway.ErrRepository
		}
		return repo.ExecuteQuery(execCtx, graphID, cypher, params)
	}
	queueCfg := queue.DefaultConfig()
	queueCfg.MaxQueueSize = cfg.Queue.MaxSize
	queueCfg.MaxConcurrent = cfg.Queue.MaxConcurrent
	queueCfg.MaxPerUser = cfg.Queue.MaxPerUser
	queueCfg.DefaultExecutionTimeout = cfg.Queue.DefaultExecutionTimeout
	q := queue.New(queueCfg, admissionCtrl, executor)

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Breaker.FailureThreshold
	breakerCfg.RecoveryTimeout = cfg.Breaker.RecoveryTimeout
	breakerCfg.HalfOpenMaxCalls = cfg.Breaker.HalfOpenMaxCalls
	breakers := circuitbreaker.NewRegistry(breakerCfg)

	eventBusCfg := eventbus.DefaultConfig()
	eventBusCfg.MaxConnectionsPerUser = cfg.EventBus.MaxConnectionsPerUser
	eventBusCfg.ConnectionRatePerMin = cfg.EventBus.ConnectionRatePerMin
	eventBusCfg.KeepaliveInterval = cfg.EventBus.KeepaliveInterval
	eventBusCfg.BreakerFailures = cfg.EventBus.MaxConsecutiveFailures
	bus := eventbus.New(kv, eventBusCfg)
	ops := operation.NewRegistry(time.Hour)

	// Workers. The queue's dispatch loop runs under the same supervision as
	// the scheduled credit/eviction sweeps, instead of only starting lazily
	// on first Submit.
	workers := []worker.Worker{
		q,
		worker.NewBreakerEvictionWorker(breakers, cfg.Billing.BreakerEvictionInterval, cfg.Billing.BreakerMaxIdle),
		worker.NewMonthlyAllocationWorker(creditSvc, graphIDs, cfg.Billing.MonthlyAllocationSchedule),
	}
	if usageProvider != nil {
		workers = append(workers, worker.NewStorageBillingWorker(
			creditSvc, usageProvider, graphIDs,
			gateway.CreditsFromFloat(cfg.Billing.PricePerGBDay), cfg.Billing.StorageBillingSchedule,
		))
	}
	runner := worker.NewRunner(workers...)

	// Prometheus metrics.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("cyphergate/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	handler := server.New(server.Deps{
		Auth:                 apiKeyAuth,
		Repository:           repo,
		Queue:                q,
		Credits:              creditSvc,
		Store:                store,
		Breakers:             breakers,
		Timeouts:             timeout.NewCoordinator(),
		EventBus:             bus,
		Operations:           ops,
		QueueMaxSize:         cfg.Queue.MaxSize,
		MaxConcurrent:        cfg.Queue.MaxConcurrent,
		DefaultPriority:      cfg.Queue.DefaultPriority,
		PriorityBoostPremium: cfg.Queue.PriorityBoostPremium,
		ServiceVersion:       version,
		Metrics:              metrics,
		MetricsHandler:       metricsHandler,
		Tracer:               tracer,
		ReadyCheck:           store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("cyphergate ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("cyphergate stopped")
	return nil
}
