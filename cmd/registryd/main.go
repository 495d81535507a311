package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civreg/internal/platform/config"
	"civreg/internal/platform/httpserver"
	"civreg/internal/platform/logger"
	platformmetrics "civreg/internal/platform/metrics"
	"civreg/internal/platform/middleware"
	platformredis "civreg/internal/platform/redis"
	"civreg/internal/registry/adapters/geo"
	"civreg/internal/registry/arbitration"
	"civreg/internal/registry/audit"
	"civreg/internal/registry/certification"
	"civreg/internal/registry/duplicates"
	"civreg/internal/registry/handler"
	"civreg/internal/registry/identity"
	"civreg/internal/registry/identity/store/record"
	registrymetrics "civreg/internal/registry/metrics"
	"civreg/internal/registry/merge"
	"civreg/internal/registry/pivot"
	"civreg/internal/registry/scoring"
	"civreg/internal/registry/suspicion"
	exclusionstore "civreg/internal/registry/suspicion/store/exclusion"
	lockstore "civreg/internal/registry/suspicion/store/lock"
	suspectstore "civreg/internal/registry/suspicion/store/suspect"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/notify"
)

// main wires reference data, storage, and the registry services, then serves
// the API and ops endpoints until shutdown. Domain logic lives in internal
// packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("registryd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Reference data. The static source ships with the standard catalog;
	// certifier levels come from configuration.
	source := certification.NewStaticSource(certification.DefaultSpecs())
	for certifier, level := range cfg.CertifierLevels {
		source.GrantAll(certifier, level)
	}
	registry := certification.NewRegistry(source)
	if err := registry.Refresh(ctx); err != nil {
		return err
	}
	catalog := certification.NewCatalog(source)
	if err := catalog.Refresh(ctx); err != nil {
		return err
	}
	rules := duplicates.NewRuleCache(duplicates.StaticRuleSource(duplicates.DefaultRules()))
	if err := rules.Refresh(ctx); err != nil {
		return err
	}

	// Storage. Postgres when a DSN is configured, otherwise the in-memory
	// stores that double as the search collaborator.
	var (
		store      identity.Store
		search     duplicates.SearchIndex
		lister     duplicates.IdentityLister
		transactor identity.Transactor = identity.NopTransactor{}
		suspects   suspicion.SuspectStore
		exclusions suspicion.ExclusionStore
		checker    duplicates.ExclusionChecker
		locks      suspicion.LockStore
		auditStore audit.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		pg := record.NewPostgres(db)
		store, search, lister = pg, pg, pg
		transactor = newPostgresTransactor(db)
		suspects = suspectstore.NewPostgres(db)
		ex := exclusionstore.NewPostgres(db)
		exclusions, checker = ex, ex
		auditStore = audit.NewPostgres(db)
		log.Info("using postgres storage")
	} else {
		mem := record.NewMemoryStore()
		store, search, lister = mem, mem, mem
		suspects = suspectstore.NewMemoryStore()
		ex := exclusionstore.NewMemoryStore()
		exclusions, checker = ex, ex
		auditStore = audit.NewMemoryStore()
		log.Warn("no postgres DSN configured, using in-memory storage")
	}

	locks = lockstore.NewMemoryStore()
	rclient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if rclient != nil {
		defer rclient.Close()
		locks = lockstore.NewRedisStore(rclient.Client)
		log.Info("using redis suspicion locks")
	}

	// Notifications. Kafka when brokers are configured, otherwise events land
	// in the log. Every event also feeds the audit trail.
	var sink notify.Sink = notify.NewLogSink(log)
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := notify.NewKafkaSink(notify.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return err
		}
		defer ks.Close()
		sink = ks
		log.Info("publishing identity events to kafka", "topic", cfg.Kafka.Topic)
	}
	trail := audit.NewTrail(auditStore)
	publisher := notify.NewPublisher(notify.MultiSink{sink, trail},
		notify.WithAsyncBuffer(1024), notify.WithLogger(log))
	defer publisher.Close()

	metrics := registrymetrics.New()

	suspicions, err := suspicion.New(suspects, locks, exclusions, cfg.SuspicionLockTTL,
		suspicion.WithLogger(log),
		suspicion.WithMetrics(metrics),
		suspicion.WithNotifier(suspicionEvents{publisher}),
	)
	if err != nil {
		return err
	}

	var geoResolver pivot.GeoResolver
	if cfg.GeoURL != "" {
		geoResolver = geo.New(cfg.GeoURL, geo.WithLogger(log))
		log.Info("resolving birth places against reference service", "url", cfg.GeoURL)
	}

	engine := arbitration.New(registry, catalog, cfg.PivotThreshold)
	pivotValidator := pivot.New(registry, catalog, geoResolver, cfg.PivotThreshold, cfg.DomesticCountryCode)
	evaluator := duplicates.NewEvaluator(search, checker, duplicates.WithLogger(log))
	calculator, err := scoring.NewCalculator(catalog, cfg.MatchMismatchPenalty)
	if err != nil {
		return err
	}

	identities, err := identity.NewService(store, transactor, engine, pivotValidator,
		evaluator, rules, suspicions, calculator,
		identity.WithLogger(log),
		identity.WithNotifier(publisher),
		identity.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	merges, err := merge.New(store, transactor, engine, pivotValidator, suspicions,
		merge.WithLogger(log),
		merge.WithNotifier(publisher),
		merge.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	// Background workers.
	sweeper, err := suspicion.NewSweeper(suspicions, cfg.LockSweepInterval, log)
	if err != nil {
		return err
	}
	go sweeper.Run(ctx)

	if cfg.ScanInterval > 0 {
		scanner, err := duplicates.NewScanner(lister, evaluator, rules, suspicions, cfg.ScanBatchSize, log)
		if err != nil {
			return err
		}
		go runScanner(ctx, scanner, cfg.ScanInterval, log)
	}

	httpMetrics := platformmetrics.New()
	api := httpserver.New(cfg.APIAddr, apiRouter(cfg, log, httpMetrics,
		handler.New(identities, merges, suspicions, trail, log)))
	ops := httpserver.New(cfg.OpsAddr, opsRouter())

	serveErr := make(chan error, 2)
	go func() {
		log.Info("registryd serving api", "addr", cfg.APIAddr)
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	go func() {
		log.Info("registryd serving ops endpoints", "addr", cfg.OpsAddr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ops.Shutdown(shutdownCtx)
}

// apiRouter assembles the middleware chain around the registry handler.
func apiRouter(cfg config.Config, log *slog.Logger, m *platformmetrics.Metrics, h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Latency(m))
	h.Register(r)
	return r
}

// opsRouter serves liveness and metrics.
func opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func runScanner(ctx context.Context, scanner *duplicates.Scanner, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := scanner.Run(ctx)
			if err != nil {
				log.Error("population duplicate scan failed", "error", err)
				continue
			}
			log.Info("population duplicate scan done",
				"scanned", stats.Scanned, "flagged", stats.Flagged, "batches", stats.Batches)
		}
	}
}

// suspicionEvents forwards suspicion recordings onto the event stream.
type suspicionEvents struct {
	publisher *notify.Publisher
}

func (n suspicionEvents) SuspicionRecorded(ctx context.Context, cuid id.CustomerID, ruleCode string) {
	_ = n.publisher.Emit(ctx, notify.Event{
		Kind:       notify.KindSuspicionRecorded,
		Timestamp:  time.Now(),
		CustomerID: cuid,
		RuleCode:   ruleCode,
	})
}
