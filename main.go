package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticket-ledger/internal/analytics"
	analytics_api "ticket-ledger/internal/analytics/api"
	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/bank"
	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database/migrations"
	"ticket-ledger/internal/idempotency"
	"ticket-ledger/internal/kafka"
	"ticket-ledger/internal/ledger"
	ledgerdb "ticket-ledger/internal/ledger/db"
	"ticket-ledger/internal/ledger/ledger_api"
	"ticket-ledger/internal/ledger/qr"
	"ticket-ledger/internal/ledger/service"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/monitoring"
	"ticket-ledger/internal/sse"
	"ticket-ledger/internal/utils"
)

func openDatabase(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	driver := "postgres"
	if cfg.Driver == "sqlite" {
		driver = sqliteshim.ShimName
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to %s (attempt %d/%d)", cfg.Driver, i+1, maxRetries))
		sqldb, err = sql.Open(driver, cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect after %d attempts: %v", maxRetries, err))
	}

	if cfg.Driver == "sqlite" {
		// One writer; the ledger serializes commits anyway.
		sqldb.SetMaxOpenConns(1)
		log.Info("DATABASE", "SQLite connection successful")
		return bun.NewDB(sqldb, sqlitedialect.New())
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func prepareSchema(ctx context.Context, cfg config.DatabaseConfig, bunDB *bun.DB, store *ledgerdb.DB, log *logger.Logger) {
	if cfg.Driver != "postgres" || !cfg.AutoMigrate {
		if err := store.InitSchema(ctx); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
		}
		log.Info("DATABASE", "Schema ensured from models")
		return
	}
	runner := migrations.NewRunner(bunDB.DB, migrations.MigrateOptions{
		MigrationsDir: cfg.MigrationsDir,
		AutoMigrate:   true,
	}, log)
	defer runner.Close()
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Migrations failed: %v", err))
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func authMiddleware(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	if cfg.Mode == "hmac" {
		log.Warn("AUTH", "Using shared-secret HMAC tokens")
		return auth.HMACMiddleware(cfg.HMACSecret, log)
	}
	mw, err := auth.Middleware(ctx, cfg.OIDCIssuer, log)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("OIDC provider setup failed: %v", err))
	}
	log.Info("AUTH", fmt.Sprintf("Verifying tokens issued by %s", cfg.OIDCIssuer))
	return mw
}

// readiness reports whether the database answers and, with Kafka enabled,
// whether the ledger topic exists.
func readiness(bunDB *bun.DB, cfg config.KafkaConfig, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := bunDB.PingContext(ctx); err != nil {
			log.Warn("READY", fmt.Sprintf("database not ready: %v", err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if cfg.Enabled {
			topics, err := kafka.ListTopics(ctx, cfg.Brokers)
			if err != nil || !slices.Contains(topics, cfg.Topic) {
				log.Warn("READY", fmt.Sprintf("topic %s not ready: %v", cfg.Topic, err))
				http.Error(w, "kafka topic unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// requestLogger logs one line per request once it completes.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprint(ww.Status()), time.Since(start).String())
		})
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, ".env file not found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Options{
		Service:  "ticket-ledger",
		Dir:      cfg.Log.Dir,
		MinLevel: logger.ParseLevel(cfg.Log.Level),
	})
	defer log.Close()
	log.Info("APP", "Starting ticket ledger")

	ctx := context.Background()

	bunDB := openDatabase(cfg.Database, log)
	defer bunDB.Close()
	store := &ledgerdb.DB{Bun: bunDB}
	prepareSchema(ctx, cfg.Database, bunDB, store, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(registry)

	stream := sse.NewLedgerStream()
	opts := service.Options{Stream: stream, Metrics: metrics, Logger: log}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topic}); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		opts.Publisher = producer
		log.Info("KAFKA", fmt.Sprintf("Publishing ledger events to %s", cfg.Kafka.Topic))
	} else {
		log.Warn("KAFKA", "Kafka disabled; events are only persisted and streamed")
	}

	if cfg.QR.Secret != "" {
		passes, err := qr.NewPassGenerator(cfg.QR.Secret, cfg.QR.Size, cfg.QR.TTL)
		if err != nil {
			log.Fatal("QR", fmt.Sprintf("Pass generator: %v", err))
		}
		opts.Passes = passes
	} else {
		log.Warn("QR", "QR_SECRET not set; entry passes disabled")
	}

	l, err := ledger.New(ledger.Config{
		Deployer:         cfg.Ledger.Deployer,
		Escrow:           cfg.Ledger.Escrow,
		RoyaltyCeiling:   cfg.Ledger.RoyaltyCeiling,
		RoyaltyRecipient: cfg.Ledger.RoyaltyRecipient,
		RoyaltyRate:      cfg.Ledger.RoyaltyRate,
	})
	if err != nil {
		log.Fatal("LEDGER", fmt.Sprintf("Invalid ledger configuration: %v", err))
	}
	svc := service.New(l, bank.New(), store, opts)
	if err := svc.Restore(ctx); err != nil {
		log.Fatal("LEDGER", fmt.Sprintf("Restore failed: %v", err))
	}

	ledgerHandler := ledger_api.NewHandler(svc, store, stream, log)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(store), log)

	var idem *idempotency.Store
	if cfg.Redis.Enabled {
		rdb := connectRedis(ctx, cfg.Redis, log)
		defer rdb.Close()
		idem = idempotency.NewStore(rdb, cfg.Idempotency.TTL, log)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(utils.RequestID)
	r.Use(requestLogger(log))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, monitoring.Handler(registry))
		log.Info("ROUTER", fmt.Sprintf("Metrics exposed at %s", cfg.Metrics.Path))
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", readiness(bunDB, cfg.Kafka, log))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(ctx, cfg.Auth, log))
		if idem != nil {
			r.Use(idem.Middleware)
			log.Info("ROUTER", "Idempotency keys enabled for mutating routes")
		}
		r.Route("/api/ledger", func(r chi.Router) {
			ledgerHandler.RegisterRoutes(r)
			analyticsHandler.RegisterRoutes(r)
		})
		log.Info("ROUTER", "Ledger routes registered under /api/ledger")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticket ledger running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Ticket ledger shutdown complete")
	}
}
