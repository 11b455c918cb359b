// Command ledger-indexer rebuilds a read model from the ledger event topic.
// It keeps its own projection cursor, so several indexers can feed separate
// databases from the same topic. When INDEXER_SOURCE_DSN names the ledger's
// own PostgreSQL database, gaps in the topic are filled from its event log.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticket-ledger/internal/config"
	"ticket-ledger/internal/kafka"
	ledgerdb "ticket-ledger/internal/ledger/db"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
)

func main() {
	_ = config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger(logger.Options{
		Service:  "ledger-indexer",
		Dir:      cfg.Log.Dir,
		MinLevel: logger.ParseLevel(cfg.Log.Level),
	})
	defer log.Close()

	cursor := os.Getenv("INDEXER_CURSOR")
	if cursor == "" {
		cursor = cfg.Kafka.GroupID
	}

	var bunDB *bun.DB
	if cfg.Database.Driver == "sqlite" {
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Database.DSN)
		if err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to open SQLite: %v", err))
		}
		sqldb.SetMaxOpenConns(1)
		bunDB = bun.NewDB(sqldb, sqlitedialect.New())
	} else {
		sqldb, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
		}
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	}
	defer bunDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := &ledgerdb.DB{Bun: bunDB}
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
	}
	seq, err := store.Cursor(ctx, cursor)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to read cursor %s: %v", cursor, err))
	}
	log.Info("INDEXER", fmt.Sprintf("Cursor %s resumes after seq %d", cursor, seq))

	var source ledgerdb.EventSource
	if dsn := os.Getenv("INDEXER_SOURCE_DSN"); dsn != "" {
		sourceDB, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to open source log: %v", err))
		}
		sourceBun := bun.NewDB(sourceDB, pgdialect.New())
		defer sourceBun.Close()
		source = &ledgerdb.DB{Bun: sourceBun}

		n, err := store.CatchUp(ctx, cursor, source)
		if err != nil {
			log.Fatal("INDEXER", fmt.Sprintf("Initial catch-up failed: %v", err))
		}
		log.LogDatabase("CATCHUP", "ledger_events", fmt.Sprintf("applied %d events from the source log", n))
	}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	err = consumer.Start(ctx, func(ctx context.Context, ev models.LedgerEvent) error {
		applied, err := store.Project(ctx, cursor, ev)
		if errors.Is(err, ledgerdb.ErrSequenceGap) {
			if source == nil {
				// The service redelivers undelivered batches in order, so the
				// missing events and this one arrive again.
				log.Warn("INDEXER", fmt.Sprintf("Skipping seq %d until the gap is redelivered: %v", ev.Seq, err))
				return nil
			}
			n, err := store.CatchUp(ctx, cursor, source)
			if err != nil {
				return err
			}
			log.LogDatabase("CATCHUP", "ledger_events", fmt.Sprintf("applied %d events to close a gap at seq %d", n, ev.Seq))
			return nil
		}
		if err != nil {
			return err
		}
		if applied {
			log.Debug("INDEXER", fmt.Sprintf("Applied seq %d (%s)", ev.Seq, ev.Type))
		}
		return nil
	})
	if err != nil {
		log.Fatal("INDEXER", fmt.Sprintf("Consumer stopped: %v", err))
	}
	log.Info("INDEXER", "Indexer shutdown complete")
}
