// Command ledger-migrate applies or rolls back the PostgreSQL schema.
//
//	ledger-migrate up
//	ledger-migrate down
//	ledger-migrate to 1
//	ledger-migrate version
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"

	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database/migrations"
	"ticket-ledger/internal/logger"
)

func main() {
	dir := flag.String("dir", "", "migrations directory (defaults to the embedded set)")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ledger-migrate [-dir path] up|down|to <version>|version")
		os.Exit(2)
	}

	_ = config.LoadDotEnv()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_DSN not set")
		os.Exit(1)
	}
	log := logger.NewLogger(logger.Options{Service: "ledger-migrate"})
	defer log.Close()

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()

	runner := migrations.NewRunner(sqldb, migrations.MigrateOptions{MigrationsDir: *dir}, log)
	defer runner.Close()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to":
		var version uint64
		version, err = strconv.ParseUint(flag.Arg(1), 10, 32)
		if err == nil {
			err = runner.MigrateTo(uint(version))
		}
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = runner.Version()
		if err == nil {
			log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty: %t)", version, dirty))
		}
	default:
		log.Fatal("MIGRATE", fmt.Sprintf("unknown command %q", cmd))
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("%s complete", flag.Arg(0)))
}
