package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/cadplug/pkg/config"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

// openLedger connects to the configured database and migrates the ledger
// schema
func openLedger(ctx context.Context, cfg config.LedgerConfig, logger *logrus.Logger) (*sql.DB, *plugins.Ledger, error) {
	var dialect plugins.Dialect
	switch cfg.Driver {
	case config.DriverSQLite:
		dialect = plugins.DialectSQLite
	case config.DriverPostgres:
		dialect = plugins.DialectPostgres
	default:
		return nil, nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if dialect == plugins.DialectSQLite {
		// sqlite serializes writers; one connection also keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	ledger := plugins.NewLedger(db, dialect, logger)
	if err := ledger.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, ledger, nil
}
