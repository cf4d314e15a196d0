// Package eventstore is the C4 component: the relational sink for
// decoded events and the per-contract ingestion cursor. It owns the
// events and indexer_state tables described in the external schema,
// and is the only component that writes either.
package eventstore

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3" // migration driver for sqlite3
	"github.com/golang-migrate/migrate/v4/source/iofs"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Store wraps a SQLite connection holding the events and
// indexer_state tables.
type Store struct {
	URI string
	DB  *sql.DB
	log zerolog.Logger
}

// Open connects to path (creating the database file if absent),
// instruments the connection pool with otelsql, and brings the
// schema up to date via golang-migrate.
func Open(path string, attributes ...attribute.KeyValue) (*Store, error) {
	log := logger.With().Str("component", "eventstore").Logger()

	db, err := otelsql.Open("sqlite3", path, otelsql.WithAttributes(attributes...))
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %s", err)
	}
	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(attributes...)); err != nil {
		return nil, fmt.Errorf("registering dbstats: %s", err)
	}

	store := &Store{URI: path, DB: db, log: log}
	if err := store.migrate(path); err != nil {
		return nil, fmt.Errorf("initializing db connection: %s", err)
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate(dbURI string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("creating source driver: %s", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+dbURI)
	if err != nil {
		return fmt.Errorf("creating migration: %s", err)
	}
	defer func() {
		if _, err := m.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing db migration")
		}
	}()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migration up: %s", err)
	}

	version, dirty, err := m.Version()
	s.log.Info().
		Uint("dbVersion", version).
		Bool("dirty", dirty).
		Err(err).
		Msg("database migration executed")

	return nil
}
