// Package history persists measurement runs in SQLite or PostgreSQL.
package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/report"
)

var (
	// ErrDriver is returned for an unsupported database driver.
	ErrDriver = errors.NewError(errors.ErrorTypeStorage, "HISTORY_DRIVER", "unsupported history driver")
	// ErrOpen wraps a failure to open or initialise the database.
	ErrOpen = errors.NewError(errors.ErrorTypeStorage, "HISTORY_OPEN", "failed to open history database")
	// ErrQuery wraps a failed statement.
	ErrQuery = errors.NewError(errors.ErrorTypeStorage, "HISTORY_QUERY", "history query failed")
	// ErrNotFound is returned by Get for an unknown run id.
	ErrNotFound = errors.NewError(errors.ErrorTypeStorage, "HISTORY_NOT_FOUND", "run not found")
)

// Config selects the history database. An empty Driver disables history.
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// Enabled reports whether a driver is configured.
func (c Config) Enabled() bool {
	return c.Driver != ""
}

// Run is one persisted invocation.
type Run struct {
	ID        string
	Category  string
	Command   string
	Hostname  string
	CreatedAt time.Time
	Stats     []report.Stats
}

// Store reads and writes runs.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
	driver string
}

func normalizeDriver(driver string) (string, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", ErrDriver.WithContext("driver", driver)
	}
}

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, logger *zap.Logger, config Config) (*Store, error) {
	driver, err := normalizeDriver(config.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, ErrOpen.WithError(err).WithContext("driver", driver)
	}
	if driver == "sqlite3" {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, ErrOpen.WithError(err).WithContext("driver", driver)
	}

	s := &Store{logger: logger, db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, ErrOpen.WithError(err).WithContext("driver", driver)
	}

	logger.Debug("History database opened", zap.String("driver", driver))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id VARCHAR(64) PRIMARY KEY,
			category VARCHAR(32) NOT NULL,
			command TEXT NOT NULL,
			hostname VARCHAR(255) NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS measurements (
			run_id VARCHAR(64) NOT NULL REFERENCES runs(run_id),
			label VARCHAR(255) NOT NULL,
			samples BIGINT NOT NULL,
			average_ms BIGINT NOT NULL,
			total_ms DOUBLE PRECISION NOT NULL,
			mean_ms DOUBLE PRECISION NOT NULL,
			stddev_ms DOUBLE PRECISION NOT NULL,
			min_ms DOUBLE PRECISION NOT NULL,
			max_ms DOUBLE PRECISION NOT NULL,
			p50_ms DOUBLE PRECISION NOT NULL,
			p95_ms DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, label)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save stores run and its measurements in one transaction.
func (s *Store) Save(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ErrQuery.WithError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO runs (run_id, category, command, hostname, created_at) VALUES (?, ?, ?, ?, ?)`),
		run.ID, run.Category, run.Command, run.Hostname, run.CreatedAt.UnixMilli(),
	); err != nil {
		return ErrQuery.WithError(err).WithContext("run_id", run.ID)
	}

	insert := s.rebind(`INSERT INTO measurements
		(run_id, label, samples, average_ms, total_ms, mean_ms, stddev_ms, min_ms, max_ms, p50_ms, p95_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, st := range run.Stats {
		if _, err := tx.ExecContext(ctx, insert,
			run.ID, st.Label, st.Count, st.AverageMs, st.TotalMs, st.MeanMs,
			st.StdDevMs, st.MinMs, st.MaxMs, st.P50Ms, st.P95Ms,
		); err != nil {
			return ErrQuery.WithError(err).WithContext("label", st.Label)
		}
	}

	if err := tx.Commit(); err != nil {
		return ErrQuery.WithError(err).WithContext("run_id", run.ID)
	}

	s.logger.Debug("Run saved",
		zap.String("run_id", run.ID),
		zap.Int("measurements", len(run.Stats)),
	)
	return nil
}

// List returns the most recent runs, newest first, without measurements.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT run_id, category, command, hostname, created_at
			FROM runs ORDER BY created_at DESC, run_id LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, ErrQuery.WithError(err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			created int64
		)
		if err := rows.Scan(&run.ID, &run.Category, &run.Command, &run.Hostname, &created); err != nil {
			return nil, ErrQuery.WithError(err)
		}
		run.CreatedAt = time.UnixMilli(created).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrQuery.WithError(err)
	}
	return runs, nil
}

// Get loads one run with its measurements ordered by label.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var (
		run     Run
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT run_id, category, command, hostname, created_at FROM runs WHERE run_id = ?`),
		id,
	).Scan(&run.ID, &run.Category, &run.Command, &run.Hostname, &created)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound.WithContext("run_id", id)
	}
	if err != nil {
		return nil, ErrQuery.WithError(err).WithContext("run_id", id)
	}
	run.CreatedAt = time.UnixMilli(created).UTC()

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT label, samples, average_ms, total_ms, mean_ms, stddev_ms, min_ms, max_ms, p50_ms, p95_ms
			FROM measurements WHERE run_id = ? ORDER BY label`),
		id,
	)
	if err != nil {
		return nil, ErrQuery.WithError(err).WithContext("run_id", id)
	}
	defer rows.Close()

	for rows.Next() {
		var st report.Stats
		if err := rows.Scan(&st.Label, &st.Count, &st.AverageMs, &st.TotalMs, &st.MeanMs,
			&st.StdDevMs, &st.MinMs, &st.MaxMs, &st.P50Ms, &st.P95Ms); err != nil {
			return nil, ErrQuery.WithError(err).WithContext("run_id", id)
		}
		run.Stats = append(run.Stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrQuery.WithError(err).WithContext("run_id", id)
	}
	return &run, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
