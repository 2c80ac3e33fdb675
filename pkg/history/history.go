package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// DefaultMaxFixes bounds the trusted fix table
const DefaultMaxFixes = 5000

const schema = `
CREATE TABLE IF NOT EXISTS trusted_fixes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	accuracy REAL NOT NULL,
	provider TEXT NOT NULL,
	fix_time INTEGER NOT NULL,
	distance_m REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS arrivals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	dest_latitude REAL NOT NULL,
	dest_longitude REAL NOT NULL,
	radius REAL NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	accuracy REAL NOT NULL,
	provider TEXT NOT NULL,
	fix_time INTEGER NOT NULL,
	distance_m REAL NOT NULL,
	arrived_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trusted_fixes_time ON trusted_fixes(fix_time);
`

// FixRecord is a persisted trusted fix
type FixRecord struct {
	ID             int64           `json:"id"`
	Fix            pkg.LocationFix `json:"fix"`
	DistanceMeters float64         `json:"distance_m"`
}

// Store persists trusted fixes and arrivals in sqlite
type Store struct {
	db       *sql.DB
	logger   *logx.Logger
	maxFixes int
}

// Open opens (creating if needed) the history database at path. ":memory:" is accepted.
func Open(path string, logger *logx.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps an in-memory database alive and serialises writers
	db.SetMaxOpenConns(1)

	s := New(db, logger, DefaultMaxFixes)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("History database initialized", "database_path", path, "max_fixes", DefaultMaxFixes)
	return s, nil
}

// New wraps an open database. maxFixes <= 0 disables pruning.
func New(db *sql.DB, logger *logx.Logger, maxFixes int) *Store {
	return &Store{db: db, logger: logger, maxFixes: maxFixes}
}

// Migrate creates the tables
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFix stores a trusted fix and its distance to the destination
func (s *Store) RecordFix(ctx context.Context, fix pkg.LocationFix, distance float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trusted_fixes (latitude, longitude, accuracy, provider, fix_time, distance_m) VALUES (?, ?, ?, ?, ?, ?)`,
		fix.Latitude, fix.Longitude, float64(fix.Accuracy), fix.Provider, fix.Timestamp, distance,
	)
	if err != nil {
		return fmt.Errorf("failed to store fix: %w", err)
	}

	if s.maxFixes > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM trusted_fixes WHERE id <= (SELECT MAX(id) FROM trusted_fixes) - ?`, s.maxFixes)
		if err != nil {
			s.logger.Warn("Failed to prune fix history", "error", err)
			return nil
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.LogDebugVerbose("fix_history_pruned", map[string]interface{}{"deleted": n})
		}
	}
	return nil
}

// RecordArrival stores a triggered arrival
func (s *Store) RecordArrival(ctx context.Context, a pkg.Arrival) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arrivals (dest_latitude, dest_longitude, radius, latitude, longitude, accuracy, provider, fix_time, distance_m, arrived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Destination.Latitude, a.Destination.Longitude, float64(a.Destination.Radius),
		a.Fix.Latitude, a.Fix.Longitude, float64(a.Fix.Accuracy), a.Fix.Provider, a.Fix.Timestamp,
		a.DistanceMeters, a.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store arrival: %w", err)
	}
	return nil
}

// RecentFixes returns up to limit trusted fixes, newest first
func (s *Store) RecentFixes(ctx context.Context, limit int) ([]FixRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, accuracy, provider, fix_time, distance_m FROM trusted_fixes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var records []FixRecord
	for rows.Next() {
		var r FixRecord
		var accuracy float64
		if err := rows.Scan(&r.ID, &r.Fix.Latitude, &r.Fix.Longitude, &accuracy, &r.Fix.Provider, &r.Fix.Timestamp, &r.DistanceMeters); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		r.Fix.Accuracy = float32(accuracy)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentArrivals returns up to limit arrivals, newest first
func (s *Store) RecentArrivals(ctx context.Context, limit int) ([]pkg.Arrival, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dest_latitude, dest_longitude, radius, latitude, longitude, accuracy, provider, fix_time, distance_m, arrived_at
		FROM arrivals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query arrivals: %w", err)
	}
	defer rows.Close()

	var arrivals []pkg.Arrival
	for rows.Next() {
		var a pkg.Arrival
		var radius, accuracy float64
		var arrivedAt int64
		if err := rows.Scan(&a.Destination.Latitude, &a.Destination.Longitude, &radius,
			&a.Fix.Latitude, &a.Fix.Longitude, &accuracy, &a.Fix.Provider, &a.Fix.Timestamp,
			&a.DistanceMeters, &arrivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan arrival: %w", err)
		}
		a.Destination.Radius = float32(radius)
		a.Fix.Accuracy = float32(accuracy)
		a.Timestamp = time.UnixMilli(arrivedAt)
		arrivals = append(arrivals, a)
	}
	return arrivals, rows.Err()
}
