// Package feedback persists user selections and the per-prefix popularity
// counters derived from them.
//
// Every operation, read or write, runs under one store-wide mutex so that
// concurrent selections never lose an increment.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/geosuggest/geosuggest/internal/pkg/errors"
)

// PrefixLength is the number of characters of a query that key popularity.
const PrefixLength = 3

// SelectedItem is the place a user picked from a suggestion list.
type SelectedItem struct {
	PlaceID     string `json:"osm_id"`
	DisplayName string `json:"display_name"`
}

// Selection is one recorded (query, place) pick.
type Selection struct {
	Query       string    `json:"query"`
	PlaceID     string    `json:"osm_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

// Popularity is the accumulated selection count for a place under a prefix.
type Popularity struct {
	QueryPrefix string    `json:"query_prefix"`
	PlaceID     string    `json:"osm_id"`
	DisplayName string    `json:"display_name"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Stats summarizes the store contents.
type Stats struct {
	Selections     int64  `json:"selections"`
	PopularityRows int64  `json:"popularity_rows"`
	SchemaVersion  string `json:"schema_version"`
	Driver         string `json:"driver"`
}

// Store is the SQLite-backed feedback store.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// QueryPrefix returns the popularity key for a query: its first three
// characters, lowercased.
func QueryPrefix(query string) string {
	lower := []rune(strings.ToLower(query))
	if len(lower) > PrefixLength {
		lower = lower[:PrefixLength]
	}
	return string(lower)
}

// openDatabase opens SQLite with the settings the store relies on.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from single writer; this also keeps :memory: databases
	// on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open opens (creating if needed) the store at dbPath and applies migrations.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSelection stores the pick of item for query and bumps its popularity
// under the query's prefix. A repeated (query, place) pair is stored once
// but still increments the counter.
func (s *Store) RecordSelection(ctx context.Context, query string, item SelectedItem) error {
	if query == "" {
		return apperrors.ValidationError("query is required")
	}
	if item.PlaceID == "" {
		return apperrors.ValidationError("selected_item.osm_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.PersistenceError("failed to record selection", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO selections
		(query, selected_osm_id, selected_display_name, timestamp)
		VALUES (?, ?, ?, ?)`,
		query, item.PlaceID, item.DisplayName, now,
	); err != nil {
		return apperrors.PersistenceError("failed to record selection", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO popularity (query_prefix, osm_id, display_name, count, last_updated)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(query_prefix, osm_id) DO UPDATE SET
			count = count + 1,
			last_updated = excluded.last_updated`,
		QueryPrefix(query), item.PlaceID, item.DisplayName, now,
	); err != nil {
		return apperrors.PersistenceError("failed to update popularity", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.PersistenceError("failed to commit selection", err)
	}
	return nil
}

// PopularResults returns at most limit popularity records for prefix, most
// selected first. Equal counts are ordered by place id.
func (s *Store) PopularResults(ctx context.Context, prefix string, limit int) ([]Popularity, error) {
	if limit <= 0 {
		return []Popularity{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT query_prefix, osm_id, display_name, count, last_updated
		FROM popularity
		WHERE query_prefix = ?
		ORDER BY count DESC, osm_id ASC
		LIMIT ?`,
		strings.ToLower(prefix), limit,
	)
	if err != nil {
		return nil, apperrors.PersistenceError("failed to read popularity", err)
	}
	defer rows.Close()

	results := make([]Popularity, 0, limit)
	for rows.Next() {
		var (
			p       Popularity
			updated string
		)
		if err := rows.Scan(&p.QueryPrefix, &p.PlaceID, &p.DisplayName, &p.Count, &updated); err != nil {
			return nil, apperrors.PersistenceError("failed to read popularity", err)
		}
		p.LastUpdated, _ = time.Parse(time.RFC3339Nano, updated)
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.PersistenceError("failed to read popularity", err)
	}
	return results, nil
}

// Selections returns the recorded selections for query, oldest first.
func (s *Store) Selections(ctx context.Context, query string) ([]Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT query, selected_osm_id, selected_display_name, timestamp
		FROM selections
		WHERE query = ?
		ORDER BY id ASC`,
		query,
	)
	if err != nil {
		return nil, apperrors.PersistenceError("failed to read selections", err)
	}
	defer rows.Close()

	var out []Selection
	for rows.Next() {
		var (
			sel Selection
			ts  string
		)
		if err := rows.Scan(&sel.Query, &sel.PlaceID, &sel.DisplayName, &ts); err != nil {
			return nil, apperrors.PersistenceError("failed to read selections", err)
		}
		sel.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, sel)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.PersistenceError("failed to read selections", err)
	}
	return out, nil
}

// Stats returns row counts and the schema version.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Driver: DriverName}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM selections").Scan(&st.Selections); err != nil {
		return st, fmt.Errorf("counting selections: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM popularity").Scan(&st.PopularityRows); err != nil {
		return st, fmt.Errorf("counting popularity: %w", err)
	}
	v, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return st, err
	}
	st.SchemaVersion = v.String()
	return st, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.PingContext(ctx)
}
