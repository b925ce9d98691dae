package jit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound indicates the requested run has no stored snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		run TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS units (
		run TEXT NOT NULL,
		name TEXT NOT NULL,
		invocations INTEGER NOT NULL,
		compiled_runs INTEGER NOT NULL,
		tier TEXT NOT NULL,
		PRIMARY KEY (run, name)
	)`,
}

// Store keeps profile snapshots of many runs in a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores snap under run, replacing an earlier snapshot of that run.
func (s *Store) Save(ctx context.Context, run string, snap *ProfileSnapshot) error {
	data, err := MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO snapshots (run, data) VALUES (?, ?)", run, data); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM units WHERE run = ?", run); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	for _, u := range snap.Units {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO units (run, name, invocations, compiled_runs, tier) VALUES (?, ?, ?, ?, ?)",
			run, u.Name, int64(u.Invocations), int64(u.CompiledRuns), u.Tier)
		if err != nil {
			return fmt.Errorf("saving unit %s: %w", u.Name, err)
		}
	}
	return tx.Commit()
}

// Load returns the snapshot stored under run.
func (s *Store) Load(ctx context.Context, run string) (*ProfileSnapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE run = ?", run).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return UnmarshalSnapshot(data)
}

// Runs returns the stored run names in order.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT run FROM snapshots ORDER BY run")
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Hottest returns up to limit chunks ordered by their invocations summed
// over all runs. Tier is that of the chunk's most invoked run.
func (s *Store) Hottest(ctx context.Context, limit int) ([]CodeStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, SUM(invocations) AS total, SUM(compiled_runs)
		FROM units GROUP BY name ORDER BY total DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	var out []CodeStats
	for rows.Next() {
		var u CodeStats
		var total, compiled int64
		if err := rows.Scan(&u.Name, &total, &compiled); err != nil {
			return nil, err
		}
		u.Invocations = uint64(total)
		u.CompiledRuns = uint64(compiled)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		err := s.db.QueryRowContext(ctx,
			"SELECT tier FROM units WHERE name = ? ORDER BY invocations DESC LIMIT 1", out[i].Name).Scan(&out[i].Tier)
		if err != nil {
			return nil, fmt.Errorf("querying tier of %s: %w", out[i].Name, err)
		}
	}
	return out, nil
}
