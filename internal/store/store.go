package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrEchoPathNotFound is returned when no echo path is stored for a
	// profile and sample rate.
	ErrEchoPathNotFound = errors.New("echo path not found")

	// ErrRunNotFound is returned when no run exists for an ID.
	ErrRunNotFound = errors.New("run not found")
)

// EchoPath is an exported filter snapshot saved under a profile name.
type EchoPath struct {
	Profile    string
	SampleRate int
	Mode       string
	CNG        bool
	Snapshot   []byte
	UpdatedAt  time.Time
}

// Run records one offline processing job.
type Run struct {
	ID                 string
	Profile            string
	FarPath            string
	NearPath           string
	OutPath            string
	SampleRate         int
	Frames             int64
	Mode               string
	CNG                bool
	ERLE               float64
	Delay              int
	DivergenceResets   int64
	InsufficientFarend int64
	StartedAt          time.Time
	Duration           time.Duration
}

// Store persists echo paths and run history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS echo_paths (
	profile TEXT NOT NULL,
	sample_rate INTEGER NOT NULL,
	mode TEXT NOT NULL,
	cng INTEGER NOT NULL,
	snapshot BLOB NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	PRIMARY KEY (profile, sample_rate)
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	profile TEXT NOT NULL,
	far_path TEXT NOT NULL,
	near_path TEXT NOT NULL,
	out_path TEXT NOT NULL,
	sample_rate INTEGER NOT NULL,
	frames INTEGER NOT NULL,
	mode TEXT NOT NULL,
	cng INTEGER NOT NULL,
	erle_db REAL NOT NULL,
	delay_frames INTEGER NOT NULL,
	divergence_resets INTEGER NOT NULL,
	insufficient_farend INTEGER NOT NULL,
	started_at_unix_ms INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// SaveEchoPath inserts or replaces the echo path of a profile at its
// sample rate.
func (s *Store) SaveEchoPath(ctx context.Context, p EchoPath) error {
	if strings.TrimSpace(p.Profile) == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if len(p.Snapshot) == 0 {
		return fmt.Errorf("echo path snapshot is empty")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO echo_paths (profile, sample_rate, mode, cng, snapshot, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(profile, sample_rate) DO UPDATE SET
	mode = excluded.mode,
	cng = excluded.cng,
	snapshot = excluded.snapshot,
	updated_at_unix_ms = excluded.updated_at_unix_ms
`
	_, err := s.db.ExecContext(ctx, q, p.Profile, p.SampleRate, p.Mode, p.CNG, p.Snapshot, p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save echo path: %w", err)
	}
	slog.Debug("echo path saved", "profile", p.Profile, "rate", p.SampleRate, "size", len(p.Snapshot))
	return nil
}

// EchoPath loads the echo path of a profile at a sample rate.
func (s *Store) EchoPath(ctx context.Context, profile string, rate int) (EchoPath, error) {
	const q = `
SELECT profile, sample_rate, mode, cng, snapshot, updated_at_unix_ms
FROM echo_paths
WHERE profile = ? AND sample_rate = ?
`
	var (
		p         EchoPath
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, q, profile, rate).Scan(&p.Profile, &p.SampleRate, &p.Mode, &p.CNG, &p.Snapshot, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EchoPath{}, fmt.Errorf("profile %q at %d Hz: %w", profile, rate, ErrEchoPathNotFound)
		}
		return EchoPath{}, fmt.Errorf("query echo path: %w", err)
	}
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, nil
}

// ListEchoPaths returns every stored echo path ordered by profile and rate.
// Snapshots are not loaded.
func (s *Store) ListEchoPaths(ctx context.Context) ([]EchoPath, error) {
	const q = `
SELECT profile, sample_rate, mode, cng, updated_at_unix_ms
FROM echo_paths
ORDER BY profile, sample_rate
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query echo paths: %w", err)
	}
	defer rows.Close()

	var out []EchoPath
	for rows.Next() {
		var (
			p         EchoPath
			updatedAt int64
		)
		if err := rows.Scan(&p.Profile, &p.SampleRate, &p.Mode, &p.CNG, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan echo path: %w", err)
		}
		p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteEchoPath removes the echo path of a profile at a sample rate.
func (s *Store) DeleteEchoPath(ctx context.Context, profile string, rate int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM echo_paths WHERE profile = ? AND sample_rate = ?`, profile, rate)
	if err != nil {
		return fmt.Errorf("delete echo path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %q at %d Hz: %w", profile, rate, ErrEchoPathNotFound)
	}
	slog.Debug("echo path deleted", "profile", profile, "rate", rate)
	return nil
}

// InsertRun records a run and returns its ID. A random UUID is assigned when
// r.ID is empty.
func (s *Store) InsertRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO runs (
	id, profile, far_path, near_path, out_path, sample_rate, frames, mode, cng,
	erle_db, delay_frames, divergence_resets, insufficient_farend,
	started_at_unix_ms, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(
		ctx,
		q,
		r.ID,
		r.Profile,
		r.FarPath,
		r.NearPath,
		r.OutPath,
		r.SampleRate,
		r.Frames,
		r.Mode,
		r.CNG,
		r.ERLE,
		r.Delay,
		r.DivergenceResets,
		r.InsufficientFarend,
		r.StartedAt.UnixMilli(),
		r.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	slog.Debug("run recorded", "run_id", r.ID, "frames", r.Frames)
	return r.ID, nil
}

const runColumns = `id, profile, far_path, near_path, out_path, sample_rate, frames, mode, cng,
	erle_db, delay_frames, divergence_resets, insufficient_farend,
	started_at_unix_ms, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r          Run
		startedAt  int64
		durationMs int64
	)
	err := sc.Scan(
		&r.ID,
		&r.Profile,
		&r.FarPath,
		&r.NearPath,
		&r.OutPath,
		&r.SampleRate,
		&r.Frames,
		&r.Mode,
		&r.CNG,
		&r.ERLE,
		&r.Delay,
		&r.DivergenceResets,
		&r.InsufficientFarend,
		&startedAt,
		&durationMs,
	)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(startedAt).UTC()
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}

// Run returns one run by ID.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("run %q: %w", id, ErrRunNotFound)
		}
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	return r, nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at_unix_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
