// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nightglass/darkmon/internal/monitor"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

var (
	_ monitor.JobStore      = (*Store)(nil)
	_ monitor.SnapshotStore = (*Store)(nil)
	_ monitor.KeywordStore  = (*Store)(nil)
	_ monitor.FindingStore  = (*Store)(nil)
	_ monitor.AlertStore    = (*Store)(nil)
	_ monitor.UserStore     = (*Store)(nil)
)

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements every monitor store interface on one pool.
type Store struct {
	pool dbPool
}

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing with pgxmock).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_jobs (
	id TEXT PRIMARY KEY,
	target_url TEXT NOT NULL,
	source TEXT NOT NULL,
	origin TEXT NOT NULL,
	status TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	attempts INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	url TEXT NOT NULL,
	source TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS keywords (
	owner TEXT NOT NULL,
	term TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner, term)
)`,
	`CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	match_offset INT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	flagged BOOLEAN NOT NULL,
	found_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS alert_records (
	finding_id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	last_attempt TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`,
}

// Migrate applies the schema. Idempotent; run once at startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a new scan job row.
func (s *Store) CreateJob(ctx context.Context, job monitor.ScanJob) error {
	query := `
INSERT INTO scan_jobs (id, target_url, source, origin, status, owner, error_text, attempts, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.TargetURL, string(job.Source), string(job.Origin),
		string(job.Status), job.Owner, job.ErrorText, job.Attempts,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job along its lifecycle. The WHERE clause only
// matches rows whose current status may legally precede the new one, so
// reverse edges update nothing and surface ErrInvalidTransition.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status monitor.JobStatus, errText string) error {
	priors := validPriors(status)
	if len(priors) == 0 {
		return fmt.Errorf("-> %s: %w", status, monitor.ErrInvalidTransition)
	}
	attemptBump := 0
	if status == monitor.JobStatusRunning {
		attemptBump = 1
	}
	query := `
UPDATE scan_jobs
SET status = $2, error_text = $3, attempts = attempts + $4, updated_at = NOW()
WHERE id = $1 AND status = ANY($5)`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, attemptBump, priors)
	if err != nil {
		return fmt.Errorf("update scan job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("-> %s: %w", status, monitor.ErrInvalidTransition)
	}
	return nil
}

func validPriors(status monitor.JobStatus) []string {
	switch status {
	case monitor.JobStatusRunning:
		return []string{string(monitor.JobStatusQueued)}
	case monitor.JobStatusDone:
		return []string{string(monitor.JobStatusRunning)}
	case monitor.JobStatusFailed:
		return []string{string(monitor.JobStatusQueued), string(monitor.JobStatusRunning)}
	default:
		return nil
	}
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (monitor.ScanJob, error) {
	query := `
SELECT id, target_url, source, origin, status, owner, error_text, attempts, created_at, updated_at
FROM scan_jobs WHERE id = $1`
	var job monitor.ScanJob
	var source, origin, status string
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.TargetURL, &source, &origin, &status,
		&job.Owner, &job.ErrorText, &job.Attempts, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.ScanJob{}, monitor.ErrJobNotFound
		}
		return monitor.ScanJob{}, fmt.Errorf("select scan job: %w", err)
	}
	job.Source = monitor.SourceKind(source)
	job.Origin = monitor.Origin(origin)
	job.Status = monitor.JobStatus(status)
	return job, nil
}

// PutSnapshot inserts an immutable snapshot row.
func (s *Store) PutSnapshot(ctx context.Context, snap monitor.Snapshot) error {
	query := `
INSERT INTO snapshots (id, job_id, url, source, title, content, content_hash, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		snap.ID, snap.JobID, snap.URL, string(snap.Source),
		snap.Title, snap.Content, snap.ContentHash, snap.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot fetches a snapshot by ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (monitor.Snapshot, error) {
	query := `
SELECT id, job_id, url, source, title, content, content_hash, fetched_at
FROM snapshots WHERE id = $1`
	var snap monitor.Snapshot
	var source string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&snap.ID, &snap.JobID, &snap.URL, &source,
		&snap.Title, &snap.Content, &snap.ContentHash, &snap.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Snapshot{}, monitor.ErrNotFound
		}
		return monitor.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	snap.Source = monitor.SourceKind(source)
	return snap, nil
}

// AddKeyword upserts a watch keyword, normalized and deduplicated per
// (owner, term).
func (s *Store) AddKeyword(ctx context.Context, kw monitor.Keyword) error {
	term := strings.ToLower(strings.TrimSpace(kw.Term))
	if term == "" {
		return nil
	}
	query := `
INSERT INTO keywords (owner, term, created_at)
VALUES ($1,$2,$3)
ON CONFLICT (owner, term) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, kw.Owner, term, kw.CreatedAt); err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	return nil
}

// ListKeywords returns all registered keywords.
func (s *Store) ListKeywords(ctx context.Context) ([]monitor.Keyword, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner, term, created_at FROM keywords`)
	if err != nil {
		return nil, fmt.Errorf("select keywords: %w", err)
	}
	defer rows.Close()

	var out []monitor.Keyword
	for rows.Next() {
		var kw monitor.Keyword
		if err := rows.Scan(&kw.Owner, &kw.Term, &kw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}

// CreateFinding inserts an immutable finding row.
func (s *Store) CreateFinding(ctx context.Context, f monitor.Finding) error {
	query := `
INSERT INTO findings (id, snapshot_id, keyword, match_offset, context, flagged, found_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.pool.Exec(ctx, query,
		f.ID, f.SnapshotID, f.KeywordTerm, f.Offset, f.Context, f.Flagged, f.FoundAt,
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// LatestFindingForSnapshot returns the newest finding for a snapshot.
func (s *Store) LatestFindingForSnapshot(ctx context.Context, snapshotID string) (monitor.Finding, error) {
	query := `
SELECT id, snapshot_id, keyword, match_offset, context, flagged, found_at
FROM findings WHERE snapshot_id = $1
ORDER BY found_at DESC, id DESC LIMIT 1`
	var f monitor.Finding
	err := s.pool.QueryRow(ctx, query, snapshotID).Scan(
		&f.ID, &f.SnapshotID, &f.KeywordTerm, &f.Offset, &f.Context, &f.Flagged, &f.FoundAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Finding{}, monitor.ErrNotFound
		}
		return monitor.Finding{}, fmt.Errorf("select finding: %w", err)
	}
	return f, nil
}

// CreateAlert inserts a delivery record.
func (s *Store) CreateAlert(ctx context.Context, rec monitor.AlertRecord) error {
	query := `
INSERT INTO alert_records (finding_id, channel, status, attempts, last_attempt)
VALUES ($1,$2,$3,$4,$5)`
	_, err := s.pool.Exec(ctx, query,
		rec.FindingID, rec.Channel, string(rec.Status), rec.Attempts, rec.LastAttempt,
	)
	if err != nil {
		return fmt.Errorf("insert alert record: %w", err)
	}
	return nil
}

// UpdateAlert replaces the delivery record for a finding.
func (s *Store) UpdateAlert(ctx context.Context, rec monitor.AlertRecord) error {
	query := `
UPDATE alert_records SET channel = $2, status = $3, attempts = $4, last_attempt = $5
WHERE finding_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		rec.FindingID, rec.Channel, string(rec.Status), rec.Attempts, rec.LastAttempt,
	)
	if err != nil {
		return fmt.Errorf("update alert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// AlertForFinding fetches the delivery record for a finding.
func (s *Store) AlertForFinding(ctx context.Context, findingID string) (monitor.AlertRecord, error) {
	query := `
SELECT finding_id, channel, status, attempts, last_attempt
FROM alert_records WHERE finding_id = $1`
	var rec monitor.AlertRecord
	var status string
	err := s.pool.QueryRow(ctx, query, findingID).Scan(
		&rec.FindingID, &rec.Channel, &status, &rec.Attempts, &rec.LastAttempt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.AlertRecord{}, monitor.ErrNotFound
		}
		return monitor.AlertRecord{}, fmt.Errorf("select alert record: %w", err)
	}
	rec.Status = monitor.AlertStatus(status)
	return rec, nil
}

// CreateUser inserts a user row, mapping unique violations to
// ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, u monitor.User) error {
	query := `INSERT INTO users (username, password_hash, created_at) VALUES ($1,$2,$3)`
	if _, err := s.pool.Exec(ctx, query, u.Username, u.PasswordHash, u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return monitor.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser fetches a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (monitor.User, error) {
	query := `SELECT username, password_hash, created_at FROM users WHERE username = $1`
	var u monitor.User
	err := s.pool.QueryRow(ctx, query, username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.User{}, monitor.ErrNotFound
		}
		return monitor.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}
