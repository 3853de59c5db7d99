package monitor

import (
	"context"
	"time"
)

// Fetcher retrieves a target and returns its body plus metadata. Transient
// network failures are reported to the caller, not retried internally;
// retry policy belongs to the scheduler.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// JobStore persists scan job metadata. UpdateJobStatus enforces the
// monotonic lifecycle and returns ErrInvalidTransition on violations.
type JobStore interface {
	CreateJob(ctx context.Context, job ScanJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	GetJob(ctx context.Context, jobID string) (ScanJob, error)
}

// SnapshotStore persists immutable content snapshots.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)
}

// KeywordStore persists watch keywords, deduplicated per (owner, term).
type KeywordStore interface {
	AddKeyword(ctx context.Context, kw Keyword) error
	ListKeywords(ctx context.Context) ([]Keyword, error)
}

// FindingStore persists positive matches.
type FindingStore interface {
	CreateFinding(ctx context.Context, f Finding) error
	LatestFindingForSnapshot(ctx context.Context, snapshotID string) (Finding, error)
}

// AlertStore tracks delivery state, one record per finding.
type AlertStore interface {
	CreateAlert(ctx context.Context, rec AlertRecord) error
	UpdateAlert(ctx context.Context, rec AlertRecord) error
	AlertForFinding(ctx context.Context, findingID string) (AlertRecord, error)
}

// UserStore persists user credentials. CreateUser returns ErrUserExists
// for duplicate usernames.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, username string) (User, error)
}

// Queue provides enqueue/dequeue semantics for scan work.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Notifier delivers one alert message through an external channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
	Channel() string
}

// Hasher computes digests for snapshot deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
