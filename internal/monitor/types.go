// Package monitor defines core types shared across subsystems.
package monitor

import "time"

// SourceKind selects the network path used to reach a target.
type SourceKind string

// Source kinds accepted on scan submission.
const (
	SourceTor      SourceKind = "tor"
	SourcePaste    SourceKind = "paste"
	SourceClearnet SourceKind = "clearnet"
)

// Origin records how a scan job entered the system.
type Origin string

// Job origins. Manual jobs run once; scheduled jobs re-enqueue themselves
// on a fixed interval after completing.
const (
	OriginManual    Origin = "manual"
	OriginScheduled Origin = "scheduled"
)

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

// Job status values persisted in the job store. Transitions are monotonic:
// queued -> running -> done|failed, no reverse edges.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next respects the
// monotonic job lifecycle.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusDone || next == JobStatusFailed
	default:
		return false
	}
}

// ScanJob is the unit of work representing one crawl of one target.
type ScanJob struct {
	ID        string     `json:"id"`
	TargetURL string     `json:"target_url"`
	Source    SourceKind `json:"source"`
	Origin    Origin     `json:"origin"`
	Status    JobStatus  `json:"status"`
	Owner     string     `json:"owner,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Snapshot is the immutable captured content of a target at a point in
// time. Later fetches of the same target create new snapshots rather than
// overwriting earlier ones.
type Snapshot struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	URL         string     `json:"url"`
	Source      SourceKind `json:"source"`
	Title       string     `json:"title,omitempty"`
	Content     string     `json:"content"`
	ContentHash string     `json:"content_hash"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// Keyword is a normalized watch term owned by a user. Unique per
// (owner, term).
type Keyword struct {
	Term      string    `json:"term"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Finding records a positive match between a snapshot and a keyword.
// Immutable after creation; only positive matches are persisted.
type Finding struct {
	ID          string    `json:"id"`
	SnapshotID  string    `json:"snapshot_id"`
	KeywordTerm string    `json:"keyword"`
	Offset      int       `json:"offset"`
	Context     string    `json:"context,omitempty"`
	Flagged     bool      `json:"flagged"`
	FoundAt     time.Time `json:"found_at"`
}

// AlertStatus tracks delivery progress for an alert record.
type AlertStatus string

// Alert delivery states. Sent and failed are terminal.
const (
	AlertStatusPending AlertStatus = "pending"
	AlertStatusSent    AlertStatus = "sent"
	AlertStatusFailed  AlertStatus = "failed"
)

// AlertRecord tracks delivery of a notification for one finding.
type AlertRecord struct {
	FindingID   string      `json:"finding_id"`
	Channel     string      `json:"channel"`
	Status      AlertStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// EventKind labels live-feed events.
type EventKind string

// Live event kinds broadcast to feed subscribers.
const (
	EventJobQueued  EventKind = "job_queued"
	EventJobRunning EventKind = "job_running"
	EventJobDone    EventKind = "job_done"
	EventJobFailed  EventKind = "job_failed"
	EventFinding    EventKind = "finding"
	EventScanClean  EventKind = "scan_clean"
	EventAlertSent  EventKind = "alert_sent"
	EventAlertFail  EventKind = "alert_failed"
)

// LiveEvent is the transient envelope pushed to live-feed subscribers.
// Events are not persisted and have no identity beyond delivery order.
type LiveEvent struct {
	Source    string    `json:"source"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Kind      EventKind `json:"kind"`
	Keyword   string    `json:"keyword,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// User is the identity keywords and findings are scoped to.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// FetchRequest captures everything needed to retrieve one target.
type FetchRequest struct {
	URL    string
	Source SourceKind
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Title      string
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a scan job ready to run.
type QueueItem struct {
	JobID     string
	TargetURL string
	Source    SourceKind
	Origin    Origin
	Owner     string
	Attempt   int
}
