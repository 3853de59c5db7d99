package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightglass/darkmon/internal/monitor"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()

	job := monitor.ScanJob{
		ID:        "job-1",
		TargetURL: "http://example.com",
		Source:    monitor.SourceClearnet,
		Origin:    monitor.OriginManual,
		Status:    monitor.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateJob(ctx, job))

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", monitor.JobStatusRunning, ""))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusRunning, got.Status)
	require.Equal(t, 1, got.Attempts)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", monitor.JobStatusDone, ""))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusDone, got.Status)
}

func TestJobStoreRejectsInvalidTransitions(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	job := monitor.ScanJob{ID: "job-1", Status: monitor.JobStatusQueued}
	require.NoError(t, store.CreateJob(ctx, job))

	// Done requires running first.
	err := store.UpdateJobStatus(ctx, "job-1", monitor.JobStatusDone, "")
	require.ErrorIs(t, err, monitor.ErrInvalidTransition)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", monitor.JobStatusRunning, ""))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", monitor.JobStatusFailed, "boom"))

	// Terminal states admit nothing further.
	err = store.UpdateJobStatus(ctx, "job-1", monitor.JobStatusRunning, "")
	require.ErrorIs(t, err, monitor.ErrInvalidTransition)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrJobNotFound)
	err = store.UpdateJobStatus(ctx, "missing", monitor.JobStatusRunning, "")
	require.ErrorIs(t, err, monitor.ErrJobNotFound)
}

func TestSnapshotStoreIsImmutable(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	ctx := context.Background()

	snap := monitor.Snapshot{ID: "snap-1", URL: "http://example.com", Content: "body"}
	require.NoError(t, store.PutSnapshot(ctx, snap))

	dup := snap
	dup.Content = "changed"
	require.Error(t, store.PutSnapshot(ctx, dup))

	got, err := store.GetSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	require.Equal(t, "body", got.Content)

	_, err = store.GetSnapshot(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestKeywordStoreNormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()

	store := NewKeywordStore()
	ctx := context.Background()

	require.NoError(t, store.AddKeyword(ctx, monitor.Keyword{Term: "  Password ", Owner: "alice"}))
	require.NoError(t, store.AddKeyword(ctx, monitor.Keyword{Term: "password", Owner: "alice"}))
	require.NoError(t, store.AddKeyword(ctx, monitor.Keyword{Term: "password", Owner: "bob"}))

	kws, err := store.ListKeywords(ctx)
	require.NoError(t, err)
	require.Len(t, kws, 2)
	for _, kw := range kws {
		require.Equal(t, "password", kw.Term)
	}
}

func TestFindingStoreLatestPerSnapshot(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	ctx := context.Background()

	require.NoError(t, store.CreateFinding(ctx, monitor.Finding{ID: "f-1", SnapshotID: "snap-1", KeywordTerm: "leak"}))
	require.NoError(t, store.CreateFinding(ctx, monitor.Finding{ID: "f-2", SnapshotID: "snap-1", KeywordTerm: "ssn"}))
	require.NoError(t, store.CreateFinding(ctx, monitor.Finding{ID: "f-3", SnapshotID: "snap-2", KeywordTerm: "leak"}))

	latest, err := store.LatestFindingForSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	require.Equal(t, "f-2", latest.ID)

	_, err = store.LatestFindingForSnapshot(ctx, "snap-none")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestAlertStoreOneRecordPerFinding(t *testing.T) {
	t.Parallel()

	store := NewAlertStore()
	ctx := context.Background()

	rec := monitor.AlertRecord{FindingID: "f-1", Channel: "telegram", Status: monitor.AlertStatusPending}
	require.NoError(t, store.CreateAlert(ctx, rec))
	require.Error(t, store.CreateAlert(ctx, rec))

	rec.Status = monitor.AlertStatusSent
	rec.Attempts = 2
	require.NoError(t, store.UpdateAlert(ctx, rec))

	got, err := store.AlertForFinding(ctx, "f-1")
	require.NoError(t, err)
	require.Equal(t, monitor.AlertStatusSent, got.Status)
	require.Equal(t, 2, got.Attempts)

	err = store.UpdateAlert(ctx, monitor.AlertRecord{FindingID: "missing"})
	require.ErrorIs(t, err, monitor.ErrNotFound)
	_, err = store.AlertForFinding(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestUserStoreDuplicateUsername(t *testing.T) {
	t.Parallel()

	store := NewUserStore()
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, monitor.User{Username: "alice", PasswordHash: "h1"}))
	err := store.CreateUser(ctx, monitor.User{Username: "alice", PasswordHash: "h2"})
	require.ErrorIs(t, err, monitor.ErrUserExists)

	got, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "h1", got.PasswordHash)

	_, err = store.GetUser(ctx, "bob")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}
