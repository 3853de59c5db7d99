package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/alert"
	"github.com/nightglass/darkmon/internal/clock/system"
	"github.com/nightglass/darkmon/internal/hash/sha256"
	"github.com/nightglass/darkmon/internal/id/uuid"
	"github.com/nightglass/darkmon/internal/index"
	"github.com/nightglass/darkmon/internal/live"
	"github.com/nightglass/darkmon/internal/match"
	"github.com/nightglass/darkmon/internal/monitor"
	queuemem "github.com/nightglass/darkmon/internal/queue/memory"
	storagemem "github.com/nightglass/darkmon/internal/storage/memory"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	failN int
	body  string
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, req monitor.FetchRequest) (monitor.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && f.calls <= f.failN {
		return monitor.FetchResponse{}, f.err
	}
	if f.err != nil && f.failN == 0 {
		return monitor.FetchResponse{}, f.err
	}
	return monitor.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Title:      "Stub Page",
		Body:       []byte(f.body),
		Duration:   time.Millisecond,
	}, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	sched     *Scheduler
	jobs      *storagemem.JobStore
	snapshots *storagemem.SnapshotStore
	keywords  *storagemem.KeywordStore
	findings  *storagemem.FindingStore
	alerts    *storagemem.AlertStore
	fetch     *stubFetcher
	hub       *live.Hub
	idx       *index.Index
}

func newHarness(t *testing.T, fetch *stubFetcher, cfg Config) *harness {
	t.Helper()

	idx, err := index.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	jobs := storagemem.NewJobStore()
	snapshots := storagemem.NewSnapshotStore()
	keywords := storagemem.NewKeywordStore()
	findings := storagemem.NewFindingStore()
	alerts := storagemem.NewAlertStore()
	hub := live.NewHub(64, zap.NewNop())
	t.Cleanup(hub.Close)

	clk := system.New()
	idGen := uuid.New()
	engine := match.NewEngine(findings, idGen, clk, zap.NewNop())
	dispatcher := alert.NewDispatcher(alerts, &okNotifier{}, hub, clk, alert.Config{
		MaxRetries:     0,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
		QueueDepth:     16,
	}, zap.NewNop())

	sched := New(Deps{
		Jobs:       jobs,
		Snapshots:  snapshots,
		Keywords:   keywords,
		Queue:      queuemem.NewQueue(16),
		Fetcher:    fetch,
		Engine:     engine,
		Dispatcher: dispatcher,
		Index:      idx,
		Hub:        hub,
		Hasher:     sha256.New(),
		Clock:      clk,
		IDGen:      idGen,
	}, cfg)

	return &harness{
		sched:     sched,
		jobs:      jobs,
		snapshots: snapshots,
		keywords:  keywords,
		findings:  findings,
		alerts:    alerts,
		fetch:     fetch,
		hub:       hub,
		idx:       idx,
	}
}

type okNotifier struct{}

func (okNotifier) Notify(context.Context, string) error { return nil }
func (okNotifier) Channel() string                      { return "stub" }

func defaultConfig() Config {
	return Config{
		Workers:        2,
		MaxRetries:     0,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestSubmitDeduplicatesInFlightTargets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubFetcher{body: "hello"}, defaultConfig())
	ctx := context.Background()

	first, err := h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusQueued, first.Status)

	second, err := h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "bob")
	require.ErrorIs(t, err, monitor.ErrDuplicateInFlight)
	require.Equal(t, first.ID, second.ID)

	// A different target is admitted normally.
	_, err = h.sched.Submit(ctx, "http://other.example", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)
}

func TestRunCompletesJobAndIndexesSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubFetcher{body: "entirely benign page content"}, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.sched.Run(ctx)

	sub := h.hub.Subscribe()
	job, err := h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := h.jobs.GetJob(ctx, job.ID)
		return gerr == nil && got.Status == monitor.JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	var kinds []monitor.EventKind
	for len(kinds) < 4 {
		select {
		case evt := <-sub.Events():
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", kinds)
		}
	}
	require.Equal(t, []monitor.EventKind{
		monitor.EventJobQueued,
		monitor.EventJobRunning,
		monitor.EventScanClean,
		monitor.EventJobDone,
	}, kinds)

	refs, err := h.idx.Search("benign", 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	// The in-flight slot is released after completion, so the same target
	// can be scanned again.
	require.Eventually(t, func() bool {
		_, serr := h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "alice")
		return serr == nil
	}, time.Second, 10*time.Millisecond)
}

func TestRunMatchesKeywordsAndRaisesAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubFetcher{body: "fresh ransomware dump available"}, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.keywords.AddKeyword(ctx, monitor.Keyword{Term: "ransomware", Owner: "alice"}))

	go h.sched.Run(ctx)
	job, err := h.sched.Submit(ctx, "http://market.onion", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := h.jobs.GetJob(ctx, job.ID)
		return gerr == nil && got.Status == monitor.JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	var finding monitor.Finding
	require.Eventually(t, func() bool {
		refs, serr := h.idx.Search("ransomware", 1)
		if serr != nil || len(refs) != 1 {
			return false
		}
		finding, serr = h.findings.LatestFindingForSnapshot(ctx, refs[0].SnapshotID)
		return serr == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "ransomware", finding.KeywordTerm)
	require.True(t, finding.Flagged)
}

func TestRunRetriesTransientFetchFailures(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.MaxRetries = 2
	fetch := &stubFetcher{body: "ok", err: monitor.ErrTargetUnreachable, failN: 2}
	h := newHarness(t, fetch, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.sched.Run(ctx)

	job, err := h.sched.Submit(ctx, "http://flaky.example", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := h.jobs.GetJob(ctx, job.ID)
		return gerr == nil && got.Status == monitor.JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 3, fetch.callCount())
}

func TestRunExhaustedRetriesFailJob(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.MaxRetries = 1
	fetch := &stubFetcher{err: monitor.ErrTargetUnreachable, failN: 0}
	h := newHarness(t, fetch, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.sched.Run(ctx)

	job, err := h.sched.Submit(ctx, "http://down.example", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := h.jobs.GetJob(ctx, job.ID)
		return gerr == nil && got.Status == monitor.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.ErrorText)
	require.Equal(t, 2, fetch.callCount())
}

func TestRunDoesNotRetryOversizedBodies(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.MaxRetries = 3
	fetch := &stubFetcher{err: monitor.ErrContentTooLarge, failN: 0}
	h := newHarness(t, fetch, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.sched.Run(ctx)

	job, err := h.sched.Submit(ctx, "http://huge.example", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := h.jobs.GetJob(ctx, job.ID)
		return gerr == nil && got.Status == monitor.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, fetch.callCount())
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()

	// No workers running, so the job stays queued.
	h := newHarness(t, &stubFetcher{body: "x"}, defaultConfig())
	ctx := context.Background()

	job, err := h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)

	require.NoError(t, h.sched.Cancel(ctx, job.ID))

	got, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusFailed, got.Status)
	require.Equal(t, "canceled", got.ErrorText)

	// Canceled targets free their in-flight slot immediately.
	_, err = h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubFetcher{body: "x"}, defaultConfig())
	err := h.sched.Cancel(context.Background(), "no-such-job")
	require.ErrorIs(t, err, monitor.ErrJobNotFound)
}

func TestCancelTerminalJobIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubFetcher{body: "benign"}, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.sched.Run(ctx)

	job, err := h.sched.Submit(ctx, "http://example.com", monitor.SourceClearnet, monitor.OriginManual, "alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, gerr := h.jobs.GetJob(ctx, job.ID)
		return gerr == nil && got.Status == monitor.JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.sched.Cancel(ctx, job.ID))
	got, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusDone, got.Status)
}
