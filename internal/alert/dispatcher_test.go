package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/clock/system"
	"github.com/nightglass/darkmon/internal/live"
	"github.com/nightglass/darkmon/internal/monitor"
	storagemem "github.com/nightglass/darkmon/internal/storage/memory"
)

type stubNotifier struct {
	mu       sync.Mutex
	calls    int
	failN    int
	messages []string
}

func (n *stubNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.messages = append(n.messages, message)
	if n.calls <= n.failN {
		return errors.New("channel unavailable")
	}
	return nil
}

func (n *stubNotifier) Channel() string { return "stub" }

func (n *stubNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func testFinding(id string) monitor.Finding {
	return monitor.Finding{
		ID:          id,
		SnapshotID:  "snap-1",
		KeywordTerm: "leak",
		Flagged:     true,
		FoundAt:     time.Now().UTC(),
	}
}

func testSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		ID:     "snap-1",
		URL:    "http://example.onion",
		Source: monitor.SourceTor,
		Title:  "Market",
	}
}

func TestDispatcherDeliversAndRecordsSent(t *testing.T) {
	t.Parallel()

	alerts := storagemem.NewAlertStore()
	notifier := &stubNotifier{}
	hub := live.NewHub(8, zap.NewNop())
	defer hub.Close()
	sub := hub.Subscribe()

	d := NewDispatcher(alerts, notifier, hub, system.New(), Config{
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		QueueDepth:     8,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Dispatch(ctx, testFinding("f-1"), testSnapshot())

	require.Eventually(t, func() bool {
		rec, err := alerts.AlertForFinding(ctx, "f-1")
		return err == nil && rec.Status == monitor.AlertStatusSent
	}, time.Second, 10*time.Millisecond)

	rec, err := alerts.AlertForFinding(ctx, "f-1")
	require.NoError(t, err)
	require.Equal(t, "stub", rec.Channel)
	require.Equal(t, 1, rec.Attempts)

	evt := <-sub.Events()
	require.Equal(t, monitor.EventAlertSent, evt.Kind)
	require.Equal(t, "leak", evt.Keyword)
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	alerts := storagemem.NewAlertStore()
	notifier := &stubNotifier{failN: 2}
	hub := live.NewHub(8, zap.NewNop())
	defer hub.Close()

	d := NewDispatcher(alerts, notifier, hub, system.New(), Config{
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		QueueDepth:     8,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Dispatch(ctx, testFinding("f-2"), testSnapshot())

	require.Eventually(t, func() bool {
		rec, err := alerts.AlertForFinding(ctx, "f-2")
		return err == nil && rec.Status == monitor.AlertStatusSent
	}, time.Second, 10*time.Millisecond)

	rec, _ := alerts.AlertForFinding(ctx, "f-2")
	require.Equal(t, 3, rec.Attempts)
}

func TestDispatcherExhaustedRetriesMarkFailed(t *testing.T) {
	t.Parallel()

	alerts := storagemem.NewAlertStore()
	notifier := &stubNotifier{failN: 100}
	hub := live.NewHub(8, zap.NewNop())
	defer hub.Close()
	sub := hub.Subscribe()

	d := NewDispatcher(alerts, notifier, hub, system.New(), Config{
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		QueueDepth:     8,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Dispatch(ctx, testFinding("f-3"), testSnapshot())

	require.Eventually(t, func() bool {
		rec, err := alerts.AlertForFinding(ctx, "f-3")
		return err == nil && rec.Status == monitor.AlertStatusFailed
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 3, notifier.callCount())

	evt := <-sub.Events()
	require.Equal(t, monitor.EventAlertFail, evt.Kind)
	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected second terminal event %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherFullQueueRecordsFailureWithoutBlocking(t *testing.T) {
	t.Parallel()

	alerts := storagemem.NewAlertStore()
	notifier := &stubNotifier{}
	hub := live.NewHub(8, zap.NewNop())
	defer hub.Close()

	// Run is intentionally not started so the buffer stays full.
	d := NewDispatcher(alerts, notifier, hub, system.New(), Config{
		MaxRetries:     1,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
		QueueDepth:     1,
	}, zap.NewNop())

	ctx := context.Background()
	d.Dispatch(ctx, testFinding("f-buffered"), testSnapshot())

	done := make(chan struct{})
	go func() {
		d.Dispatch(ctx, testFinding("f-overflow"), testSnapshot())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}

	rec, err := alerts.AlertForFinding(ctx, "f-overflow")
	require.NoError(t, err)
	require.Equal(t, monitor.AlertStatusFailed, rec.Status)
	require.Zero(t, notifier.callCount())
}
