package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/live"
	"github.com/nightglass/darkmon/internal/metrics"
	"github.com/nightglass/darkmon/internal/monitor"
)

// Config controls delivery retry behavior.
type Config struct {
	// MaxRetries bounds delivery attempts beyond the first.
	MaxRetries int
	// BackoffInitial is the wait before the first retry; it doubles per
	// attempt up to BackoffMax.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// QueueDepth bounds the dispatch buffer between the match engine and
	// the delivery loop.
	QueueDepth int
}

type task struct {
	finding  monitor.Finding
	snapshot monitor.Snapshot
}

// Dispatcher consumes findings and delivers alerts asynchronously so a
// slow notification channel never stalls scanning throughput. Every
// flagged finding gets exactly one AlertRecord driven to a terminal
// sent/failed status, and exactly one terminal live event.
type Dispatcher struct {
	alerts   monitor.AlertStore
	notifier monitor.Notifier
	hub      *live.Hub
	clock    monitor.Clock
	cfg      Config
	logger   *zap.Logger

	tasks chan task
}

// NewDispatcher constructs a Dispatcher. Run must be called to start the
// delivery loop.
func NewDispatcher(
	alerts monitor.AlertStore,
	notifier monitor.Notifier,
	hub *live.Hub,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		alerts:   alerts,
		notifier: notifier,
		hub:      hub,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		tasks:    make(chan task, cfg.QueueDepth),
	}
}

// Dispatch queues a finding for delivery. It never blocks the caller; if
// the buffer is full the alert record is created immediately and marked
// failed so no finding silently loses its delivery record.
func (d *Dispatcher) Dispatch(ctx context.Context, finding monitor.Finding, snap monitor.Snapshot) {
	select {
	case d.tasks <- task{finding: finding, snapshot: snap}:
	default:
		d.logger.Warn("alert queue full, recording failed delivery",
			zap.String("finding_id", finding.ID))
		rec := monitor.AlertRecord{
			FindingID:   finding.ID,
			Channel:     d.notifier.Channel(),
			Status:      monitor.AlertStatusFailed,
			LastAttempt: d.clock.Now(),
		}
		if err := d.alerts.CreateAlert(ctx, rec); err != nil {
			d.logger.Error("create alert record failed", zap.Error(err))
		}
		d.emitTerminal(finding, snap, monitor.AlertStatusFailed)
	}
}

// Run consumes queued findings until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.deliver(ctx, t)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t task) {
	rec := monitor.AlertRecord{
		FindingID:   t.finding.ID,
		Channel:     d.notifier.Channel(),
		Status:      monitor.AlertStatusPending,
		LastAttempt: d.clock.Now(),
	}
	if err := d.alerts.CreateAlert(ctx, rec); err != nil {
		d.logger.Error("create alert record failed",
			zap.String("finding_id", t.finding.ID), zap.Error(err))
		return
	}

	message := formatMessage(t.finding, t.snapshot)
	backoff := d.cfg.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > d.cfg.BackoffMax {
				backoff = d.cfg.BackoffMax
			}
		}
		rec.Attempts++
		rec.LastAttempt = d.clock.Now()
		lastErr = d.notifier.Notify(ctx, message)
		if lastErr == nil {
			break
		}
		d.logger.Warn("alert delivery attempt failed",
			zap.String("finding_id", t.finding.ID),
			zap.Int("attempt", rec.Attempts),
			zap.Error(lastErr),
		)
	}

	if lastErr == nil {
		rec.Status = monitor.AlertStatusSent
	} else {
		rec.Status = monitor.AlertStatusFailed
	}
	if err := d.alerts.UpdateAlert(ctx, rec); err != nil {
		d.logger.Error("update alert record failed",
			zap.String("finding_id", t.finding.ID), zap.Error(err))
	}
	metrics.ObserveAlert(string(rec.Status))
	d.emitTerminal(t.finding, t.snapshot, rec.Status)
}

func (d *Dispatcher) emitTerminal(f monitor.Finding, snap monitor.Snapshot, status monitor.AlertStatus) {
	kind := monitor.EventAlertSent
	if status == monitor.AlertStatusFailed {
		kind = monitor.EventAlertFail
	}
	d.hub.Emit(monitor.LiveEvent{
		Source:    string(snap.Source),
		URL:       snap.URL,
		Title:     snap.Title,
		Kind:      kind,
		Keyword:   f.KeywordTerm,
		Timestamp: d.clock.Now(),
	})
}

func formatMessage(f monitor.Finding, snap monitor.Snapshot) string {
	return fmt.Sprintf(
		"\U0001F6A8 <b>Keyword detected!</b>\n<b>Keyword:</b> <code>%s</code>\n<b>URL:</b> <a href='%s'>%s</a>\n<b>Source:</b> %s\n<b>Detected at:</b> %s",
		f.KeywordTerm,
		snap.URL,
		snap.URL,
		snap.Source,
		f.FoundAt.Format(time.RFC3339),
	)
}
