// Package scheduler owns the scan job lifecycle: admission, the worker
// pool, fetch retries, and the downstream snapshot/match/alert pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/alert"
	"github.com/nightglass/darkmon/internal/fetcher"
	"github.com/nightglass/darkmon/internal/index"
	"github.com/nightglass/darkmon/internal/live"
	"github.com/nightglass/darkmon/internal/match"
	"github.com/nightglass/darkmon/internal/metrics"
	"github.com/nightglass/darkmon/internal/monitor"
)

// Config controls worker concurrency, the fetch retry budget, and the
// recurring interval for scheduled targets.
type Config struct {
	Workers        int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RecurringInterval is how long after a scheduled job completes its
	// target is re-enqueued. Zero disables recurrence.
	RecurringInterval time.Duration
}

// Scheduler admits scan jobs, runs them on a bounded worker pool, and
// feeds results through the index, match engine, and alert dispatcher.
type Scheduler struct {
	jobs       monitor.JobStore
	snapshots  monitor.SnapshotStore
	keywords   monitor.KeywordStore
	queue      monitor.Queue
	fetch      monitor.Fetcher
	engine     *match.Engine
	dispatcher *alert.Dispatcher
	idx        *index.Index
	hub        *live.Hub
	hasher     monitor.Hasher
	clock      monitor.Clock
	idGen      monitor.IDGenerator
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]string // target URL -> active job ID
	cancels  map[string]context.CancelFunc
}

// Deps gathers the collaborators a Scheduler needs.
type Deps struct {
	Jobs       monitor.JobStore
	Snapshots  monitor.SnapshotStore
	Keywords   monitor.KeywordStore
	Queue      monitor.Queue
	Fetcher    monitor.Fetcher
	Engine     *match.Engine
	Dispatcher *alert.Dispatcher
	Index      *index.Index
	Hub        *live.Hub
	Hasher     monitor.Hasher
	Clock      monitor.Clock
	IDGen      monitor.IDGenerator
	Logger     *zap.Logger
}

// New constructs a Scheduler. Run must be called to start the workers.
func New(deps Deps, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:       deps.Jobs,
		snapshots:  deps.Snapshots,
		keywords:   deps.Keywords,
		queue:      deps.Queue,
		fetch:      deps.Fetcher,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		idx:        deps.Index,
		hub:        deps.Hub,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		idGen:      deps.IDGen,
		cfg:        cfg,
		logger:     logger,
		inflight:   make(map[string]string),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Submit admits a scan job for a target. If a job for the same target URL
// is already queued or running, the existing job is returned along with
// ErrDuplicateInFlight so callers can treat the submission as merged.
func (s *Scheduler) Submit(ctx context.Context, targetURL string, source monitor.SourceKind, origin monitor.Origin, owner string) (monitor.ScanJob, error) {
	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return monitor.ScanJob{}, fmt.Errorf("target url is required")
	}

	s.mu.Lock()
	if existingID, ok := s.inflight[targetURL]; ok {
		s.mu.Unlock()
		job, err := s.jobs.GetJob(ctx, existingID)
		if err != nil {
			return monitor.ScanJob{}, fmt.Errorf("load in-flight job: %w", err)
		}
		return job, monitor.ErrDuplicateInFlight
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.mu.Unlock()
		return monitor.ScanJob{}, fmt.Errorf("generate job id: %w", err)
	}
	s.inflight[targetURL] = id
	s.mu.Unlock()

	now := s.clock.Now()
	job := monitor.ScanJob{
		ID:        id,
		TargetURL: targetURL,
		Source:    source,
		Origin:    origin,
		Status:    monitor.JobStatusQueued,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		s.release(targetURL, id)
		return monitor.ScanJob{}, fmt.Errorf("persist job: %w", err)
	}

	item := monitor.QueueItem{
		JobID:     id,
		TargetURL: targetURL,
		Source:    source,
		Origin:    origin,
		Owner:     owner,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.release(targetURL, id)
		if uerr := s.jobs.UpdateJobStatus(ctx, id, monitor.JobStatusFailed, "enqueue failed"); uerr != nil {
			s.logger.Error("mark enqueue failure", zap.String("job_id", id), zap.Error(uerr))
		}
		return monitor.ScanJob{}, fmt.Errorf("enqueue job: %w", err)
	}

	s.emit(monitor.LiveEvent{
		Source:    string(source),
		URL:       targetURL,
		Kind:      monitor.EventJobQueued,
		Timestamp: now,
	})
	s.logger.Info("scan job queued",
		zap.String("job_id", id),
		zap.String("url", targetURL),
		zap.String("source", string(source)),
		zap.String("origin", string(origin)),
	)
	return job, nil
}

// Job returns the current state of a job.
func (s *Scheduler) Job(ctx context.Context, jobID string) (monitor.ScanJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// Cancel requests cooperative cancellation of a running or queued job. The
// job stops at its next stage boundary and is marked failed. Canceling a
// job that already reached a terminal status is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	// Queued but not yet picked up: fail it directly so the worker skips it.
	if err := s.jobs.UpdateJobStatus(ctx, jobID, monitor.JobStatusFailed, "canceled"); err != nil {
		return err
	}
	s.release(job.TargetURL, jobID)
	s.emit(monitor.LiveEvent{
		Source:    string(job.Source),
		URL:       job.TargetURL,
		Kind:      monitor.EventJobFailed,
		Timestamp: s.clock.Now(),
	})
	return nil
}

// Run starts the worker pool and blocks until the context finishes and all
// workers drain.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				item, err := s.queue.Dequeue(ctx)
				if err != nil {
					return
				}
				s.runJob(ctx, item)
			}
		}(w)
	}
	wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, item monitor.QueueItem) {
	// Skip items whose job was failed while still queued (canceled).
	if job, err := s.jobs.GetJob(ctx, item.JobID); err == nil && job.Status.Terminal() {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancels[item.JobID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, item.JobID)
		s.mu.Unlock()
		s.release(item.TargetURL, item.JobID)
	}()

	if err := s.jobs.UpdateJobStatus(jobCtx, item.JobID, monitor.JobStatusRunning, ""); err != nil {
		s.logger.Error("mark job running", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	s.emit(monitor.LiveEvent{
		Source:    string(item.Source),
		URL:       item.TargetURL,
		Kind:      monitor.EventJobRunning,
		Timestamp: s.clock.Now(),
	})

	started := s.clock.Now()
	resp, err := s.fetchWithRetry(jobCtx, item)
	if err != nil {
		s.finishFailed(ctx, item, err, started)
		s.maybeReschedule(ctx, item)
		return
	}

	if err := s.ingest(jobCtx, item, resp); err != nil {
		s.finishFailed(ctx, item, err, started)
		s.maybeReschedule(ctx, item)
		return
	}

	if err := s.jobs.UpdateJobStatus(ctx, item.JobID, monitor.JobStatusDone, ""); err != nil {
		s.logger.Error("mark job done", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveScan(string(item.Source), "done", s.clock.Now().Sub(started))
	s.emit(monitor.LiveEvent{
		Source:    string(item.Source),
		URL:       item.TargetURL,
		Title:     resp.Title,
		Kind:      monitor.EventJobDone,
		Timestamp: s.clock.Now(),
	})
	s.maybeReschedule(ctx, item)
}

// fetchWithRetry retries transient fetch failures with doubling backoff.
// Cancellation aborts immediately between attempts.
func (s *Scheduler) fetchWithRetry(ctx context.Context, item monitor.QueueItem) (monitor.FetchResponse, error) {
	req := monitor.FetchRequest{URL: item.TargetURL, Source: item.Source}
	backoff := s.cfg.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return monitor.FetchResponse{}, fmt.Errorf("scan canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
		}
		resp, err := s.fetch.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return monitor.FetchResponse{}, fmt.Errorf("scan canceled: %w", ctx.Err())
		}
		// Oversized bodies will not shrink on retry.
		if errors.Is(err, monitor.ErrContentTooLarge) {
			break
		}
		s.logger.Warn("fetch attempt failed",
			zap.String("job_id", item.JobID),
			zap.String("url", item.TargetURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return monitor.FetchResponse{}, lastErr
}

// ingest turns a fetched body into a snapshot, indexes it, and routes any
// keyword matches to the alert dispatcher.
func (s *Scheduler) ingest(ctx context.Context, item monitor.QueueItem, resp monitor.FetchResponse) error {
	if ctx.Err() != nil {
		return fmt.Errorf("scan canceled: %w", ctx.Err())
	}

	hash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	snapID, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate snapshot id: %w", err)
	}
	title := resp.Title
	if title == "" {
		title = fetcher.Title(resp.Body)
	}
	snap := monitor.Snapshot{
		ID:          snapID,
		JobID:       item.JobID,
		URL:         item.TargetURL,
		Source:      item.Source,
		Title:       title,
		Content:     string(resp.Body),
		ContentHash: hash,
		FetchedAt:   s.clock.Now(),
	}
	if err := s.snapshots.PutSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	if err := s.idx.Add(snap); err != nil {
		return fmt.Errorf("index snapshot: %w", err)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("scan canceled: %w", ctx.Err())
	}

	kws, err := s.keywords.ListKeywords(ctx)
	if err != nil {
		return fmt.Errorf("list keywords: %w", err)
	}
	terms := make([]string, 0, len(kws))
	for _, kw := range kws {
		terms = append(terms, kw.Term)
	}

	findings, err := s.engine.Process(ctx, snap, terms)
	if err != nil {
		return fmt.Errorf("evaluate snapshot: %w", err)
	}
	if len(findings) == 0 {
		s.emit(monitor.LiveEvent{
			Source:    string(item.Source),
			URL:       item.TargetURL,
			Title:     snap.Title,
			Kind:      monitor.EventScanClean,
			Timestamp: s.clock.Now(),
		})
		return nil
	}

	metrics.IncFindings(len(findings))
	for _, f := range findings {
		s.emit(monitor.LiveEvent{
			Source:    string(item.Source),
			URL:       item.TargetURL,
			Title:     snap.Title,
			Kind:      monitor.EventFinding,
			Keyword:   f.KeywordTerm,
			Timestamp: s.clock.Now(),
		})
		s.dispatcher.Dispatch(ctx, f, snap)
	}
	return nil
}

func (s *Scheduler) finishFailed(ctx context.Context, item monitor.QueueItem, cause error, started time.Time) {
	if err := s.jobs.UpdateJobStatus(ctx, item.JobID, monitor.JobStatusFailed, cause.Error()); err != nil {
		s.logger.Error("mark job failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveScan(string(item.Source), "failed", s.clock.Now().Sub(started))
	s.emit(monitor.LiveEvent{
		Source:    string(item.Source),
		URL:       item.TargetURL,
		Kind:      monitor.EventJobFailed,
		Timestamp: s.clock.Now(),
	})
	s.logger.Warn("scan job failed",
		zap.String("job_id", item.JobID),
		zap.String("url", item.TargetURL),
		zap.Error(cause),
	)
}

// maybeReschedule re-enqueues scheduled targets after the recurring
// interval. Manual jobs run once.
func (s *Scheduler) maybeReschedule(ctx context.Context, item monitor.QueueItem) {
	if item.Origin != monitor.OriginScheduled || s.cfg.RecurringInterval <= 0 {
		return
	}
	time.AfterFunc(s.cfg.RecurringInterval, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Submit(ctx, item.TargetURL, item.Source, monitor.OriginScheduled, item.Owner); err != nil &&
			!errors.Is(err, monitor.ErrDuplicateInFlight) {
			s.logger.Error("reschedule target",
				zap.String("url", item.TargetURL), zap.Error(err))
		}
	})
}

func (s *Scheduler) emit(evt monitor.LiveEvent) {
	if s.hub != nil {
		s.hub.Emit(evt)
	}
}

// release clears the in-flight slot for a target if it still belongs to
// the given job.
func (s *Scheduler) release(targetURL, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.inflight[targetURL]; ok && current == jobID {
		delete(s.inflight, targetURL)
	}
}
