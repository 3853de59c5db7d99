// Command darkmon runs the darkweb monitoring service: scan scheduling,
// keyword matching, alert delivery, and the HTTP/websocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/alert"
	"github.com/nightglass/darkmon/internal/api"
	"github.com/nightglass/darkmon/internal/auth"
	"github.com/nightglass/darkmon/internal/clock/system"
	"github.com/nightglass/darkmon/internal/config"
	"github.com/nightglass/darkmon/internal/fetcher"
	"github.com/nightglass/darkmon/internal/fetcher/direct"
	"github.com/nightglass/darkmon/internal/fetcher/tor"
	"github.com/nightglass/darkmon/internal/hash/sha256"
	"github.com/nightglass/darkmon/internal/id/uuid"
	"github.com/nightglass/darkmon/internal/index"
	"github.com/nightglass/darkmon/internal/live"
	"github.com/nightglass/darkmon/internal/logging"
	"github.com/nightglass/darkmon/internal/match"
	"github.com/nightglass/darkmon/internal/metrics"
	"github.com/nightglass/darkmon/internal/monitor"
	queuemem "github.com/nightglass/darkmon/internal/queue/memory"
	"github.com/nightglass/darkmon/internal/scheduler"
	storagemem "github.com/nightglass/darkmon/internal/storage/memory"
	"github.com/nightglass/darkmon/internal/storage/postgres"
	"github.com/nightglass/darkmon/internal/users"
)

type stores struct {
	jobs      monitor.JobStore
	snapshots monitor.SnapshotStore
	keywords  monitor.KeywordStore
	findings  monitor.FindingStore
	alerts    monitor.AlertStore
	users     monitor.UserStore
	close     func()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "darkmon: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	idx, err := index.Open()
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	clk := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	hub := live.NewHub(cfg.Live.SubscriberBuffer, logger.Named("live"))
	defer hub.Close()

	notifier := buildNotifier(cfg, logger)
	alertInitial, alertMax := cfg.AlertBackoff()
	dispatcher := alert.NewDispatcher(st.alerts, notifier, hub, clk, alert.Config{
		MaxRetries:     cfg.Alert.MaxRetries,
		BackoffInitial: alertInitial,
		BackoffMax:     alertMax,
		QueueDepth:     cfg.Alert.QueueDepth,
	}, logger.Named("alert"))

	fetch, err := buildFetcher(cfg)
	if err != nil {
		return err
	}

	queue := queuemem.NewQueue(cfg.Scanner.QueueDepth)
	engine := match.NewEngine(st.findings, idGen, clk, logger.Named("match"))
	scanInitial, scanMax := cfg.ScanBackoff()
	sched := scheduler.New(scheduler.Deps{
		Jobs:       st.jobs,
		Snapshots:  st.snapshots,
		Keywords:   st.keywords,
		Queue:      queue,
		Fetcher:    fetch,
		Engine:     engine,
		Dispatcher: dispatcher,
		Index:      idx,
		Hub:        hub,
		Hasher:     hasher,
		Clock:      clk,
		IDGen:      idGen,
		Logger:     logger.Named("scheduler"),
	}, scheduler.Config{
		Workers:           cfg.Scanner.Workers,
		MaxRetries:        cfg.Scanner.MaxRetries,
		BackoffInitial:    scanInitial,
		BackoffMax:        scanMax,
		RecurringInterval: cfg.ScheduleInterval(),
	})

	tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.TokenTTL(), clk)
	if err != nil {
		return fmt.Errorf("build token manager: %w", err)
	}
	userSvc := users.NewService(st.users, tokens, clk, logger.Named("users"))

	server := api.NewServer(api.Deps{
		Logger:     logger.Named("api"),
		Tokens:     tokens,
		Users:      userSvc,
		Scheduler:  sched,
		Index:      idx,
		Snapshots:  st.snapshots,
		Keywords:   st.keywords,
		Findings:   st.findings,
		Alerts:     st.alerts,
		Dispatcher: dispatcher,
		Hub:        hub,
		Clock:      clk,
		IDGen:      idGen,
	})

	seedWatchlist(ctx, cfg, st.keywords, clk, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	seedScheduledTargets(ctx, cfg, sched, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	stop()
	queue.Close()
	wg.Wait()
	logger.Info("darkmon stopped")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.MaxConns,
			MinConns:        cfg.Storage.MinConns,
			MaxConnLifetime: time.Duration(cfg.Storage.LifetimeMins) * time.Minute,
		})
		if err != nil {
			return stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return stores{}, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("storage ready", zap.String("driver", "postgres"))
		return stores{
			jobs:      store,
			snapshots: store,
			keywords:  store,
			findings:  store,
			alerts:    store,
			users:     store,
			close:     store.Close,
		}, nil
	default:
		logger.Info("storage ready", zap.String("driver", "memory"))
		return stores{
			jobs:      storagemem.NewJobStore(),
			snapshots: storagemem.NewSnapshotStore(),
			keywords:  storagemem.NewKeywordStore(),
			findings:  storagemem.NewFindingStore(),
			alerts:    storagemem.NewAlertStore(),
			users:     storagemem.NewUserStore(),
			close:     func() {},
		}, nil
	}
}

func buildNotifier(cfg config.Config, logger *zap.Logger) monitor.Notifier {
	if cfg.Alert.TelegramToken != "" && cfg.Alert.TelegramChatID != "" {
		notifier, err := alert.NewTelegramNotifier(cfg.Alert.TelegramToken, cfg.Alert.TelegramChatID)
		if err == nil {
			logger.Info("alert channel ready", zap.String("channel", notifier.Channel()))
			return notifier
		}
		logger.Warn("telegram notifier unavailable, falling back to log", zap.Error(err))
	}
	return alert.NewLogNotifier(logger.Named("notify"))
}

func buildFetcher(cfg config.Config) (monitor.Fetcher, error) {
	directFetcher := direct.New(direct.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	var torFetcher monitor.Fetcher
	if cfg.Fetch.TorProxy != "" {
		tf, err := tor.New(tor.Config{
			ProxyAddress: cfg.Fetch.TorProxy,
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      cfg.FetchTimeout(),
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("build tor fetcher: %w", err)
		}
		torFetcher = tf
	}
	return fetcher.NewSelector(directFetcher, torFetcher), nil
}

// seedWatchlist registers the configured default keywords under a system
// owner so scheduled scans match out of the box.
func seedWatchlist(ctx context.Context, cfg config.Config, keywords monitor.KeywordStore, clk monitor.Clock, logger *zap.Logger) {
	for _, term := range cfg.Watch.Keywords {
		kw := monitor.Keyword{Term: term, Owner: "system", CreatedAt: clk.Now()}
		if err := keywords.AddKeyword(ctx, kw); err != nil {
			logger.Warn("seed keyword", zap.String("term", term), zap.Error(err))
		}
	}
	logger.Info("watchlist seeded", zap.Int("keywords", len(cfg.Watch.Keywords)))
}

func seedScheduledTargets(ctx context.Context, cfg config.Config, sched *scheduler.Scheduler, logger *zap.Logger) {
	for _, target := range cfg.Schedule.Targets {
		source := monitor.SourceKind(target.Source)
		switch source {
		case monitor.SourceTor, monitor.SourcePaste, monitor.SourceClearnet:
		default:
			logger.Warn("skipping target with unknown source",
				zap.String("url", target.URL), zap.String("source", target.Source))
			continue
		}
		if _, err := sched.Submit(ctx, target.URL, source, monitor.OriginScheduled, "system"); err != nil &&
			!errors.Is(err, monitor.ErrDuplicateInFlight) {
			logger.Warn("seed scheduled target", zap.String("url", target.URL), zap.Error(err))
		}
	}
	if len(cfg.Schedule.Targets) > 0 {
		logger.Info("scheduled targets seeded",
			zap.Int("targets", len(cfg.Schedule.Targets)),
			zap.Duration("interval", cfg.ScheduleInterval()))
	}
}
