// Package direct implements the clearnet/paste fetch path using Colly.
package direct

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/nightglass/darkmon/internal/monitor"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements monitor.Fetcher using a single-page Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 * 1024 * 1024
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		// One extra byte so a body that exactly fills the cap is
		// distinguishable from a truncated one.
		colly.MaxBodySize(cfg.MaxBodyBytes+1),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	var (
		result   monitor.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Body = append([]byte(nil), r.Body...)
	})
	collector.OnHTML("title", func(e *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = classify(err)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(request.URL); err != nil && fetchErr == nil {
			fetchErr = classify(err)
		}
	}()

	select {
	case <-ctx.Done():
		return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, monitor.ErrFetchTimeout)
	case <-done:
	}
	if fetchErr != nil {
		return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, monitor.ErrContentTooLarge)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return monitor.ErrFetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return monitor.ErrFetchTimeout
	}
	return fmt.Errorf("%w: %v", monitor.ErrTargetUnreachable, err)
}
