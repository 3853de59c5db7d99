// Package tor implements the onion fetch path through a SOCKS5 proxy.
//
// The service expects a Tor daemon to be running and only uses its SOCKS
// port; it does not manage the daemon itself.
package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/nightglass/darkmon/internal/fetcher"
	"github.com/nightglass/darkmon/internal/monitor"
)

// Config controls the proxied client.
type Config struct {
	// ProxyAddress is the Tor SOCKS5 address in "host:port" form.
	ProxyAddress string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements monitor.Fetcher over a Tor SOCKS5 proxy.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher. It validates the proxy address but does not dial
// it; connectivity errors surface on the first fetch.
func New(cfg Config) (*Fetcher, error) {
	if cfg.ProxyAddress == "" {
		return nil, fmt.Errorf("tor proxy address is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 * 1024 * 1024
	}
	dialer, err := proxy.SOCKS5("tcp", cfg.ProxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create socks5 dialer: %w", err)
	}
	transport := &http.Transport{
		DisableKeepAlives: true,
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = ctxDialer.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Fetch executes a single GET through the proxy, enforcing the body cap.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return monitor.FetchResponse{}, fmt.Errorf("build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, classify(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.cfg.MaxBodyBytes)+1))
	if err != nil {
		return monitor.FetchResponse{}, fmt.Errorf("read body %s: %w", request.URL, classify(err))
	}
	if len(body) > f.cfg.MaxBodyBytes {
		return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, monitor.ErrContentTooLarge)
	}

	return monitor.FetchResponse{
		URL:        request.URL,
		StatusCode: resp.StatusCode,
		Title:      fetcher.Title(body),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
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
