package direct

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightglass/darkmon/internal/monitor"
)

func TestFetchReturnsBodyAndTitle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>Leak Forum</title></head><body>credentials inside</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second, MaxBodyBytes: 1 << 20})
	resp, err := f.Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL, Source: monitor.SourceClearnet})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Leak Forum", resp.Title)
	require.Contains(t, string(resp.Body), "credentials inside")
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second, MaxBodyBytes: 1024})
	_, err := f.Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL, Source: monitor.SourceClearnet})
	require.ErrorIs(t, err, monitor.ErrContentTooLarge)
}

func TestFetchUnreachableTarget(t *testing.T) {
	t.Parallel()

	// Reserve a port and close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := New(Config{Timeout: 2 * time.Second, MaxBodyBytes: 1024})
	_, err := f.Fetch(context.Background(), monitor.FetchRequest{URL: url, Source: monitor.SourceClearnet})
	require.ErrorIs(t, err, monitor.ErrTargetUnreachable)
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 30 * time.Second, MaxBodyBytes: 1024})
	_, err := f.Fetch(ctx, monitor.FetchRequest{URL: srv.URL, Source: monitor.SourceClearnet})
	require.ErrorIs(t, err, monitor.ErrFetchTimeout)
}

func TestFetchSendsConfiguredUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "darkmon-test/1.0", Timeout: 5 * time.Second, MaxBodyBytes: 1024})
	_, err := f.Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL, Source: monitor.SourceClearnet})
	require.NoError(t, err)
	require.Equal(t, "darkmon-test/1.0", gotUA)
}
