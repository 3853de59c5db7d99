// Package fetcher routes fetch requests to source-specific transports.
package fetcher

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nightglass/darkmon/internal/monitor"
)

// Selector picks the network path for a fetch based on its source kind.
// Onion targets go through the Tor transport; paste and clearnet targets
// fetch directly.
type Selector struct {
	direct monitor.Fetcher
	tor    monitor.Fetcher
}

// NewSelector builds a Selector. The tor fetcher may be nil when no proxy
// is configured; tor-sourced requests then fail with an explicit error.
func NewSelector(direct, tor monitor.Fetcher) *Selector {
	return &Selector{direct: direct, tor: tor}
}

// Fetch dispatches the request to the transport matching its source kind.
func (s *Selector) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	switch request.Source {
	case monitor.SourceTor:
		if s.tor == nil {
			return monitor.FetchResponse{}, fmt.Errorf("no tor transport configured: %w", monitor.ErrTargetUnreachable)
		}
		return s.tor.Fetch(ctx, request)
	default:
		return s.direct.Fetch(ctx, request)
	}
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Title extracts the first <title> text from an HTML body. Returns an
// empty string for non-HTML or untitled content.
func Title(body []byte) string {
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(string(m[1])))
}
