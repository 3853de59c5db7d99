// Package match evaluates snapshots against watch keywords.
package match

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/monitor"
)

// contextRadius is the number of characters captured on each side of a
// match for the finding excerpt.
const contextRadius = 40

// Match is one keyword hit inside a piece of content.
type Match struct {
	Keyword string
	Offset  int
	Context string
}

// Engine turns snapshot content plus keywords into persisted findings.
// Only positive matches are durable; clean scans produce no records.
type Engine struct {
	findings monitor.FindingStore
	idGen    monitor.IDGenerator
	clock    monitor.Clock
	logger   *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(findings monitor.FindingStore, idGen monitor.IDGenerator, clock monitor.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		findings: findings,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
	}
}

// Evaluate scans content for each keyword, case-insensitively. Each keyword
// yields at most one match, at its first occurrence.
func Evaluate(content string, keywords []string) []Match {
	folded := strings.ToLower(content)
	var matches []Match
	for _, kw := range keywords {
		term := strings.ToLower(strings.TrimSpace(kw))
		if term == "" {
			continue
		}
		offset := strings.Index(folded, term)
		if offset < 0 {
			continue
		}
		matches = append(matches, Match{
			Keyword: term,
			Offset:  offset,
			Context: excerpt(content, offset, len(term)),
		})
	}
	return matches
}

// Process evaluates one snapshot and persists a flagged finding per match.
func (e *Engine) Process(ctx context.Context, snap monitor.Snapshot, keywords []string) ([]monitor.Finding, error) {
	matches := Evaluate(snap.Content, keywords)
	if len(matches) == 0 {
		return nil, nil
	}

	findings := make([]monitor.Finding, 0, len(matches))
	for _, m := range matches {
		id, err := e.idGen.NewID()
		if err != nil {
			return findings, fmt.Errorf("generate finding id: %w", err)
		}
		f := monitor.Finding{
			ID:          id,
			SnapshotID:  snap.ID,
			KeywordTerm: m.Keyword,
			Offset:      m.Offset,
			Context:     m.Context,
			Flagged:     true,
			FoundAt:     e.clock.Now(),
		}
		if err := e.findings.CreateFinding(ctx, f); err != nil {
			return findings, fmt.Errorf("persist finding: %w", err)
		}
		e.logger.Info("keyword matched",
			zap.String("snapshot_id", snap.ID),
			zap.String("keyword", m.Keyword),
			zap.String("url", snap.URL),
		)
		findings = append(findings, f)
	}
	return findings, nil
}

func excerpt(content string, offset, length int) string {
	start := offset - contextRadius
	if start < 0 {
		start = 0
	}
	end := offset + length + contextRadius
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
