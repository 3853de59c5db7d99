// Package index maintains the searchable keyword index over snapshots.
package index

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/nightglass/darkmon/internal/monitor"
)

// Index wraps a Bleve index over snapshot content. Adds are idempotent per
// content hash: re-indexing an unchanged snapshot is a no-op.
type Index struct {
	idx bleve.Index

	mu   sync.Mutex
	seen map[string]string // content hash -> snapshot ID
}

// Ref points a search hit back at its snapshot.
type Ref struct {
	SnapshotID string
	URL        string
	Title      string
	FetchedAt  time.Time
}

type indexedSnapshot struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Open creates an in-memory index.
func Open() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{idx: idx, seen: make(map[string]string)}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()

	urlFieldMapping := bleve.NewTextFieldMapping()
	urlFieldMapping.Analyzer = "keyword"

	timeFieldMapping := bleve.NewDateTimeFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("url", urlFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("fetched_at", timeFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// Close releases index resources.
func (i *Index) Close() error {
	return i.idx.Close()
}

// Add indexes a snapshot. Identical content hashes are skipped so that
// re-crawls of unchanged targets leave the index untouched.
func (i *Index) Add(snap monitor.Snapshot) error {
	i.mu.Lock()
	if _, ok := i.seen[snap.ContentHash]; ok {
		i.mu.Unlock()
		return nil
	}
	i.seen[snap.ContentHash] = snap.ID
	i.mu.Unlock()

	doc := indexedSnapshot{
		URL:       snap.URL,
		Title:     snap.Title,
		Content:   strings.ToLower(snap.Content),
		FetchedAt: snap.FetchedAt,
	}
	if err := i.idx.Index(snap.ID, doc); err != nil {
		i.mu.Lock()
		delete(i.seen, snap.ContentHash)
		i.mu.Unlock()
		return fmt.Errorf("index snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Search returns snapshot refs whose content contains the term,
// most-recent-first. Safe to re-issue; the index is read-locked internally
// by bleve.
func (i *Index) Search(term string, limit int) ([]Ref, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, fmt.Errorf("search term is required")
	}
	if limit <= 0 {
		limit = 25
	}

	// Wildcard query so a watch term matches inside larger tokens
	// ("password" hits "password123").
	q := bleve.NewWildcardQuery("*" + escapeWildcard(term) + "*")
	q.SetField("content")

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"url", "title", "fetched_at"}
	req.SortBy([]string{"-fetched_at"})

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}

	refs := make([]Ref, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ref := Ref{SnapshotID: hit.ID}
		if v, ok := hit.Fields["url"].(string); ok {
			ref.URL = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			ref.Title = v
		}
		if v, ok := hit.Fields["fetched_at"].(string); ok {
			if ts, perr := time.Parse(time.RFC3339, v); perr == nil {
				ref.FetchedAt = ts
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// escapeWildcard neutralizes bleve wildcard metacharacters in user terms.
func escapeWildcard(term string) string {
	replacer := strings.NewReplacer("*", `\*`, "?", `\?`)
	return replacer.Replace(term)
}
