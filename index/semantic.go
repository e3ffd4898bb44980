// Package index implements the flat cosine semantic index over page
// summaries (spec §4.11): search, backfill, and a double-buffered rebuild
// with shadow-file checkpointing and orphan recovery.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/forgevm/vmpage/drivers"
)

const dedupThreshold = 0.9

// Entry is one indexed page: its embedding and the label shown alongside
// search results.
type Entry struct {
	Label     string    `json:"label"`
	Vector    []float32 `json:"embedding"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result is a single search hit.
type Result struct {
	PageID string
	Label  string
	Score  float64
}

// PageSource is the read-only view of the page store the index needs: the
// set of summarised pages to (re)embed during backfill/rebuild.
type PageSource interface {
	// SummarisedPages returns (id, label, summary) triples for every page
	// that currently has a non-empty summary.
	SummarisedPages() []PageSummary
}

// PageSummary is one page's searchable content.
type PageSummary struct {
	ID      string
	Label   string
	Summary string
}

type fileFormat struct {
	Provider  string           `json:"provider"`
	Model     string           `json:"model"`
	Dimension int              `json:"dimension"`
	Entries   map[string]Entry `json:"entries"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Index is a flat, in-memory cosine-similarity index over page embeddings,
// persisted as a single JSON file via atomic rename.
type Index struct {
	mu        sync.RWMutex
	dir       string
	embedder  drivers.Embedder
	provider  string
	model     string
	dimension int
	entries   map[string]Entry
}

// Config configures a new Index.
type Config struct {
	Dir      string
	Embedder drivers.Embedder
	Provider string
	Model    string
}

func livePath(dir string) string     { return filepath.Join(dir, "embeddings.json") }
func shadowPath(dir string) string   { return filepath.Join(dir, "embeddings.shadow.json") }
func progressPath(dir string) string { return filepath.Join(dir, "batch-progress.json") }

// New opens or creates the index at cfg.Dir. If a stale shadow file is
// found with no progress checkpoint, it is promoted to live (orphan
// recovery, spec §4.11). If the persisted provider/model differs from the
// configured one, all entries are discarded — this triggers a later
// backfill.
func New(cfg Config) (*Index, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index dir: %w", err)
	}

	if _, err := os.Stat(shadowPath(cfg.Dir)); err == nil {
		if _, perr := os.Stat(progressPath(cfg.Dir)); os.IsNotExist(perr) {
			_ = os.Rename(shadowPath(cfg.Dir), livePath(cfg.Dir))
		}
	}

	idx := &Index{
		dir:      cfg.Dir,
		embedder: cfg.Embedder,
		provider: cfg.Provider,
		model:    cfg.Model,
		entries:  make(map[string]Entry),
	}

	ff, err := loadFile(livePath(cfg.Dir))
	if err != nil {
		return idx, nil // corrupted index: discarded, rebuilt (spec §4.15)
	}
	if ff.Provider != cfg.Provider || ff.Model != cfg.Model {
		return idx, nil // provider/model changed: discard, await backfill
	}
	idx.entries = ff.Entries
	idx.dimension = ff.Dimension
	return idx, nil
}

func loadFile(path string) (fileFormat, error) {
	var ff fileFormat
	data, err := os.ReadFile(path)
	if err != nil {
		return ff, err
	}
	if err := json.Unmarshal(data, &ff); err != nil {
		return ff, err
	}
	if ff.Entries == nil {
		ff.Entries = make(map[string]Entry)
	}
	return ff, nil
}

func (idx *Index) persistLocked() error {
	ff := fileFormat{
		Provider:  idx.provider,
		Model:     idx.model,
		Dimension: idx.dimension,
		Entries:   idx.entries,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	tmp := livePath(idx.dir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, livePath(idx.dir))
}

// Count returns the number of indexed entries.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Upsert adds or replaces a page's embedding entry and persists the index.
func (idx *Index) Upsert(pageID, label string, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[pageID] = Entry{Label: label, Vector: vector, UpdatedAt: time.Now().UTC()}
	if idx.dimension == 0 {
		idx.dimension = len(vector)
	}
	return idx.persistLocked()
}

// Remove deletes a page's entry, e.g. once the page itself is evicted
// from durable storage.
func (idx *Index) Remove(pageID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, pageID)
	return idx.persistLocked()
}

// Search embeds q, scores every entry by cosine similarity, drops scores
// below threshold, sorts descending, takes the top 2k, de-duplicates near-
// identical hits (cosine > 0.9 against a higher-ranked retained result),
// and truncates to k. Embedding failure degrades to an empty result rather
// than an error (spec §4.15).
func (idx *Index) Search(ctx context.Context, q string, k int, threshold float64) []Result {
	if k <= 0 {
		k = 10
	}
	resp, err := idx.embedder.Embed(ctx, &drivers.EmbeddingRequest{Texts: []string{q}})
	if err != nil || len(resp.Embeddings) == 0 {
		return nil
	}
	qv := resp.Embeddings[0]

	idx.mu.RLock()
	type scored struct {
		id    string
		entry Entry
		score float64
	}
	candidates := make([]scored, 0, len(idx.entries))
	for id, e := range idx.entries {
		s := cosine(qv, e.Vector)
		if s < threshold {
			continue
		}
		candidates = append(candidates, scored{id: id, entry: e, score: s})
	}
	idx.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > 2*k {
		candidates = candidates[:2*k]
	}

	results := make([]Result, 0, k)
	vectors := make([][]float32, 0, k)
	for _, c := range candidates {
		dup := false
		for _, kept := range vectors {
			if cosine(c.entry.Vector, kept) > dedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		results = append(results, Result{PageID: c.id, Label: c.entry.Label, Score: c.score})
		vectors = append(vectors, c.entry.Vector)
		if len(results) >= k {
			break
		}
	}
	return results
}

// Backfill indexes every summarised page missing from the index. Pages
// without a summary are skipped. A second call with nothing new to do is a
// no-op.
func (idx *Index) Backfill(ctx context.Context, src PageSource) error {
	for _, ps := range src.SummarisedPages() {
		if ps.Summary == "" {
			continue
		}
		idx.mu.RLock()
		_, present := idx.entries[ps.ID]
		idx.mu.RUnlock()
		if present {
			continue
		}
		resp, err := idx.embedder.Embed(ctx, &drivers.EmbeddingRequest{Texts: []string{ps.Summary}})
		if err != nil || len(resp.Embeddings) == 0 {
			continue // embedding failure: entry skipped, never surfaced
		}
		if err := idx.Upsert(ps.ID, ps.Label, resp.Embeddings[0]); err != nil {
			continue
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
