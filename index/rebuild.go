package index

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgevm/vmpage/drivers"
)

// progressFile is the on-disk checkpoint for a resumable rebuild.
type progressFile struct {
	CompletedPageIDs []string  `json:"completed_page_ids"`
	FailedPageIDs    []string  `json:"failed_page_ids"`
	StartedAt        time.Time `json:"started_at"`
}

// Rebuilder drives a double-buffered rebuild of an Index: it embeds every
// page into a shadow file concurrently, checkpoints progress so the
// rebuild can be cancelled and resumed, and atomically swaps the shadow in
// as the live index on completion.
type Rebuilder struct {
	idx        *Index
	src        PageSource
	concurrent int
}

// NewRebuilder creates a Rebuilder for idx. concurrent bounds the number of
// simultaneous embedding calls during rebuild; 0 defaults to 4.
func NewRebuilder(idx *Index, src PageSource, concurrent int) *Rebuilder {
	if concurrent <= 0 {
		concurrent = 4
	}
	return &Rebuilder{idx: idx, src: src, concurrent: concurrent}
}

// Run embeds every summarised page into a shadow file, periodically
// persisting progress, then atomically renames the shadow over the live
// index and swaps the in-memory reference. If ctx is cancelled mid-run,
// the shadow and progress files remain on disk and Run returns ctx's
// error, so a later Run resumes from the checkpoint. Pages already
// completed are re-used as they are: a page whose summary changed after
// it was completed is not re-embedded by Run.
func (r *Rebuilder) Run(ctx context.Context) error {
	prog, err := loadProgress(r.idx.dir)
	if err != nil || prog.StartedAt.IsZero() {
		prog = progressFile{StartedAt: time.Now().UTC()}
	}
	done := make(map[string]bool, len(prog.CompletedPageIDs))
	for _, id := range prog.CompletedPageIDs {
		done[id] = true
	}

	shadow := make(map[string]Entry)
	if existing, err := loadFile(shadowPath(r.idx.dir)); err == nil {
		shadow = existing.Entries
	}
	// Pages already completed carry over from the current live index.
	r.idx.mu.RLock()
	for id, e := range r.idx.entries {
		if done[id] {
			shadow[id] = e
		}
	}
	r.idx.mu.RUnlock()

	pending := make([]PageSummary, 0)
	for _, ps := range r.src.SummarisedPages() {
		if ps.Summary == "" || done[ps.ID] {
			continue
		}
		pending = append(pending, ps)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrent)

	for _, ps := range pending {
		ps := ps
		g.Go(func() error {
			resp, err := r.idx.embedder.Embed(gctx, &drivers.EmbeddingRequest{Texts: []string{ps.Summary}})
			mu.Lock()
			defer mu.Unlock()
			if err != nil || len(resp.Embeddings) == 0 {
				prog.FailedPageIDs = append(prog.FailedPageIDs, ps.ID)
				return nil // embedding failure: skip, never surface (spec §4.15)
			}
			shadow[ps.ID] = Entry{Label: ps.Label, Vector: resp.Embeddings[0], UpdatedAt: time.Now().UTC()}
			prog.CompletedPageIDs = append(prog.CompletedPageIDs, ps.ID)
			return saveProgress(r.idx.dir, prog)
		})
	}

	if err := g.Wait(); err != nil {
		_ = saveShadow(r.idx.dir, shadow, r.idx.provider, r.idx.model, r.idx.dimension)
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = saveProgress(r.idx.dir, prog)
		_ = saveShadow(r.idx.dir, shadow, r.idx.provider, r.idx.model, r.idx.dimension)
		return err
	}

	if err := saveShadow(r.idx.dir, shadow, r.idx.provider, r.idx.model, r.idx.dimension); err != nil {
		return err
	}
	if err := os.Rename(shadowPath(r.idx.dir), livePath(r.idx.dir)); err != nil {
		return err
	}
	_ = os.Remove(progressPath(r.idx.dir))

	r.idx.mu.Lock()
	r.idx.entries = shadow
	r.idx.mu.Unlock()
	return nil
}

func loadProgress(dir string) (progressFile, error) {
	var p progressFile
	data, err := os.ReadFile(progressPath(dir))
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(data, &p)
	return p, err
}

func saveProgress(dir string, p progressFile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tmp := progressPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, progressPath(dir))
}

func saveShadow(dir string, entries map[string]Entry, provider, model string, dim int) error {
	ff := fileFormat{Provider: provider, Model: model, Dimension: dim, Entries: entries, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	tmp := shadowPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, shadowPath(dir))
}
