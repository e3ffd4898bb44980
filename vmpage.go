// Package vmpage is a virtual-memory-style context window manager for LLM
// agent runtimes: a growing message buffer is paged out lane-by-lane once a
// per-lane token watermark is crossed, paged content is recoverable through
// a content-addressed page store and a semantic index, and every read
// reassembles a budget-respecting view instead of returning the raw
// buffer. Grounded throughout on the teacher's runtime.Memory facade
// (forge-core/runtime/memory.go), which wires exactly this shape of
// subsystem (buffer + compactor + audit log) behind one constructor.
package vmpage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/forgevm/vmpage/assembler"
	"github.com/forgevm/vmpage/buffer"
	"github.com/forgevm/vmpage/compactor"
	"github.com/forgevm/vmpage/drivers"
	"github.com/forgevm/vmpage/fork"
	"github.com/forgevm/vmpage/gate"
	"github.com/forgevm/vmpage/index"
	"github.com/forgevm/vmpage/lane"
	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/metrics"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/slot"
	"github.com/forgevm/vmpage/summarizer"
	"github.com/forgevm/vmpage/tokenest"
	"github.com/forgevm/vmpage/types"
	"github.com/forgevm/vmpage/watermark"
)

// Config is the full set of recognised configuration options (spec §6).
type Config struct {
	PagesDir            string
	PageSlotTokens      int // default 6000
	WorkingMemoryTokens int // default 6000

	AssistantWeight int // default 8
	UserWeight      int // default 4
	SystemWeight    int // default 3
	ToolWeight      int // default 1

	AvgCharsPerToken float64 // default 2.8
	MinRecentPerLane int     // default 4
	HighRatio        float64 // default 0.75
	LowRatio         float64 // reserved, default 0.50

	SummariserModel          string
	EnableBatchSummarisation bool
	EnablePhantomCompaction  bool
	QueuePath                string
	SessionID                string

	// EmbeddingProvider/EmbeddingModel identify the embedder backing the
	// semantic index, so a provider or model swap invalidates stale
	// entries (spec §4.11, index.New's discard-on-mismatch behaviour).
	// Not part of spec §6's recognised option list; required internally
	// whenever Embedder is set.
	EmbeddingProvider string
	EmbeddingModel    string

	Summariser drivers.Summariser // optional
	Embedder   drivers.Embedder   // optional
	Logger     logging.Logger
	MetricsW   io.Writer // optional NDJSON sink for metrics.Sink
}

// MemoryStats is the snapshot returned by GetStats.
type MemoryStats struct {
	Messages      int
	Pages         int
	PagesCreated  uint64
	PagesEvicted  uint64
	PagesReloaded uint64
	RefHits       uint64
	RefMisses     uint64
	Compactions   uint64
	Searches      uint64
	MissRate      float64
}

// SearchHit is one result row from Search.
type SearchHit struct {
	PageID string
	Score  float64
	Label  string
}

// VirtualMemory is the top-level facade wiring every subsystem together
// and exposing the spec's external operations.
type VirtualMemory struct {
	cfg Config

	buf        *buffer.Buffer
	pageStore  *pages.Store
	forks      *fork.Store
	idx        *index.Index
	wm         *watermark.Controller
	gen        *summarizer.Generator
	comp       *compactor.Compactor
	slotMgr    *slot.Manager
	asm        *assembler.Assembler
	gate       *gate.Gate
	metricsSnk *metrics.Sink
	logger     logging.Logger
	est        tokenest.Estimator
}

// New wires every subsystem from cfg and returns a ready-to-use
// VirtualMemory. PagesDir is required; every other field falls back to its
// spec §6 default.
func New(cfg Config) (*VirtualMemory, error) {
	if cfg.PagesDir == "" {
		return nil, fmt.Errorf("vmpage: PagesDir is required")
	}
	if cfg.PageSlotTokens <= 0 {
		cfg.PageSlotTokens = 6000
	}
	if cfg.WorkingMemoryTokens <= 0 {
		cfg.WorkingMemoryTokens = 6000
	}
	if cfg.AssistantWeight == 0 && cfg.UserWeight == 0 && cfg.SystemWeight == 0 && cfg.ToolWeight == 0 {
		cfg.AssistantWeight, cfg.UserWeight, cfg.SystemWeight, cfg.ToolWeight = 8, 4, 3, 1
	}
	if cfg.AvgCharsPerToken <= 0 {
		cfg.AvgCharsPerToken = 2.8
	}
	if cfg.MinRecentPerLane <= 0 {
		cfg.MinRecentPerLane = 4
	}
	if cfg.HighRatio <= 0 {
		cfg.HighRatio = 0.75
	}
	if cfg.LowRatio <= 0 {
		cfg.LowRatio = 0.50
	}

	logger := logging.OrNop(cfg.Logger)

	buf := buffer.New()

	pageStore, err := pages.NewStore(pages.Config{Dir: cfg.PagesDir, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("vmpage: opening page store: %w", err)
	}

	forks, err := fork.New(filepath.Join(cfg.PagesDir, "forks"))
	if err != nil {
		return nil, fmt.Errorf("vmpage: opening fork store: %w", err)
	}

	idx, err := index.New(index.Config{
		Dir:      filepath.Join(cfg.PagesDir, "index"),
		Embedder: cfg.Embedder,
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("vmpage: opening semantic index: %w", err)
	}

	metricsSnk := metrics.New(cfg.MetricsW)

	wm := watermark.New(watermark.Config{
		Weights: watermark.Weights{
			Assistant: cfg.AssistantWeight,
			User:      cfg.UserWeight,
			System:    cfg.SystemWeight,
			Tool:      cfg.ToolWeight,
		},
		WorkingMemoryTokens: cfg.WorkingMemoryTokens,
		HighRatio:           cfg.HighRatio,
		CharsPerToken:       cfg.AvgCharsPerToken,
	})

	var queue *summarizer.Queue
	if cfg.EnableBatchSummarisation && cfg.QueuePath != "" {
		queue, err = summarizer.NewQueue(cfg.QueuePath)
		if err != nil {
			return nil, fmt.Errorf("vmpage: opening summarisation queue: %w", err)
		}
	}
	gen := summarizer.New(summarizer.Config{Queue: queue, Driver: cfg.Summariser, Logger: logger})

	vm := &VirtualMemory{cfg: cfg, buf: buf, pageStore: pageStore, forks: forks, idx: idx, wm: wm, gen: gen,
		metricsSnk: metricsSnk, logger: logger, gate: gate.New(), est: tokenest.New(cfg.AvgCharsPerToken)}

	vm.comp = compactor.New(compactor.Config{
		Buf: buf, Forks: forks, Pages: pageStore, Watermark: wm, Generator: gen,
		Sink: vm, Metrics: metricsSnk, Logger: logger,
		MinRecentPerLane: cfg.MinRecentPerLane, CharsPerToken: cfg.AvgCharsPerToken, SessionID: cfg.SessionID,
	})

	vm.slotMgr = slot.New(slot.Config{
		Pages: pageStore, SlotTokens: cfg.PageSlotTokens, CharsPerToken: cfg.AvgCharsPerToken,
		Metrics: metricsSnk, Logger: logger, SessionID: cfg.SessionID,
	})

	vm.asm = assembler.New(assembler.Config{
		Buf: buf, Pages: pageStore, Slot: vm.slotMgr, CharsPerToken: cfg.AvgCharsPerToken,
		WorkingMemoryTokens: cfg.WorkingMemoryTokens, MinRecentPerLane: cfg.MinRecentPerLane,
	})

	return vm, nil
}

// OnPageCreated implements compactor.PageEventSink: every freshly created
// page is backfilled into the semantic index as soon as its summary is
// available, rather than waiting for the next scheduled maintenance pass.
func (vm *VirtualMemory) OnPageCreated(id, summary, label string) {
	if vm.cfg.Embedder == nil || summary == "" {
		return
	}
	if err := vm.idx.Backfill(context.Background(), singlePageSource{id: id, label: label, summary: summary}); err != nil {
		vm.logger.Warn("index backfill after page creation failed", map[string]any{"id": id, "error": err.Error()})
	}
}

type singlePageSource struct{ id, label, summary string }

func (s singlePageSource) SummarisedPages() []index.PageSummary {
	return []index.PageSummary{{ID: s.id, Label: s.label, Summary: s.summary}}
}

// SummarisedPages implements index.PageSource by reading the page store's
// current summaries, for Scheduler-driven backfill.
func (vm *VirtualMemory) SummarisedPages() []index.PageSummary {
	pp := vm.pageStore.Pages()
	out := make([]index.PageSummary, 0, len(pp))
	for _, p := range pp {
		out = append(out, index.PageSummary{ID: p.ID, Label: p.Label, Summary: p.Summary})
	}
	return out
}

// Add appends m to the buffer, stamping it with a fresh Seq, then triggers
// compaction if any lane has crossed its watermark (spec §4.6's entry
// point). thinkingBudget scales the effective watermark per spec §4.5; 0
// is the unscaled default.
func (vm *VirtualMemory) Add(m types.Message, thinkingBudget float64) types.Message {
	added := vm.buf.Add(m)
	vm.maybeCompact(thinkingBudget)
	return added
}

// AddIfNotExists appends m only if no message in the buffer currently has
// identical (role, content, tool_call_id), a dedup guard the teacher's
// runtime.Memory performs before appending duplicate tool-loop turns.
func (vm *VirtualMemory) AddIfNotExists(m types.Message, thinkingBudget float64) (types.Message, bool) {
	for _, existing := range vm.buf.Snapshot() {
		if existing.Role == m.Role && existing.Content == m.Content && existing.ToolCallID == m.ToolCallID {
			return existing, false
		}
	}
	return vm.Add(m, thinkingBudget), true
}

// maybeCompact checks whether any lane has crossed its watermark and, if
// so (or if EnablePhantomCompaction asks for a fork every cycle
// regardless), runs one compaction cycle through the concurrency gate.
// compactor.Compact always takes its own fork snapshot as its first step
// (spec §4.6 step 1); gating the call here, rather than inside Compact, is
// what makes phantom forking (a snapshot on every add, not just ones that
// end up paging) an opt-in rather than the default.
func (vm *VirtualMemory) maybeCompact(thinkingBudget float64) {
	if !vm.cfg.EnablePhantomCompaction && !vm.overWatermark(thinkingBudget) {
		return
	}
	vm.gate.RunOnce(func() {
		if _, err := vm.comp.Compact(context.Background(), fork.ReasonWatermark, false, thinkingBudget); err != nil {
			vm.logger.Warn("watermark compaction failed", map[string]any{"error": err.Error()})
		}
	})
}

// overWatermark mirrors compactor.Compact's own decision computation
// (spec §4.5) without performing any of the mutating work, so a cheap
// read-only check can gate whether a compaction cycle (and its fork
// snapshot) runs at all.
func (vm *VirtualMemory) overWatermark(thinkingBudget float64) bool {
	snapshot := vm.buf.Snapshot()
	p := lane.Split(snapshot)

	systemHeadTokens := 0
	if headSeq, ok := vm.buf.SystemHeadSeq(); ok {
		for _, m := range p.System {
			if m.Seq == headSeq {
				systemHeadTokens = vm.est.Message(m)
				break
			}
		}
	}

	return vm.wm.Evaluate(p, systemHeadTokens, thinkingBudget).Any()
}

// Messages assembles and returns the current context window (spec §4.9).
func (vm *VirtualMemory) Messages() []types.Message {
	return vm.asm.Assemble()
}

// Ref requests page id be loaded into the slot. Returns false on an
// unknown id (a miss, recorded in stats).
func (vm *VirtualMemory) Ref(id string) bool {
	ok := vm.pageStore.Ref(id)
	if ok {
		vm.metricsSnk.RecordRefHit()
	} else {
		vm.metricsSnk.Emit(vm.cfg.SessionID, metrics.EventPageRefMiss, map[string]any{"id": id})
	}
	return ok
}

// Unref releases a page from the active set.
func (vm *VirtualMemory) Unref(id string) {
	vm.pageStore.Unref(id)
}

// Pin pins a page, loading it first if necessary.
func (vm *VirtualMemory) Pin(id string) bool {
	return vm.slotMgr.Pin(id)
}

// Unpin clears a page's pinned flag.
func (vm *VirtualMemory) Unpin(id string) {
	vm.slotMgr.Unpin(id)
}

// PagesList returns every known page's metadata.
func (vm *VirtualMemory) PagesList() []pages.Page {
	return vm.pageStore.Pages()
}

// PageCount returns the number of known pages.
func (vm *VirtualMemory) PageCount() int {
	return vm.pageStore.PageCount()
}

// HasPage reports whether a page with id is known.
func (vm *VirtualMemory) HasPage(id string) bool {
	return vm.pageStore.Exists(id)
}

// ForceCompact runs compaction unconditionally (spec §4.6's force path),
// serialised through the same concurrency gate as watermark-triggered
// compaction, and renders the result per spec §7's force_compact format.
func (vm *VirtualMemory) ForceCompact(thinkingBudget float64) string {
	if vm.buf.Len() == 0 {
		return "Nothing to compact — context is empty."
	}

	var outcome compactor.Outcome
	var compactErr error
	vm.gate.RunOnce(func() {
		outcome, compactErr = vm.comp.Compact(context.Background(), fork.ReasonManual, true, thinkingBudget)
	})
	if compactErr != nil {
		return fmt.Sprintf("Error: %s", compactErr.Error())
	}
	return outcome.String()
}

// ForkHistory returns the fork chain, oldest first.
func (vm *VirtualMemory) ForkHistory() []fork.Snapshot {
	return vm.forks.History()
}

// RecallFork looks up a fork by id, or the most recent one when id is
// empty. ok is false on a miss (spec §7: recall_fork returns null).
func (vm *VirtualMemory) RecallFork(id string) (fork.Snapshot, bool) {
	return vm.forks.Recall(id)
}

// Search runs a semantic query over page summaries, defaulting k to 10 and
// threshold to 0.4 when unset.
func (vm *VirtualMemory) Search(ctx context.Context, query string, k int, threshold float64) []SearchHit {
	if threshold <= 0 {
		threshold = 0.4
	}
	results := vm.idx.Search(ctx, query, k, threshold)
	vm.metricsSnk.Emit(vm.cfg.SessionID, metrics.EventSearch, map[string]any{"query": query, "hits": len(results)})

	out := make([]SearchHit, 0, len(results))
	for _, r := range results {
		out = append(out, SearchHit{PageID: r.PageID, Score: r.Score, Label: r.Label})
	}
	return out
}

// GetStats returns a point-in-time snapshot of engine counters.
func (vm *VirtualMemory) GetStats() MemoryStats {
	s := vm.metricsSnk.Snapshot()
	return MemoryStats{
		Messages:      vm.buf.Len(),
		Pages:         vm.pageStore.PageCount(),
		PagesCreated:  s.PagesCreated,
		PagesEvicted:  s.PagesEvicted,
		PagesReloaded: s.PagesReloaded,
		RefHits:       s.RefHits,
		RefMisses:     s.RefMisses,
		Compactions:   s.Compactions,
		Searches:      s.Searches,
		MissRate:      s.MissRate(),
	}
}

// Backfill indexes every summarised page missing from the semantic index,
// exposed directly for callers that want to trigger it outside the
// maintenance scheduler's cron cadence.
func (vm *VirtualMemory) Backfill(ctx context.Context) error {
	return vm.idx.Backfill(ctx, vm)
}

// PruneForks removes fork snapshots older than maxAge.
func (vm *VirtualMemory) PruneForks(maxAge time.Duration) int {
	return vm.forks.Prune(time.Now().UTC().Add(-maxAge))
}
