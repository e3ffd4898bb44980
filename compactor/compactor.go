// Package compactor implements the coordination core of the paging engine
// (spec §4.6): on watermark trigger or forced request, it snapshots the
// buffer into the fork store, partitions each lane into pageable and kept
// messages, writes pages for the pageable portions, replaces them with
// lane-tagged summaries, rebuilds the buffer preserving concurrently added
// messages, and finally flattens any tool-call pairs compaction broke.
package compactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgevm/vmpage/buffer"
	"github.com/forgevm/vmpage/fork"
	"github.com/forgevm/vmpage/importance"
	"github.com/forgevm/vmpage/lane"
	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/metrics"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/summarizer"
	"github.com/forgevm/vmpage/tokenest"
	"github.com/forgevm/vmpage/types"
	"github.com/forgevm/vmpage/watermark"
)

// PageEventSink is notified whenever the compactor writes a new page (spec
// §9's cyclic-reference resolution: the core holds a capability for this
// port, nullable, rather than the index holding a back-reference into the
// core).
type PageEventSink interface {
	OnPageCreated(id, summary, label string)
}

// Config configures a Compactor. Buf, Forks, Pages, Watermark, and
// Generator are required; Sink, Logger, and Metrics are optional.
type Config struct {
	Buf              *buffer.Buffer
	Forks            *fork.Store
	Pages            *pages.Store
	Watermark        *watermark.Controller
	Generator        *summarizer.Generator
	Sink             PageEventSink
	Metrics          *metrics.Sink
	Logger           logging.Logger
	MinRecentPerLane int
	CharsPerToken    float64
	SessionID        string
}

// Compactor is the single-flight-gated coordination core.
type Compactor struct {
	buf              *buffer.Buffer
	forks            *fork.Store
	pageStore        *pages.Store
	wm               *watermark.Controller
	gen              *summarizer.Generator
	sink             PageEventSink
	metricsSink      *metrics.Sink
	logger           logging.Logger
	minRecentPerLane int
	est              tokenest.Estimator
	sessionID        string
}

// New creates a Compactor from cfg, filling defaults.
func New(cfg Config) *Compactor {
	if cfg.MinRecentPerLane <= 0 {
		cfg.MinRecentPerLane = 4
	}
	return &Compactor{
		buf:              cfg.Buf,
		forks:            cfg.Forks,
		pageStore:        cfg.Pages,
		wm:               cfg.Watermark,
		gen:              cfg.Generator,
		sink:             cfg.Sink,
		metricsSink:      cfg.Metrics,
		logger:           logging.OrNop(cfg.Logger),
		minRecentPerLane: cfg.MinRecentPerLane,
		est:              tokenest.New(cfg.CharsPerToken),
		sessionID:        cfg.SessionID,
	}
}

// Outcome reports what one compaction cycle did, the basis for
// force_compact's human-readable summary (spec §7).
type Outcome struct {
	BeforeMessages int
	AfterMessages  int
	BeforeTokens   int
	AfterTokens    int
	PagesCreated   int
	TotalPages     int
}

// String renders the outcome in force_compact's documented format.
func (o Outcome) String() string {
	return fmt.Sprintf("Compacted: %d→%d messages, %d→%d tokens. Total pages: %d.",
		o.BeforeMessages, o.AfterMessages, o.BeforeTokens, o.AfterTokens, o.TotalPages)
}

// laneOrder is the fixed order summary messages are prepended in (spec
// §4.6 step 6, §5 ordering guarantees).
var laneOrder = []types.Lane{types.LaneAssistant, types.LaneUser, types.LaneSystem, types.LaneTool}

// Compact runs one compaction cycle. Callers are expected to invoke this
// only from inside the concurrency gate (gate.Gate.RunOnce); Compact itself
// does not serialise against concurrent calls.
func (c *Compactor) Compact(ctx context.Context, reason fork.Reason, force bool, thinkingBudget float64) (Outcome, error) {
	snapshot := c.buf.Snapshot()
	beforeTokens := c.est.Messages(snapshot)

	if _, err := c.forks.Snapshot(snapshot, reason); err != nil {
		c.logger.Warn("fork snapshot failed", map[string]any{"error": err.Error()})
	}
	if c.metricsSink != nil {
		c.metricsSink.Emit(c.sessionID, metrics.EventForkSnapshot, map[string]any{"reason": string(reason), "messages": len(snapshot)})
	}

	p := lane.Split(snapshot)

	systemHeadTokens := 0
	var sysHeadSeq uint64
	hasSysHead := false
	sysRest := p.System
	if headSeq, ok := c.buf.SystemHeadSeq(); ok {
		sysRest = make([]types.Message, 0, len(p.System))
		for _, m := range p.System {
			if !hasSysHead && m.Seq == headSeq {
				sysHeadSeq = m.Seq
				hasSysHead = true
				systemHeadTokens = c.est.Message(m)
				continue
			}
			sysRest = append(sysRest, m)
		}
	}

	decision := c.wm.Evaluate(p, systemHeadTokens, thinkingBudget)

	shouldPage := func(l types.Lane, msgs []types.Message) bool {
		if force {
			return len(msgs) > c.minRecentPerLane
		}
		return decision.ShouldPage(l)
	}

	assistantResult := importance.Split(p.Assistant, c.minRecentPerLane, shouldPage(types.LaneAssistant, p.Assistant))
	userResult := importance.Split(p.User, c.minRecentPerLane, shouldPage(types.LaneUser, p.User))
	systemResult := importance.Split(sysRest, c.minRecentPerLane, shouldPage(types.LaneSystem, sysRest))
	toolResult := importance.Split(p.Tool, c.minRecentPerLane, shouldPage(types.LaneTool, p.Tool))

	keptSeqs := make(map[uint64]bool)
	if hasSysHead {
		keptSeqs[sysHeadSeq] = true
	}
	for _, m := range assistantResult.Keep {
		keptSeqs[m.Seq] = true
	}
	for _, m := range userResult.Keep {
		keptSeqs[m.Seq] = true
	}
	for _, m := range systemResult.Keep {
		keptSeqs[m.Seq] = true
	}
	for _, m := range toolResult.Keep {
		keptSeqs[m.Seq] = true
	}
	for _, m := range p.Other {
		keptSeqs[m.Seq] = true
	}

	pagesCreated := 0
	summaryMsgs := make(map[types.Lane]types.Message)

	makeSummary := func(l types.Lane, older []types.Message) {
		if len(older) < 2 {
			// No page is written, so the message stays in the buffer.
			for _, m := range older {
				keptSeqs[m.Seq] = true
			}
			return
		}
		summary, err := c.createPage(ctx, l, older)
		if err != nil {
			c.logger.Warn("page creation failed", map[string]any{"lane": string(l), "error": err.Error()})
			return
		}
		pagesCreated++

		role := types.Role(l)
		switch l {
		case types.LaneSystem, types.LaneTool:
			role = types.RoleSystem
		}
		summaryMsgs[l] = types.Message{
			Role:    role,
			From:    "VirtualMemory",
			Content: fmt.Sprintf("%s LANE SUMMARY:\n%s", strings.ToUpper(string(l)), summary),
		}
	}

	makeSummary(types.LaneAssistant, assistantResult.Older)
	makeSummary(types.LaneUser, userResult.Older)
	makeSummary(types.LaneSystem, systemResult.Older)
	makeSummary(types.LaneTool, toolResult.Older)

	prepend := make([]types.Message, 0, len(laneOrder))
	for _, l := range laneOrder {
		if m, ok := summaryMsgs[l]; ok {
			prepend = append(prepend, m)
		}
	}

	originalSeqs := buffer.SeqSet(snapshot)
	rebuilt := c.buf.Rebuild(originalSeqs, keptSeqs, prepend)

	flattened := Flatten(rebuilt, c.logger)
	stamped := c.buf.StampMissing(flattened)
	c.buf.Replace(stamped)

	afterTokens := c.est.Messages(stamped)
	if c.metricsSink != nil {
		c.metricsSink.Emit(c.sessionID, metrics.EventCompaction, map[string]any{
			"before_messages": len(snapshot),
			"after_messages":  len(stamped),
			"before_tokens":   beforeTokens,
			"after_tokens":    afterTokens,
			"pages_created":   pagesCreated,
		})
	}

	return Outcome{
		BeforeMessages: len(snapshot),
		AfterMessages:  len(stamped),
		BeforeTokens:   beforeTokens,
		AfterTokens:    afterTokens,
		PagesCreated:   pagesCreated,
		TotalPages:     c.pageStore.PageCount(),
	}, nil
}

// createPage persists a page built from older and produces its summary
// (spec §4.7), notifying the optional PageEventSink.
func (c *Compactor) createPage(ctx context.Context, l types.Lane, older []types.Message) (string, error) {
	raw := pages.BuildRaw(older)
	id := pages.ID(raw)
	label := fmt.Sprintf("%s lane, %d messages", l, len(older))

	page := pages.Page{
		ID:            id,
		Label:         label,
		Content:       raw,
		MessageCount:  len(older),
		Tokens:        c.est.Messages(older),
		MaxImportance: pages.MaxImportanceOf(older),
		Lane:          l,
	}
	if err := c.pageStore.Save(page); err != nil {
		return "", err
	}
	if c.metricsSink != nil {
		c.metricsSink.Emit(c.sessionID, metrics.EventPageCreated, map[string]any{"id": id, "lane": string(l), "tokens": page.Tokens})
	}

	result := c.gen.Summarise(ctx, id, label, l, older)
	if err := c.pageStore.UpdateSummary(id, result.Summary); err != nil {
		c.logger.Warn("page summary write failed", map[string]any{"id": id, "error": err.Error()})
	}

	if c.sink != nil {
		c.sink.OnPageCreated(id, result.Summary, label)
	}

	return result.Summary, nil
}
