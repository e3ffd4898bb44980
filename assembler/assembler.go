// Package assembler implements the context assembler (spec §4.9): on each
// read it evicts loaded pages back under budget, then emits the original
// system prompt, one synthetic message per loaded page, and a sanitised,
// hard-capped recent window.
package assembler

import (
	"fmt"

	"github.com/forgevm/vmpage/buffer"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/slot"
	"github.com/forgevm/vmpage/tokenest"
	"github.com/forgevm/vmpage/types"
)

// defaultHardCapCeilingMultiplier and defaultHardCapTargetMultiplier are
// the reference implementation's tuned constants (spec §9 Open
// Questions): "appear tuned rather than principled... default to the
// reference values." Exposed as Config fields so a caller MAY override
// them.
const (
	defaultHardCapCeilingMultiplier = 4
	defaultHardCapTargetMultiplier  = 2
)

// Assembler builds the message list returned by messages() (spec §4.9).
type Assembler struct {
	buf                 *buffer.Buffer
	pages               *pages.Store
	slotMgr             *slot.Manager
	est                 tokenest.Estimator
	workingMemoryTokens int
	minRecentPerLane    int
	ceilingMultiplier   int
	targetMultiplier    int
}

// Config configures an Assembler.
type Config struct {
	Buf                      *buffer.Buffer
	Pages                    *pages.Store
	Slot                     *slot.Manager
	CharsPerToken            float64
	WorkingMemoryTokens      int // default 6000
	MinRecentPerLane         int // default 4
	HardCapCeilingMultiplier int // default 4 (spec §9)
	HardCapTargetMultiplier  int // default 2 (spec §9)
}

// New creates an Assembler from cfg, filling defaults.
func New(cfg Config) *Assembler {
	if cfg.WorkingMemoryTokens <= 0 {
		cfg.WorkingMemoryTokens = 6000
	}
	if cfg.MinRecentPerLane <= 0 {
		cfg.MinRecentPerLane = 4
	}
	if cfg.HardCapCeilingMultiplier <= 0 {
		cfg.HardCapCeilingMultiplier = defaultHardCapCeilingMultiplier
	}
	if cfg.HardCapTargetMultiplier <= 0 {
		cfg.HardCapTargetMultiplier = defaultHardCapTargetMultiplier
	}
	return &Assembler{
		buf:                 cfg.Buf,
		pages:               cfg.Pages,
		slotMgr:             cfg.Slot,
		est:                 tokenest.New(cfg.CharsPerToken),
		workingMemoryTokens: cfg.WorkingMemoryTokens,
		minRecentPerLane:    cfg.MinRecentPerLane,
		ceilingMultiplier:   cfg.HardCapCeilingMultiplier,
		targetMultiplier:    cfg.HardCapTargetMultiplier,
	}
}

// Assemble runs the full messages() pipeline. Pending ref/unref requests
// are assumed already applied directly to the page store (pages.Store.Ref/
// Unref never suspend per spec §5, so there is no separate queue to drain
// here — see DESIGN.md).
func (a *Assembler) Assemble() []types.Message {
	a.slotMgr.Evict()

	snapshot := a.buf.Snapshot()
	headSeq, hasHead := a.buf.SystemHeadSeq()

	out := make([]types.Message, 0, len(snapshot))
	if hasHead {
		for _, m := range snapshot {
			if m.Seq == headSeq {
				out = append(out, m)
				break
			}
		}
	}

	for _, id := range a.pages.LoadOrder() {
		content, ok := a.pages.LoadContent(id)
		if !ok {
			continue
		}
		label := id
		if p, ok := a.pages.Get(id); ok && p.Label != "" {
			label = p.Label
		}
		out = append(out, types.Message{
			Role: types.RoleSystem,
			From: "VirtualMemory",
			Content: fmt.Sprintf("--- Loaded Page: %s (%s) ---\n%s\n--- End Page: %s ---",
				id, label, content, id),
		})
	}

	nonHead := make([]types.Message, 0, len(snapshot))
	for _, m := range snapshot {
		if hasHead && m.Seq == headSeq {
			continue
		}
		nonHead = append(nonHead, m)
	}

	window := a.buildRecentWindow(nonHead)
	window = frontSanitise(window)
	window = backSanitise(window)

	prefixTokens := a.est.Messages(out)
	ceiling := a.workingMemoryTokens * a.ceilingMultiplier
	target := a.workingMemoryTokens * a.targetMultiplier
	window = hardCapTrim(window, prefixTokens, ceiling, target, a.est)

	return append(out, window...)
}

// buildRecentWindow walks msgs from newest to oldest, front-inserting into
// the window, per spec §4.9 step 5.
func (a *Assembler) buildRecentWindow(msgs []types.Message) []types.Message {
	var window []types.Message
	tokens := 0
	minItems := 4 * a.minRecentPerLane

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		mt := a.est.Message(m)

		if tokens+mt > 2*a.workingMemoryTokens {
			break
		}
		if tokens+mt > a.workingMemoryTokens && len(window) >= minItems {
			break
		}

		window = append([]types.Message{m}, window...)
		tokens += mt
	}
	return window
}
