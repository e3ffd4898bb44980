// Package watermark computes per-lane token budgets and decides which lanes
// should compact on a given cycle (spec §4.5).
package watermark

import (
	"github.com/forgevm/vmpage/lane"
	"github.com/forgevm/vmpage/tokenest"
	"github.com/forgevm/vmpage/types"
)

// Weights are the lane weight integers used to derive per-lane budgets.
// Defaults favour the assistant lane, where most volume originates.
type Weights struct {
	Assistant int
	User      int
	System    int
	Tool      int
}

// DefaultWeights matches spec §3's LaneBudget defaults.
func DefaultWeights() Weights {
	return Weights{Assistant: 8, User: 4, System: 3, Tool: 1}
}

func (w Weights) sum() int { return w.Assistant + w.User + w.System + w.Tool }

func (w Weights) of(l types.Lane) int {
	switch l {
	case types.LaneAssistant:
		return w.Assistant
	case types.LaneUser:
		return w.User
	case types.LaneSystem:
		return w.System
	case types.LaneTool:
		return w.Tool
	default:
		return 0
	}
}

// Budgets holds the per-lane token budget for one compaction cycle.
type Budgets struct {
	Assistant, User, System, Tool int
}

// ForLane looks up the derived budget for a lane.
func (b Budgets) ForLane(l types.Lane) int {
	switch l {
	case types.LaneAssistant:
		return b.Assistant
	case types.LaneUser:
		return b.User
	case types.LaneSystem:
		return b.System
	case types.LaneTool:
		return b.Tool
	default:
		return 0
	}
}

// Derive computes budget_lane = floor(weight_lane / Σweights * workingMemoryTokens)
// for each of the four budgeted lanes.
func Derive(w Weights, workingMemoryTokens int) Budgets {
	sum := w.sum()
	if sum <= 0 {
		return Budgets{}
	}
	scale := func(weight int) int {
		return weight * workingMemoryTokens / sum
	}
	return Budgets{
		Assistant: scale(w.Assistant),
		User:      scale(w.User),
		System:    scale(w.System),
		Tool:      scale(w.Tool),
	}
}

// Config configures a Controller.
type Config struct {
	Weights             Weights
	WorkingMemoryTokens int
	HighRatio           float64 // default 0.75
	CharsPerToken       float64
}

// Controller decides, per add(), whether any lane is over its watermark.
type Controller struct {
	weights             Weights
	workingMemoryTokens int
	highRatio           float64
	est                 tokenest.Estimator
}

// New creates a Controller from cfg, filling defaults.
func New(cfg Config) *Controller {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.WorkingMemoryTokens <= 0 {
		cfg.WorkingMemoryTokens = 6000
	}
	if cfg.HighRatio <= 0 {
		cfg.HighRatio = 0.75
	}
	return &Controller{
		weights:             cfg.Weights,
		workingMemoryTokens: cfg.WorkingMemoryTokens,
		highRatio:           cfg.HighRatio,
		est:                 tokenest.New(cfg.CharsPerToken),
	}
}

// Scaled returns the effective high ratio and working-memory budget after
// applying an optional thinking-budget scaling input (spec §4.5):
//
//	effective_high = min(0.95, base_high * (0.75 + budget*0.5))
//	working_memory_tokens scaled by (0.6 + budget)
//
// thinkingBudget == 0 yields the unscaled base values.
func (c *Controller) Scaled(thinkingBudget float64) (effectiveHigh float64, workingMemoryTokens int) {
	if thinkingBudget == 0 {
		return c.highRatio, c.workingMemoryTokens
	}
	effectiveHigh = c.highRatio * (0.75 + thinkingBudget*0.5)
	if effectiveHigh > 0.95 {
		effectiveHigh = 0.95
	}
	workingMemoryTokens = int(float64(c.workingMemoryTokens) * (0.6 + thinkingBudget))
	return effectiveHigh, workingMemoryTokens
}

// Decision reports, per lane, whether it is over its watermark and its
// derived budget for this cycle.
type Decision struct {
	Budgets       Budgets
	OverAssistant bool
	OverUser      bool
	OverSystem    bool
	OverTool      bool
}

// Any reports whether at least one lane is over budget.
func (d Decision) Any() bool {
	return d.OverAssistant || d.OverUser || d.OverSystem || d.OverTool
}

// ShouldPage reports whether lane l should be compacted this cycle. The
// tool lane is always compacted together with the assistant lane to
// preserve the tool-pair invariant — the tool lane is never compacted
// alone.
func (d Decision) ShouldPage(l types.Lane) bool {
	switch l {
	case types.LaneAssistant:
		return d.OverAssistant
	case types.LaneUser:
		return d.OverUser
	case types.LaneSystem:
		return d.OverSystem
	case types.LaneTool:
		return d.OverTool || d.OverAssistant
	default:
		return false
	}
}

// Evaluate computes the watermark decision for the given lane partition. p
// excludes the original system prompt from the system lane's token count
// per spec §4.5 ("excluding the first system prompt from the system lane
// count"); callers pass a partition whose System slice already omits it,
// or Evaluate subtracts the head message's estimate if present via
// systemHeadTokens.
func (c *Controller) Evaluate(p lane.Partition, systemHeadTokens int, thinkingBudget float64) Decision {
	effectiveHigh, wmt := c.Scaled(thinkingBudget)
	budgets := Derive(c.weights, wmt)

	assistantTokens := c.est.Messages(p.Assistant)
	userTokens := c.est.Messages(p.User)
	systemTokens := c.est.Messages(p.System) - systemHeadTokens
	if systemTokens < 0 {
		systemTokens = 0
	}
	toolTokens := c.est.Messages(p.Tool)

	over := func(tokens, budget int) bool {
		return budget > 0 && float64(tokens) > float64(budget)*effectiveHigh
	}

	return Decision{
		Budgets:       budgets,
		OverAssistant: over(assistantTokens, budgets.Assistant),
		OverUser:      over(userTokens, budgets.User),
		OverSystem:    over(systemTokens, budgets.System),
		OverTool:      over(toolTokens, budgets.Tool),
	}
}
