package summarizer

import (
	"context"
	"fmt"

	"github.com/forgevm/vmpage/drivers"
	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/types"
)

// Result is the summary produced for a newly created page, plus whether it
// is a placeholder awaiting a background fill.
type Result struct {
	Summary string
	Pending bool
}

// Generator produces page summaries via one of the three strategies in
// spec §4.7, in priority order: durable batch queue, synchronous driver,
// deterministic placeholder.
type Generator struct {
	queue   *Queue // nil disables batch mode
	driver  drivers.Summariser
	logger  logging.Logger
}

// Config configures a Generator. Queue and Driver are both optional; at
// least one being nil degrades gracefully to the next strategy.
type Config struct {
	Queue  *Queue
	Driver drivers.Summariser
	Logger logging.Logger
}

// New creates a Generator.
func New(cfg Config) *Generator {
	return &Generator{queue: cfg.Queue, driver: cfg.Driver, logger: logging.OrNop(cfg.Logger)}
}

// Summarise produces a Result for a newly persisted page built from msgs.
func (g *Generator) Summarise(ctx context.Context, pageID, label string, lane types.Lane, msgs []types.Message) Result {
	if g.queue != nil {
		if err := g.queue.Enqueue(Entry{PageID: pageID, Label: label, Lane: lane}); err == nil {
			return Result{
				Summary: fmt.Sprintf("[Pending summary: %d messages, %s] <ref id=%q/>", len(msgs), label, pageID),
				Pending: true,
			}
		}
		g.logger.Warn("enqueue summary failed, falling back", map[string]any{"page_id": pageID})
	}

	if g.driver != nil {
		prompt := PrepareTranscript(msgs, label) + "\n" + FocusInstruction(lane)
		resp, err := g.driver.Summarise(ctx, &drivers.SummaryRequest{Raw: prompt, Instructions: FocusInstruction(lane)})
		if err == nil {
			return Result{Summary: EnsureRef(resp.Summary, pageID)}
		}
		g.logger.Warn("summariser driver failed, falling back to placeholder", map[string]any{"page_id": pageID, "error": err.Error()})
	}

	return Result{Summary: fmt.Sprintf("[Summary of %d messages: %s] <ref id=%q/>", len(msgs), label, pageID)}
}
