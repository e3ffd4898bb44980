package summarizer

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/forgevm/vmpage/drivers"
	"github.com/forgevm/vmpage/logging"
)

// PageWriter is the subset of pages.Store the worker needs to write
// summaries back into page records.
type PageWriter interface {
	UpdateSummary(id, summary string) error
	LoadContent(id string) (string, bool)
}

// Worker drains a Queue in a separate goroutine (standing in for the
// separate OS process spec §5 describes), calling a driver's batch-style
// Summarise for each entry and writing results back through
// PageWriter.UpdateSummary. Given a pages.Store, that updates the store's
// in-memory page metadata as well as rewriting the page record atomically
// on disk.
type Worker struct {
	queue  *Queue
	pages  PageWriter
	driver drivers.Summariser
	logger logging.Logger
}

// NewWorker creates a Worker.
func NewWorker(queue *Queue, pages PageWriter, driver drivers.Summariser, logger logging.Logger) *Worker {
	return &Worker{queue: queue, pages: pages, driver: driver, logger: logging.OrNop(logger)}
}

// Run watches queuePath for writes via fsnotify and drains the queue on
// each event, plus on a periodic tick as a fallback in case an event is
// coalesced or missed. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, queuePath string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(queuePath); err != nil {
		w.logger.Warn("queue watch failed, falling back to polling only", map[string]any{"error": err.Error()})
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.drainOnce(ctx)
		case ev, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.drainOnce(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			w.logger.Warn("queue watcher error", map[string]any{"error": err.Error()})
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) {
	entries, err := w.queue.Drain()
	if err != nil {
		w.logger.Warn("queue drain failed", map[string]any{"error": err.Error()})
		return
	}

	var failed []Entry
	for _, e := range entries {
		raw, ok := w.pages.LoadContent(e.PageID)
		if !ok {
			continue // page gone; nothing to summarise
		}
		prompt := raw + "\n" + FocusInstruction(e.Lane)
		resp, err := w.driver.Summarise(ctx, &drivers.SummaryRequest{Raw: prompt})
		if err != nil {
			failed = append(failed, e)
			continue
		}
		summary := EnsureRef(resp.Summary, e.PageID)
		if err := w.pages.UpdateSummary(e.PageID, summary); err != nil {
			failed = append(failed, e)
		}
	}

	if len(failed) > 0 {
		if err := w.queue.Requeue(failed); err != nil {
			w.logger.Warn("requeue failed entries failed", map[string]any{"error": err.Error(), "count": len(failed)})
		}
	}
}
