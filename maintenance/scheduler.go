// Package maintenance runs background upkeep for the paging engine on a
// cron schedule: index backfill and fork-chain pruning. Grounded on the
// teacher's goroutine-plus-ticker worker shape (forge-core/runtime package
// workers), generalised to cron expressions via github.com/adhocore/gronx
// rather than a fixed interval, since spec §6 exposes maintenance timing
// as configuration rather than a hardcoded period.
package maintenance

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/forgevm/vmpage/fork"
	"github.com/forgevm/vmpage/index"
	"github.com/forgevm/vmpage/logging"
)

// DefaultBackfillExpr runs index backfill every 10 minutes.
const DefaultBackfillExpr = "*/10 * * * *"

// DefaultPruneExpr runs fork pruning once a day at 03:00.
const DefaultPruneExpr = "0 3 * * *"

// DefaultForkMaxAge is how long a fork snapshot survives before Prune
// removes it.
const DefaultForkMaxAge = 7 * 24 * time.Hour

// Config configures a Scheduler. Idx and Forks are required; the cron
// expressions and poll interval fall back to the package defaults.
type Config struct {
	Idx          *index.Index
	Src          index.PageSource
	Forks        *fork.Store
	ForkMaxAge   time.Duration
	BackfillExpr string
	PruneExpr    string
	PollInterval time.Duration // how often to check due-ness, default 1m
	Logger       logging.Logger
}

// Scheduler ticks a poll loop, firing backfill/prune whenever their cron
// expression is due.
type Scheduler struct {
	idx          *index.Index
	src          index.PageSource
	forks        *fork.Store
	forkMaxAge   time.Duration
	backfillExpr string
	pruneExpr    string
	pollInterval time.Duration
	logger       logging.Logger
	cron         gronx.Gronx
}

// New creates a Scheduler from cfg, filling defaults.
func New(cfg Config) *Scheduler {
	if cfg.ForkMaxAge <= 0 {
		cfg.ForkMaxAge = DefaultForkMaxAge
	}
	if cfg.BackfillExpr == "" {
		cfg.BackfillExpr = DefaultBackfillExpr
	}
	if cfg.PruneExpr == "" {
		cfg.PruneExpr = DefaultPruneExpr
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Scheduler{
		idx:          cfg.Idx,
		src:          cfg.Src,
		forks:        cfg.Forks,
		forkMaxAge:   cfg.ForkMaxAge,
		backfillExpr: cfg.BackfillExpr,
		pruneExpr:    cfg.PruneExpr,
		pollInterval: cfg.PollInterval,
		logger:       logging.OrNop(cfg.Logger),
		cron:         gronx.New(),
	}
}

// Run blocks, polling every PollInterval until ctx is cancelled, firing
// backfill and prune whenever their cron expression is due for the current
// minute.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	if due, err := s.cron.IsDue(s.backfillExpr, now); err == nil && due {
		if err := s.idx.Backfill(ctx, s.src); err != nil {
			s.logger.Warn("index backfill failed", map[string]any{"error": err.Error()})
		}
	}

	if due, err := s.cron.IsDue(s.pruneExpr, now); err == nil && due {
		cutoff := now.Add(-s.forkMaxAge)
		removed := s.forks.Prune(cutoff)
		if removed > 0 {
			s.logger.Info("pruned stale forks", map[string]any{"removed": removed, "cutoff": cutoff})
		}
	}
}
