package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgevm/vmpage/fork"
	"github.com/forgevm/vmpage/index"
	"github.com/forgevm/vmpage/types"
)

type fakeSource struct {
	pages []index.PageSummary
}

func (f fakeSource) SummarisedPages() []index.PageSummary { return f.pages }

func TestScheduler_PrunesForksOlderThanMaxAge(t *testing.T) {
	dir := t.TempDir()
	forks, err := fork.New(filepath.Join(dir, "forks"))
	if err != nil {
		t.Fatalf("fork.New: %v", err)
	}
	if _, err := forks.Snapshot([]types.Message{{Role: types.RoleUser, Content: "hi"}}, fork.ReasonManual); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	idx, err := index.New(index.Config{Dir: filepath.Join(dir, "index")})
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}

	s := New(Config{
		Idx:        idx,
		Src:        fakeSource{},
		Forks:      forks,
		ForkMaxAge: time.Nanosecond, // every fork already written is older than this when due
		PruneExpr:  "* * * * *",
	})

	s.tick(context.Background())

	if len(forks.History()) != 0 {
		t.Errorf("expected fork pruned on a due tick, got %d remaining", len(forks.History()))
	}
}

func TestScheduler_NotDueExprLeavesForksAlone(t *testing.T) {
	dir := t.TempDir()
	forks, err := fork.New(filepath.Join(dir, "forks"))
	if err != nil {
		t.Fatalf("fork.New: %v", err)
	}
	if _, err := forks.Snapshot([]types.Message{{Role: types.RoleUser, Content: "hi"}}, fork.ReasonManual); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	idx, err := index.New(index.Config{Dir: filepath.Join(dir, "index")})
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}

	// A minute that can never match: Feb 30th never occurs, so the
	// day-of-month field is never due.
	s := New(Config{
		Idx:        idx,
		Src:        fakeSource{},
		Forks:      forks,
		ForkMaxAge: 0,
		PruneExpr:  "0 0 30 2 *",
	})

	s.tick(context.Background())

	if len(forks.History()) != 1 {
		t.Errorf("expected fork untouched when prune expression is never due, got %d", len(forks.History()))
	}
}
