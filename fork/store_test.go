package fork

import (
	"testing"
	"time"

	"github.com/forgevm/vmpage/types"
)

func TestStore_SnapshotChainsParents(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := s.Snapshot([]types.Message{{Role: types.RoleUser, Content: "hi"}}, ReasonWatermark)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first.ParentID != "" {
		t.Errorf("first fork should have no parent, got %q", first.ParentID)
	}

	second, err := s.Snapshot([]types.Message{{Role: types.RoleUser, Content: "hi"}, {Role: types.RoleAssistant, Content: "hey"}}, ReasonWatermark)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if second.ParentID != first.ID {
		t.Errorf("second fork parent = %q, want %q", second.ParentID, first.ID)
	}

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 forks in history, got %d", len(hist))
	}
}

func TestStore_SnapshotIsDeepCloned(t *testing.T) {
	s, _ := New(t.TempDir())
	original := []types.Message{{Role: types.RoleAssistant, Content: "x", ToolCalls: []types.ToolCall{{ID: "c1"}}}}

	snap, err := s.Snapshot(original, ReasonManual)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	original[0].ToolCalls[0].ID = "mutated"
	if snap.Messages[0].ToolCalls[0].ID == "mutated" {
		t.Error("snapshot should be independent of later mutation to the source slice")
	}
}

func TestStore_RecallByIDAndLatest(t *testing.T) {
	s, _ := New(t.TempDir())
	first, _ := s.Snapshot([]types.Message{{Role: types.RoleUser, Content: "a"}}, ReasonWatermark)
	second, _ := s.Snapshot([]types.Message{{Role: types.RoleUser, Content: "b"}}, ReasonWatermark)

	got, ok := s.Recall(first.ID)
	if !ok || got.ID != first.ID {
		t.Fatalf("Recall(%q) = %+v, %v", first.ID, got, ok)
	}

	latest, ok := s.Recall("")
	if !ok || latest.ID != second.ID {
		t.Fatalf("Recall(\"\") should return latest fork, got %+v", latest)
	}

	if _, ok := s.Recall("fk_does_not_exist"); ok {
		t.Error("expected miss for unknown fork id")
	}
}

func TestStore_PruneClearsNewRootParent(t *testing.T) {
	s, _ := New(t.TempDir())
	old := time.Now().Add(-48 * time.Hour)

	s.mu.Lock()
	s.chain = append(s.chain, Snapshot{ID: "fk_old", CreatedAt: old})
	s.chain = append(s.chain, Snapshot{ID: "fk_new", ParentID: "fk_old", CreatedAt: time.Now()})
	s.mu.Unlock()

	removed := s.Prune(time.Now().Add(-24 * time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 fork pruned, got %d", removed)
	}
	hist := s.History()
	if len(hist) != 1 || hist[0].ID != "fk_new" {
		t.Fatalf("unexpected chain after prune: %+v", hist)
	}
	if hist[0].ParentID != "" {
		t.Errorf("new root fork should have cleared parent, got %q", hist[0].ParentID)
	}
}

func TestNonSystemMessages(t *testing.T) {
	snap := Snapshot{Messages: []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: "u"},
	}}
	out := NonSystemMessages(snap)
	if len(out) != 1 || out[0].Role != types.RoleUser {
		t.Fatalf("expected only non-system messages, got %+v", out)
	}
}
