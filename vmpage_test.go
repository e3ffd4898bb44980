package vmpage

import (
	"context"
	"strings"
	"testing"

	"github.com/forgevm/vmpage/drivers"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/types"
)

// fakeEmbedder maps keyword groups to fixed orthogonal vectors so search
// tests are deterministic without a network call.
type fakeEmbedder struct{}

func (fakeEmbedder) Dimensions() int { return 3 }

func (fakeEmbedder) Embed(ctx context.Context, req *drivers.EmbeddingRequest) (*drivers.EmbeddingResponse, error) {
	embeddings := make([][]float32, 0, len(req.Texts))
	for _, text := range req.Texts {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "kubernetes") || strings.Contains(lower, "pod") || strings.Contains(lower, "container"):
			embeddings = append(embeddings, []float32{1, 0, 0})
		case strings.Contains(lower, "sourdough") || strings.Contains(lower, "baking") || strings.Contains(lower, "bread"):
			embeddings = append(embeddings, []float32{0, 1, 0})
		default:
			embeddings = append(embeddings, []float32{0, 0, 1})
		}
	}
	return &drivers.EmbeddingResponse{Embeddings: embeddings}, nil
}

func newTestVM(t *testing.T, cfg Config) *VirtualMemory {
	t.Helper()
	if cfg.PagesDir == "" {
		cfg.PagesDir = t.TempDir()
	}
	vm, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return vm
}

func TestVM_AddThenMessagesReturnsSystemPromptFirst(t *testing.T) {
	vm := newTestVM(t, Config{})
	vm.Add(types.Message{Role: types.RoleSystem, Content: "you are a helper"}, 0)
	vm.Add(types.Message{Role: types.RoleUser, Content: "hi"}, 0)

	out := vm.Messages()
	if len(out) == 0 || out[0].Content != "you are a helper" {
		t.Fatalf("expected system prompt first, got %+v", out)
	}
}

func TestVM_EmptyBufferReturnsEmptyMessages(t *testing.T) {
	vm := newTestVM(t, Config{})
	out := vm.Messages()
	if len(out) != 0 {
		t.Errorf("expected empty messages for an empty buffer, got %+v", out)
	}
}

func TestVM_ForceCompactOnEmptyBufferReturnsNothingToCompact(t *testing.T) {
	vm := newTestVM(t, Config{})
	got := vm.ForceCompact(0)
	if got != "Nothing to compact — context is empty." {
		t.Errorf("got %q", got)
	}
}

// scenario 1 (spec §8): basic compaction.
func TestVM_ScenarioBasicCompaction(t *testing.T) {
	vm := newTestVM(t, Config{
		WorkingMemoryTokens: 200,
		HighRatio:           0.5,
		MinRecentPerLane:    2,
		AssistantWeight:     1, UserWeight: 1, SystemWeight: 1, ToolWeight: 1,
	})
	vm.Add(types.Message{Role: types.RoleSystem, Content: "sys"}, 0)
	for i := 0; i < 10; i++ {
		vm.Add(types.Message{Role: types.RoleAssistant, Content: strings.Repeat("x", 400)}, 0)
	}

	out := vm.Messages()
	var sawSummary bool
	assistantCount := 0
	for _, m := range out {
		if strings.Contains(m.Content, "ASSISTANT LANE SUMMARY") {
			sawSummary = true
			if !strings.Contains(m.Content, `<ref id="pg_`) {
				t.Errorf("expected a page ref in the summary, got %q", m.Content)
			}
		}
		if m.Role == types.RoleAssistant && m.From != "VirtualMemory" {
			assistantCount++
		}
	}
	if !sawSummary {
		t.Fatalf("expected an assistant lane summary message in %+v", out)
	}
	if assistantCount != 2 {
		t.Errorf("expected exactly 2 surviving assistant messages, got %d", assistantCount)
	}
}

// scenario 2 (spec §8): tool pair preserved across the add -> compact ->
// assemble pipeline.
func TestVM_ScenarioToolPairPreserved(t *testing.T) {
	vm := newTestVM(t, Config{})
	vm.Add(types.Message{Role: types.RoleSystem, Content: "sys"}, 0)
	vm.Add(types.Message{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{ID: "c1", Function: types.FunctionCall{Name: "sh", Arguments: "{}"}}},
	}, 0)
	vm.Add(types.Message{Role: types.RoleTool, ToolCallID: "c1", Name: "sh", Content: "ok"}, 0)

	vm.ForceCompact(0)

	out := vm.Messages()
	var sawAssistant, sawTool bool
	for _, m := range out {
		if m.Role == types.RoleAssistant && m.HasToolCalls() {
			sawAssistant = true
		}
		if m.Role == types.RoleTool && m.ToolCallID == "c1" {
			sawTool = true
		}
	}
	if sawAssistant != sawTool {
		t.Fatalf("tool pair must survive together or not at all, assistant=%v tool=%v, out=%+v", sawAssistant, sawTool, out)
	}
}

// scenario 3 (spec §8): importance promotion survives force_compact.
func TestVM_ScenarioImportancePromotion(t *testing.T) {
	vm := newTestVM(t, Config{})
	vm.Add(types.Message{Role: types.RoleSystem, Content: "sys"}, 0)
	for i := 1; i <= 20; i++ {
		m := types.Message{Role: types.RoleUser, Content: labelFor(i)}
		if i == 3 || i == 11 {
			m.Importance = 0.9
		}
		vm.Add(m, 0)
	}

	vm.ForceCompact(0)

	out := vm.Messages()
	var found3, found11 bool
	for _, m := range out {
		if m.Content == labelFor(3) {
			found3 = true
		}
		if m.Content == labelFor(11) {
			found11 = true
		}
	}
	if !found3 || !found11 {
		t.Fatalf("expected promoted messages to survive, found3=%v found11=%v, out=%+v", found3, found11, out)
	}
}

func labelFor(i int) string {
	return "msg-" + string(rune('0'+i%10)) + "-" + string(rune('a'+i%26))
}

// scenario 4 (spec §8): page eviction by frequency, then pinning.
func TestVM_ScenarioPageEvictionByFrequencyThenPin(t *testing.T) {
	vm := newTestVM(t, Config{PageSlotTokens: 100})

	ids := make([]string, 0, 3)
	for _, label := range []string{"a", "b", "c"} {
		raw := strings.Repeat(label, 112) // 52 tokens: (112+32)/2.8, rounded up
		id := pages.ID(raw)
		if err := vm.pageStore.Save(pages.Page{ID: id, Content: raw}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, id)
	}

	for i := 0; i < 5; i++ {
		vm.Ref(ids[0])
	}
	vm.Ref(ids[1])
	vm.Ref(ids[2])

	vm.Messages() // triggers slot eviction

	if !vm.pageStore.IsLoaded(ids[0]) {
		t.Error("frequently-referenced page A should remain loaded")
	}

	if !vm.Pin(ids[0]) {
		t.Fatal("Pin should succeed")
	}
	for i := 0; i < 10; i++ {
		vm.Messages()
	}
	if !vm.pageStore.IsLoaded(ids[0]) {
		t.Error("pinned page A should never be evicted")
	}
}

// scenario 5 (spec §8): semantic search miss then hit, deterministic repeats.
func TestVM_ScenarioSemanticSearchMissThenHit(t *testing.T) {
	vm := newTestVM(t, Config{Embedder: fakeEmbedder{}})

	if err := vm.pageStore.Save(pages.Page{ID: "pg_k8s000000001", Content: "kubernetes content"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := vm.pageStore.UpdateSummary("pg_k8s000000001", "kubernetes pod lifecycle"); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	if err := vm.pageStore.Save(pages.Page{ID: "pg_bread00000001", Content: "sourdough content"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := vm.pageStore.UpdateSummary("pg_bread00000001", "sourdough starter maintenance"); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	if err := vm.Backfill(context.Background()); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	hits1 := vm.Search(context.Background(), "container restart policy", 1, 0.4)
	if len(hits1) != 1 || hits1[0].PageID != "pg_k8s000000001" {
		t.Fatalf("expected the kubernetes page for a container query, got %+v", hits1)
	}

	hits2 := vm.Search(context.Background(), "baking schedule", 1, 0.4)
	if len(hits2) != 1 || hits2[0].PageID != "pg_bread00000001" {
		t.Fatalf("expected the sourdough page for a baking query, got %+v", hits2)
	}

	hits3 := vm.Search(context.Background(), "container restart policy", 1, 0.4)
	if len(hits3) != len(hits1) || hits3[0].PageID != hits1[0].PageID {
		t.Errorf("expected identical repeated queries to return identical results, first=%+v second=%+v", hits1, hits3)
	}
}

func TestVM_AddIfNotExistsSkipsDuplicate(t *testing.T) {
	vm := newTestVM(t, Config{})
	m := types.Message{Role: types.RoleUser, Content: "hello"}
	_, inserted1 := vm.AddIfNotExists(m, 0)
	_, inserted2 := vm.AddIfNotExists(m, 0)
	if !inserted1 {
		t.Error("first AddIfNotExists should insert")
	}
	if inserted2 {
		t.Error("second AddIfNotExists with identical content should be a no-op")
	}
}

func TestVM_GetStatsReflectsActivity(t *testing.T) {
	vm := newTestVM(t, Config{})
	vm.Add(types.Message{Role: types.RoleUser, Content: "hi"}, 0)
	stats := vm.GetStats()
	if stats.Messages != 1 {
		t.Errorf("expected 1 buffered message, got %d", stats.Messages)
	}
}

func TestVM_ForkHistoryAndRecall(t *testing.T) {
	vm := newTestVM(t, Config{})
	vm.Add(types.Message{Role: types.RoleUser, Content: "hi"}, 0)
	vm.ForceCompact(0)

	history := vm.ForkHistory()
	if len(history) == 0 {
		t.Fatal("expected at least one fork snapshot after force_compact")
	}
	snap, ok := vm.RecallFork("")
	if !ok {
		t.Fatal("expected RecallFork(\"\") to return the latest snapshot")
	}
	if snap.ID != history[len(history)-1].ID {
		t.Errorf("expected latest snapshot, got %s want %s", snap.ID, history[len(history)-1].ID)
	}
	if _, ok := vm.RecallFork("fk_doesnotexist"); ok {
		t.Error("expected a miss for an unknown fork id")
	}
}
