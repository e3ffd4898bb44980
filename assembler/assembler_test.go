package assembler

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgevm/vmpage/buffer"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/slot"
	"github.com/forgevm/vmpage/types"
)

func newTestAssembler(t *testing.T, workingMemoryTokens, slotTokens int) (*Assembler, *buffer.Buffer, *pages.Store) {
	t.Helper()
	dir := t.TempDir()
	buf := buffer.New()
	pageStore, err := pages.NewStore(pages.Config{Dir: filepath.Join(dir, "pages")})
	if err != nil {
		t.Fatalf("pages.NewStore: %v", err)
	}
	slotMgr := slot.New(slot.Config{Pages: pageStore, SlotTokens: slotTokens})
	a := New(Config{
		Buf:                 buf,
		Pages:               pageStore,
		Slot:                slotMgr,
		WorkingMemoryTokens: workingMemoryTokens,
		MinRecentPerLane:    2,
	})
	return a, buf, pageStore
}

func TestAssemble_EmitsSystemHeadFirst(t *testing.T) {
	a, buf, _ := newTestAssembler(t, 6000, 6000)
	buf.Add(types.Message{Role: types.RoleSystem, Content: "you are a helper"})
	buf.Add(types.Message{Role: types.RoleUser, Content: "hi"})

	out := a.Assemble()
	if len(out) == 0 || out[0].Role != types.RoleSystem || out[0].Content != "you are a helper" {
		t.Fatalf("expected system prompt first, got %+v", out)
	}
}

func TestAssemble_LoadedPageEmittedAsSyntheticSystemMessage(t *testing.T) {
	a, buf, pageStore := newTestAssembler(t, 6000, 6000)
	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	buf.Add(types.Message{Role: types.RoleUser, Content: "hi"})

	if err := pageStore.Save(pages.Page{ID: "pg_abc123456789", Label: "ASSISTANT LANE SUMMARY", Content: "archived stuff"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !pageStore.Ref("pg_abc123456789") {
		t.Fatal("Ref should succeed for an existing page")
	}

	out := a.Assemble()
	var found bool
	for _, m := range out {
		if m.From == "VirtualMemory" && strings.Contains(m.Content, "pg_abc123456789") && strings.Contains(m.Content, "archived stuff") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a synthetic loaded-page message, got %+v", out)
	}
}

func TestAssemble_ToolPairPreservedAcrossWindow(t *testing.T) {
	a, buf, _ := newTestAssembler(t, 6000, 6000)
	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	buf.Add(types.Message{
		Role:      types.RoleAssistant,
		Content:   "let me check",
		ToolCalls: []types.ToolCall{{ID: "call_1", Function: types.FunctionCall{Name: "lookup", Arguments: "{}"}}},
	})
	buf.Add(types.Message{Role: types.RoleTool, ToolCallID: "call_1", Content: "42"})
	buf.Add(types.Message{Role: types.RoleUser, Content: "thanks"})

	out := a.Assemble()
	var sawAssistant, sawTool bool
	for _, m := range out {
		if m.Role == types.RoleAssistant && m.HasToolCalls() {
			sawAssistant = true
		}
		if m.Role == types.RoleTool && m.ToolCallID == "call_1" {
			sawTool = true
		}
	}
	if !sawAssistant || !sawTool {
		t.Fatalf("expected the tool-call pair to survive intact, got %+v", out)
	}
}

func TestAssemble_FrontSanitiseDropsOrphanToolAtWindowStart(t *testing.T) {
	a, buf, _ := newTestAssembler(t, 30, 6000)
	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	// Pad the buffer so the recent-window walk cuts off before reaching the
	// assistant half of this pair, leaving an orphan tool message first.
	buf.Add(types.Message{
		Role:      types.RoleAssistant,
		Content:   strings.Repeat("x", 200),
		ToolCalls: []types.ToolCall{{ID: "call_1", Function: types.FunctionCall{Name: "lookup", Arguments: "{}"}}},
	})
	buf.Add(types.Message{Role: types.RoleTool, ToolCallID: "call_1", Content: "42"})
	buf.Add(types.Message{Role: types.RoleUser, Content: "thanks"})

	out := a.Assemble()
	for _, m := range out {
		if m.Role == types.RoleTool && m.ToolCallID == "call_1" {
			t.Fatalf("expected orphaned tool message to be sanitised out, got %+v", out)
		}
	}
}

func TestAssemble_HardCapTrimRemovesOldestWhenOverCeiling(t *testing.T) {
	a, buf, _ := newTestAssembler(t, 50, 6000)
	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	for i := 0; i < 40; i++ {
		buf.Add(types.Message{Role: types.RoleUser, Content: strings.Repeat("y", 50)})
	}

	out := a.Assemble()
	total := a.est.Messages(out)
	if total > a.workingMemoryTokens*a.ceilingMultiplier {
		t.Errorf("expected assembled output to respect the hard cap ceiling, got %d tokens (ceiling %d)", total, a.workingMemoryTokens*a.ceilingMultiplier)
	}
}

func TestAssemble_EvictsOverBudgetPagesBeforeAssembly(t *testing.T) {
	a, buf, pageStore := newTestAssembler(t, 6000, 10)
	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})

	if err := pageStore.Save(pages.Page{ID: "pg_overbudget0001", Content: strings.Repeat("z", 200)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	pageStore.Ref("pg_overbudget0001")

	a.Assemble()
	if pageStore.IsLoaded("pg_overbudget0001") {
		t.Error("expected the over-budget page to be evicted during Assemble")
	}
}
