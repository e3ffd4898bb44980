package compactor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgevm/vmpage/buffer"
	"github.com/forgevm/vmpage/fork"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/summarizer"
	"github.com/forgevm/vmpage/types"
	"github.com/forgevm/vmpage/watermark"
)

func newTestCompactor(t *testing.T, wmCfg watermark.Config, minRecentPerLane int) (*Compactor, *buffer.Buffer) {
	t.Helper()
	dir := t.TempDir()

	buf := buffer.New()
	forks, err := fork.New(filepath.Join(dir, "forks"))
	if err != nil {
		t.Fatalf("fork.New: %v", err)
	}
	pageStore, err := pages.NewStore(pages.Config{Dir: filepath.Join(dir, "pages")})
	if err != nil {
		t.Fatalf("pages.NewStore: %v", err)
	}
	gen := summarizer.New(summarizer.Config{})

	c := New(Config{
		Buf:              buf,
		Forks:            forks,
		Pages:            pageStore,
		Watermark:        watermark.New(wmCfg),
		Generator:        gen,
		MinRecentPerLane: minRecentPerLane,
	})
	return c, buf
}

func TestCompact_BasicCompactionPagesOlderAssistantMessages(t *testing.T) {
	c, buf := newTestCompactor(t, watermark.Config{
		Weights:             watermark.Weights{Assistant: 1, User: 1, System: 1, Tool: 1},
		WorkingMemoryTokens: 200,
		HighRatio:           0.5,
	}, 2)

	buf.Add(types.Message{Role: types.RoleSystem, Content: "you are a helper"})
	for i := 0; i < 10; i++ {
		buf.Add(types.Message{Role: types.RoleAssistant, Content: strings.Repeat("x", 400)})
	}

	if _, err := c.Compact(context.Background(), fork.ReasonWatermark, false, 0); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	out := buf.Snapshot()
	if len(out) < 2 || out[1].Role != types.RoleSystem {
		t.Fatalf("expected the system prompt right after the prepended summary, got %+v", out)
	}

	var summaryIdx = -1
	assistantCount := 0
	for i, m := range out {
		if m.From == "VirtualMemory" && strings.Contains(m.Content, "ASSISTANT LANE SUMMARY") {
			summaryIdx = i
			if !strings.Contains(m.Content, `<ref id="pg_`) {
				t.Errorf("expected summary to contain a page ref, got %q", m.Content)
			}
		}
		if m.Role == types.RoleAssistant && m.From != "VirtualMemory" {
			assistantCount++
		}
	}
	if summaryIdx == -1 {
		t.Fatal("expected an assistant lane summary message")
	}
	if assistantCount != 2 {
		t.Errorf("expected 2 surviving assistant messages (tail = min_recent_per_lane), got %d", assistantCount)
	}
	if c.pageStore.PageCount() != 1 {
		t.Errorf("expected 1 page created, got %d", c.pageStore.PageCount())
	}
}

func TestCompact_ImportancePromotionSurvivesForceCompact(t *testing.T) {
	c, buf := newTestCompactor(t, watermark.Config{
		WorkingMemoryTokens: 6000,
	}, 4)

	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	for i := 1; i <= 20; i++ {
		m := types.Message{Role: types.RoleUser, Content: fmt.Sprintf("msg-%d", i)}
		if i == 3 || i == 11 {
			m.Importance = 0.9
		}
		buf.Add(m)
	}

	if _, err := c.Compact(context.Background(), fork.ReasonManual, true, 0); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	out := buf.Snapshot()
	var found3, found11 bool
	for _, m := range out {
		if m.Content == "msg-3" {
			found3 = true
		}
		if m.Content == "msg-11" {
			found11 = true
		}
	}
	if !found3 || !found11 {
		t.Fatalf("expected promoted high-importance messages to survive in buffer, found3=%v found11=%v, buffer=%+v", found3, found11, out)
	}
}

func TestCompact_NothingOverBudgetLeavesBufferUnchanged(t *testing.T) {
	c, buf := newTestCompactor(t, watermark.Config{
		WorkingMemoryTokens: 6000,
	}, 4)

	buf.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	buf.Add(types.Message{Role: types.RoleUser, Content: "hi"})

	before := buf.Snapshot()
	if _, err := c.Compact(context.Background(), fork.ReasonWatermark, false, 0); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	after := buf.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("expected no change when no lane is over budget, before=%d after=%d", len(before), len(after))
	}
}
