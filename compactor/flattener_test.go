package compactor

import (
	"testing"

	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/types"
)

func TestFlatten_ProperlySplitPairPassesThrough(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Function: types.FunctionCall{Name: "sh", Arguments: "{}"}}}},
		{Role: types.RoleTool, ToolCallID: "c1", Name: "sh", Content: "ok"},
	}
	out := Flatten(msgs, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if !out[0].HasToolCalls() {
		t.Error("properly split assistant should pass through with tool_calls intact")
	}
	if out[1].ToolCallID != "c1" {
		t.Errorf("expected tool result to pass through, got %+v", out[1])
	}
}

func TestFlatten_BrokenPairSynthesized(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c7", Function: types.FunctionCall{Name: "fetch", Arguments: "{}"}}}},
		{Role: types.RoleUser, Content: "unrelated"},
		{Role: types.RoleTool, ToolCallID: "c7", Name: "fetch", Content: "result-data"},
	}
	out := Flatten(msgs, logging.Nop())

	var assistantIdx, toolIdx = -1, -1
	for i, m := range out {
		if m.Role == types.RoleAssistant && m.Metadata != nil {
			if _, ok := m.Metadata["summarized_tool_call"]; ok {
				assistantIdx = i
			}
		}
		if m.Role == types.RoleTool && m.ToolCallID == "c7" {
			toolIdx = i
		}
	}
	if assistantIdx == -1 || toolIdx != assistantIdx+1 {
		t.Fatalf("expected synthesised assistant immediately followed by its tool result, got %+v", out)
	}
	if out[assistantIdx].HasToolCalls() {
		t.Error("synthesised assistant must not carry tool_calls")
	}

	count := 0
	for _, m := range out {
		if m.Role == types.RoleTool && m.ToolCallID == "c7" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected pair to appear exactly once, appeared %d times", count)
	}
}

func TestFlatten_MissingResultUsesTruncatedPlaceholder(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "x"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Function: types.FunctionCall{Name: "sh", Arguments: "{}"}}}},
	}
	out := Flatten(msgs, nil)
	var found bool
	for _, m := range out {
		if m.Role == types.RoleTool && m.ToolCallID == "c1" {
			found = true
			if m.Content != "[result truncated during compaction]" {
				t.Errorf("expected placeholder result, got %q", m.Content)
			}
		}
	}
	if !found {
		t.Fatal("expected synthesised tool message for missing result")
	}
}

func TestFlatten_DanglingToolDropped(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "x"},
		{Role: types.RoleTool, ToolCallID: "orphan", Name: "sh", Content: "ok"},
	}
	out := Flatten(msgs, nil)
	for _, m := range out {
		if m.Role == types.RoleTool && m.ToolCallID == "orphan" {
			t.Fatal("dangling tool result with no matching assistant should be dropped")
		}
	}
	if len(out) != 1 {
		t.Fatalf("expected only the user message to survive, got %+v", out)
	}
}
