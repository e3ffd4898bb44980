package assembler

import (
	"github.com/forgevm/vmpage/tokenest"
	"github.com/forgevm/vmpage/types"
)

// properlyClosedAt reports whether window[i] is an assistant message whose
// tool_calls are all satisfied by tool messages immediately following it
// inside window — the same "properly split" test the flattener performs
// (spec §4.8), applied here to a window boundary rather than a full buffer.
func properlyClosedAt(window []types.Message, i int) bool {
	m := window[i]
	if !m.HasToolCalls() {
		return true
	}
	n := len(m.ToolCalls)
	if i+n >= len(window) {
		return false
	}
	expected := make(map[string]bool, n)
	for _, tc := range m.ToolCalls {
		expected[tc.ID] = true
	}
	got := make(map[string]bool, n)
	for j := i + 1; j <= i+n; j++ {
		if window[j].Role != types.RoleTool || window[j].ToolCallID == "" {
			return false
		}
		got[window[j].ToolCallID] = true
	}
	if len(got) != len(expected) {
		return false
	}
	for id := range expected {
		if !got[id] {
			return false
		}
	}
	return true
}

// frontSanitise drops leading orphan tool messages and leading assistant
// messages with tool_calls that the window cuts off before their results
// (spec §4.9 step 6).
func frontSanitise(window []types.Message) []types.Message {
	for len(window) > 0 {
		m := window[0]
		if m.Role == types.RoleTool {
			window = window[1:]
			continue
		}
		if m.Role == types.RoleAssistant && m.HasToolCalls() && !properlyClosedAt(window, 0) {
			window = window[1:]
			continue
		}
		break
	}
	return window
}

// backSanitise drops trailing assistant messages with tool_calls whose
// results the window never reaches (spec §4.9 step 7).
func backSanitise(window []types.Message) []types.Message {
	for len(window) > 0 {
		last := window[len(window)-1]
		if last.Role == types.RoleAssistant && last.HasToolCalls() {
			window = window[:len(window)-1]
			continue
		}
		break
	}
	return window
}

// hardCapTrim enforces spec §4.9 step 8: if prefixTokens (system prompt +
// loaded page messages) plus the window's tokens exceeds ceiling, remove
// the oldest window items — grouping an assistant-with-tool_calls message
// together with its immediately following tool results so a pair is never
// split — until the total is at or under target.
func hardCapTrim(window []types.Message, prefixTokens, ceiling, target int, est tokenest.Estimator) []types.Message {
	total := prefixTokens + est.Messages(window)
	if total <= ceiling {
		return window
	}

	i := 0
	for total > target && i < len(window) {
		groupLen := 1
		m := window[i]
		if m.Role == types.RoleAssistant && m.HasToolCalls() {
			groupLen = 1 + len(m.ToolCalls)
			if i+groupLen > len(window) {
				groupLen = len(window) - i
			}
		}
		total -= est.Messages(window[i : i+groupLen])
		i += groupLen
	}
	return window[i:]
}
