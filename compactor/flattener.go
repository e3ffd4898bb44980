package compactor

import (
	"fmt"

	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/types"
)

// displayTruncLen bounds the argument/result text embedded in a flattened
// summary message — a display heuristic, not a content-addressing
// truncation (spec §9 Open Questions keeps these as configurable
// constants; this one has no caller-visible knob since it only affects a
// synthesised message's prose).
const displayTruncLen = 200

// Flatten implements the tool-pair flattener (spec §4.8): after
// compaction a surviving assistant message may reference tool_call ids
// whose matching tool results no longer exist, or vice versa. Flatten
// rewrites every such broken pair into plain assistant+tool summary
// messages carrying no tool_calls field, drops orphaned tool results with
// no matching assistant anywhere in msgs, and passes properly-split pairs
// through unchanged. Synthesised messages are returned with Seq == 0;
// callers stamp fresh sequence numbers before re-entering the buffer
// (buffer.Buffer.StampMissing).
func Flatten(msgs []types.Message, logger logging.Logger) []types.Message {
	logger = logging.OrNop(logger)

	knownCallIDs := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			knownCallIDs[tc.ID] = true
		}
	}

	resultByID := make(map[string]types.Message)
	resultIndexByID := make(map[string]int)
	for i, m := range msgs {
		if m.Role == types.RoleTool && m.ToolCallID != "" {
			if _, exists := resultByID[m.ToolCallID]; !exists {
				resultByID[m.ToolCallID] = m
				resultIndexByID[m.ToolCallID] = i
			}
		}
	}

	properSplitLen := make(map[int]int) // assistant index -> n consumed tool messages following it
	consumedToolIdx := make(map[int]bool)
	brokenAssistant := make(map[int]bool)

	for i, m := range msgs {
		if m.Role != types.RoleAssistant || !m.HasToolCalls() {
			continue
		}
		n := len(m.ToolCalls)
		expected := make(map[string]bool, n)
		for _, tc := range m.ToolCalls {
			expected[tc.ID] = true
		}

		if i+n < len(msgs) {
			got := make(map[string]bool, n)
			ok := true
			for j := i + 1; j <= i+n; j++ {
				if msgs[j].Role != types.RoleTool || msgs[j].ToolCallID == "" {
					ok = false
					break
				}
				got[msgs[j].ToolCallID] = true
			}
			if ok && sameSet(expected, got) {
				properSplitLen[i] = n
				continue
			}
		}
		brokenAssistant[i] = true
		for id := range expected {
			if idx, ok := resultIndexByID[id]; ok {
				consumedToolIdx[idx] = true
			}
		}
	}

	out := make([]types.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if n, ok := properSplitLen[i]; ok {
			out = append(out, m)
			out = append(out, msgs[i+1:i+1+n]...)
			i += n
			continue
		}

		if brokenAssistant[i] {
			for _, tc := range m.ToolCalls {
				result := "[result truncated during compaction]"
				if rm, ok := resultByID[tc.ID]; ok {
					result = truncate(rm.Content, displayTruncLen)
				}
				args := truncate(tc.Function.Arguments, displayTruncLen)
				out = append(out, types.Message{
					Role: types.RoleAssistant,
					From: m.From,
					Content: fmt.Sprintf("I called %s(%s) → returned %s",
						tc.Function.Name, args, result),
					Metadata: map[string]any{
						"summarized_tool_call": map[string]any{
							"id":       tc.ID,
							"function": tc.Function.Name,
							"args":     tc.Function.Arguments,
							"result":   result,
						},
					},
				})
				out = append(out, types.Message{
					Role:       types.RoleTool,
					ToolCallID: tc.ID,
					Name:       tc.Function.Name,
					Content:    result,
				})
			}
			continue
		}

		if m.Role == types.RoleTool && m.ToolCallID != "" {
			if consumedToolIdx[i] {
				continue // re-emitted already, contiguous with its synthesised assistant
			}
			if !knownCallIDs[m.ToolCallID] {
				logger.Warn("dropping dangling tool result", map[string]any{"tool_call_id": m.ToolCallID})
				continue
			}
		}

		out = append(out, m)
	}

	return out
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
