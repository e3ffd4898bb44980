// Package summarizer produces a page's summary text: synchronously via a
// drivers.Summariser, via a durable batch queue drained by a background
// worker, or — with neither available — a deterministic placeholder. It
// also prepares the transcript text handed to a synchronous driver (spec
// §4.7).
package summarizer

import (
	"fmt"
	"strings"

	"github.com/forgevm/vmpage/types"
)

const ephemeralMarker = "@@ephemeral@@"
const importantMarker = "@@important@@"

// PrepareTranscript builds the prompt body for a synchronous summariser
// call: lines matching the ephemeral marker are hard-stripped, lines
// matching the important marker are collected verbatim into a
// preservation header, and the remaining transcript is tagged with
// [IMPORTANT=x.xx] on messages at or above the importance threshold. This
// is the one place the core does marker-string scanning — everywhere else
// markers arrive as typed ref/unref/important/ephemeral calls from an
// outer parser (spec §9).
func PrepareTranscript(msgs []types.Message, label string) string {
	var important []string
	var body strings.Builder

	for _, m := range msgs {
		lines := strings.Split(m.Content, "\n")
		kept := lines[:0:0]
		for _, line := range lines {
			if strings.Contains(line, ephemeralMarker) {
				continue
			}
			if strings.Contains(line, importantMarker) {
				important = append(important, strings.TrimSpace(line))
			}
			kept = append(kept, line)
		}
		content := strings.Join(kept, "\n")

		tag := ""
		if m.Importance >= types.ImportanceThreshold {
			tag = fmt.Sprintf("[IMPORTANT=%.2f] ", m.Importance)
		}
		fmt.Fprintf(&body, "[%s]: %s%s\n", m.Role, tag, content)
	}

	var out strings.Builder
	if len(important) > 0 {
		out.WriteString("PRESERVE VERBATIM:\n")
		for _, line := range important {
			out.WriteString(line)
			out.WriteByte('\n')
		}
		out.WriteString("\n")
	}
	out.WriteString("TRANSCRIPT (")
	out.WriteString(label)
	out.WriteString("):\n")
	out.WriteString(body.String())
	return out.String()
}

// FocusInstruction returns the lane-specific summarisation guidance
// appended to a synchronous driver prompt.
func FocusInstruction(l types.Lane) string {
	switch l {
	case types.LaneAssistant:
		return "Summarise what the assistant did and concluded, preserving any decisions or commitments made."
	case types.LaneUser:
		return "Summarise the user's requests, goals, and stated constraints."
	case types.LaneSystem:
		return "Summarise any configuration or instruction changes conveyed in these system messages."
	case types.LaneTool:
		return "Summarise the tool calls made and their outcomes, preserving concrete results."
	default:
		return "Summarise the messages concisely."
	}
}

// EnsureRef appends a <ref id="pg_..."/> tag to text if it does not
// already contain one for pageID, per spec §4.7's synchronous-driver case.
func EnsureRef(text, pageID string) string {
	tag := fmt.Sprintf(`<ref id="%s"/>`, pageID)
	if strings.Contains(text, tag) {
		return text
	}
	return strings.TrimRight(text, "\n") + " " + tag
}
