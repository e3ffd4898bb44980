// Package pages implements the content-addressed page store: immutable
// on-disk records of paged-out messages plus the in-memory metadata map and
// persisted index, adapted from the teacher's atomic-write session store
// (forge-core/runtime/memory_store.go) and its file-backed index pattern
// (forge-core/memory/vectorstore.go).
package pages

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/forgevm/vmpage/types"
)

// maxSourceChars truncates each source message's content when building a
// page's raw content (spec §4.7: "content[..8000]").
const maxSourceChars = 8000

// Page is an immutable on-disk record of paged-out messages. Summary may be
// filled in asynchronously after the page is written.
type Page struct {
	ID           string     `json:"id"`
	Label        string     `json:"label"`
	Content      string     `json:"content"`
	CreatedAt    time.Time  `json:"created_at"`
	MessageCount int        `json:"message_count"`
	Tokens       int        `json:"tokens"`
	MaxImportance float64   `json:"max_importance,omitempty"`
	Lane         types.Lane `json:"lane,omitempty"`
	Summary      string     `json:"summary,omitempty"`
}

// BuildRaw joins the source messages into a page's raw content, the pure
// function whose SHA-256 prefix becomes the page id (spec invariant 3: a
// page's id is a pure function of its raw content).
func BuildRaw(msgs []types.Message) string {
	raw := ""
	for i, m := range msgs {
		content := m.Content
		if len(content) > maxSourceChars {
			content = content[:maxSourceChars]
		}
		from := m.From
		if from == "" {
			from = string(m.Role)
		}
		if i > 0 {
			raw += "\n\n"
		}
		raw += fmt.Sprintf("[%s (%s)]: %s", m.Role, from, content)
	}
	return raw
}

// ID computes the content-addressed page id: "pg_" + first 12 hex chars of
// sha256(raw). Duplicate content always yields the same id (spec invariant
// 3); two distinct byte sequences almost surely produce distinct ids (spec
// property P5).
func ID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "pg_" + fmt.Sprintf("%x", sum)[:12]
}

// MaxImportanceOf returns the highest Importance among msgs, 0 if empty.
func MaxImportanceOf(msgs []types.Message) float64 {
	var max float64
	for _, m := range msgs {
		if m.Importance > max {
			max = m.Importance
		}
	}
	return max
}

// LaneOf returns the single lane shared by every message in msgs, or
// LaneMixed if msgs span more than one lane. The compactor writes one page
// per lane, so its pages never mix lanes.
func LaneOf(msgs []types.Message) types.Lane {
	if len(msgs) == 0 {
		return ""
	}
	lane := types.LaneOf(msgs[0].Role)
	for _, m := range msgs[1:] {
		if types.LaneOf(m.Role) != lane {
			return types.LaneMixed
		}
	}
	return lane
}
