package summarizer

import (
	"strings"
	"testing"

	"github.com/forgevm/vmpage/types"
)

func TestPrepareTranscript_StripsEphemeralKeepsImportant(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "normal line\n@@ephemeral@@ drop me\n@@important@@ remember this"},
	}
	out := PrepareTranscript(msgs, "test-label")

	if strings.Contains(out, "drop me") {
		t.Error("ephemeral-marked line should be stripped")
	}
	if !strings.Contains(out, "remember this") {
		t.Error("important-marked line should be preserved verbatim")
	}
	if !strings.Contains(out, "PRESERVE VERBATIM:") {
		t.Error("expected a preservation header when important lines exist")
	}
}

func TestPrepareTranscript_TagsHighImportance(t *testing.T) {
	msgs := []types.Message{{Role: types.RoleUser, Content: "critical", Importance: 0.9}}
	out := PrepareTranscript(msgs, "l")
	if !strings.Contains(out, "[IMPORTANT=0.90]") {
		t.Errorf("expected importance tag, got: %s", out)
	}
}

func TestPrepareTranscript_NoTagBelowThreshold(t *testing.T) {
	msgs := []types.Message{{Role: types.RoleUser, Content: "mundane", Importance: 0.2}}
	out := PrepareTranscript(msgs, "l")
	if strings.Contains(out, "IMPORTANT") {
		t.Errorf("did not expect importance tag, got: %s", out)
	}
}

func TestEnsureRef_AddsWhenMissing(t *testing.T) {
	got := EnsureRef("a summary", "pg_abc123")
	if !strings.Contains(got, `<ref id="pg_abc123"/>`) {
		t.Errorf("expected ref tag appended, got: %s", got)
	}
}

func TestEnsureRef_NoopWhenPresent(t *testing.T) {
	text := `summary already has <ref id="pg_abc123"/> in it`
	got := EnsureRef(text, "pg_abc123")
	if got != text {
		t.Errorf("should not duplicate existing ref tag, got: %s", got)
	}
}
