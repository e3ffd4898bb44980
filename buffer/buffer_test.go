package buffer

import (
	"testing"

	"github.com/forgevm/vmpage/types"
)

func TestBuffer_AddAssignsMonotonicSeq(t *testing.T) {
	b := New()
	a := b.Add(types.Message{Role: types.RoleUser, Content: "a"})
	c := b.Add(types.Message{Role: types.RoleUser, Content: "b"})
	if a.Seq == 0 || c.Seq <= a.Seq {
		t.Fatalf("expected strictly increasing non-zero seqs, got %d, %d", a.Seq, c.Seq)
	}
}

func TestBuffer_SystemHeadSeqIsFirstSystemMessageOnly(t *testing.T) {
	b := New()
	b.Add(types.Message{Role: types.RoleUser, Content: "u"})
	head := b.Add(types.Message{Role: types.RoleSystem, Content: "sys"})
	b.Add(types.Message{Role: types.RoleSystem, Content: "sys2"})

	seq, ok := b.SystemHeadSeq()
	if !ok || seq != head.Seq {
		t.Fatalf("expected system head seq %d, got %d (ok=%v)", head.Seq, seq, ok)
	}
}

func TestBuffer_RebuildPreservesConcurrentlyAddedMessages(t *testing.T) {
	b := New()
	m1 := b.Add(types.Message{Role: types.RoleUser, Content: "one"})
	m2 := b.Add(types.Message{Role: types.RoleUser, Content: "two"})

	// Partition computed over a snapshot containing only m1, m2.
	originalSeqs := SeqSet([]types.Message{m1, m2})
	keptSeqs := map[uint64]bool{m2.Seq: true} // pretend m1 got paged out

	// A message appended after the partitioning snapshot was taken — the
	// concurrent-add case spec §4.6 step 7 must preserve.
	concurrent := b.Add(types.Message{Role: types.RoleUser, Content: "concurrent"})

	summary := types.Message{Role: types.RoleAssistant, From: "VirtualMemory", Content: "ASSISTANT LANE SUMMARY:\nx"}
	out := b.Rebuild(originalSeqs, keptSeqs, []types.Message{summary})

	if len(out) != 3 {
		t.Fatalf("expected summary + m2 + concurrent, got %d: %+v", len(out), out)
	}
	if out[0].Content != summary.Content {
		t.Errorf("expected summary message first, got %+v", out[0])
	}
	foundConcurrent := false
	for _, m := range out[1:] {
		if m.Content == "concurrent" && m.Seq == concurrent.Seq {
			foundConcurrent = true
		}
		if m.Content == "one" {
			t.Error("m1 should have been dropped (paged out)")
		}
	}
	if !foundConcurrent {
		t.Error("concurrently added message should survive rebuild")
	}
}

func TestBuffer_StampMissingOnlyTouchesZeroSeq(t *testing.T) {
	b := New()
	existing := b.Add(types.Message{Role: types.RoleUser, Content: "a"})
	fresh := types.Message{Role: types.RoleAssistant, Content: "synth"}

	out := b.StampMissing([]types.Message{existing, fresh})
	if out[0].Seq != existing.Seq {
		t.Errorf("existing message's seq should be untouched, got %d want %d", out[0].Seq, existing.Seq)
	}
	if out[1].Seq == 0 {
		t.Error("fresh message should receive a non-zero seq")
	}
}
