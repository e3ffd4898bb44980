// Package buffer holds the live, in-memory message sequence the paging
// engine operates over. Every message is assigned a stable, monotonically
// increasing Seq at append time; compaction partitions and rebuilds the
// buffer by Seq rather than by value or pointer identity (spec §9,
// "Identity-based sets during buffer rebuild").
package buffer

import (
	"sync"

	"github.com/forgevm/vmpage/types"
)

// Buffer is the append-only-until-compacted message sequence, guarded by a
// mutex so Add (the foreground path) and Rebuild (invoked from inside a
// compaction cycle) can interleave safely — the summariser call inside
// compaction is the one suspension point during which Add may still run
// (spec §5).
type Buffer struct {
	mu            sync.Mutex
	msgs          []types.Message
	nextSeq       uint64
	systemHeadSeq uint64
	hasSystemHead bool
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Add appends m, assigning it the next sequence number, and returns the
// stamped copy. The first system-role message ever added becomes the
// protected original system prompt (invariant 1); later system-role
// messages are ordinary system-lane members.
func (b *Buffer) Add(m types.Message) types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	m.Seq = b.nextSeq
	if m.Role == types.RoleSystem && !b.hasSystemHead {
		b.systemHeadSeq = m.Seq
		b.hasSystemHead = true
	}
	b.msgs = append(b.msgs, m)
	return m
}

// Snapshot returns a copy of the current buffer contents, preserving order.
func (b *Buffer) Snapshot() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Len returns the current message count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// SystemHeadSeq returns the Seq of the protected original system prompt, if
// one has been added yet.
func (b *Buffer) SystemHeadSeq() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.systemHeadSeq, b.hasSystemHead
}

// SeqSet converts a message slice into a set of its Seq values, the
// identity representation compaction partitions on (spec §9).
func SeqSet(msgs []types.Message) map[uint64]bool {
	set := make(map[uint64]bool, len(msgs))
	for _, m := range msgs {
		set[m.Seq] = true
	}
	return set
}

// Rebuild implements spec §4.6 step 7. originalSeqs is the Seq set of every
// message present in the snapshot the compactor partitioned; keptSeqs is
// the Seq set of messages compaction decided to keep (the union of
// sys_head and each lane's "keep" output). A live message survives the
// rebuild if it was explicitly kept OR it was never part of the original
// partitioned snapshot at all — the latter case is exactly a message Add
// appended concurrently during summarisation. prepend is stamped with
// fresh sequence numbers and placed before the rebuilt sequence, in the
// fixed lane order the caller already sorted it into.
func (b *Buffer) Rebuild(originalSeqs, keptSeqs map[uint64]bool, prepend []types.Message) []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	survivors := make([]types.Message, 0, len(b.msgs))
	for _, m := range b.msgs {
		if keptSeqs[m.Seq] || !originalSeqs[m.Seq] {
			survivors = append(survivors, m)
		}
	}

	out := make([]types.Message, 0, len(prepend)+len(survivors))
	for _, m := range prepend {
		b.nextSeq++
		m.Seq = b.nextSeq
		out = append(out, m)
	}
	out = append(out, survivors...)

	b.msgs = out
	return append([]types.Message(nil), out...)
}

// StampMissing assigns a fresh sequence number to every message in msgs
// whose Seq is still zero (the flattener's synthesised summary pairs),
// leaving already-stamped messages untouched, and returns the result.
func (b *Buffer) StampMissing(msgs []types.Message) []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		if m.Seq == 0 {
			b.nextSeq++
			m.Seq = b.nextSeq
		}
		out[i] = m
	}
	return out
}

// Replace swaps the buffer contents wholesale. The compactor calls it with
// the tool-pair flattener's output (spec §4.8), right after Rebuild in the
// same compaction cycle, once StampMissing has given the flattener's
// synthesised pairs fresh sequence numbers.
func (b *Buffer) Replace(msgs []types.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = msgs
}
