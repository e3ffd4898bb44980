// Package metrics tracks paging-engine counters and emits a structured
// NDJSON trail, adapted from the teacher's runtime.AuditLogger
// (forge-core/runtime/audit.go), which writes one JSON object per line to an
// io.Writer under a mutex.
package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event names mirror the teacher's Audit* constants but cover page
// lifecycle and retrieval events instead of agent-loop/egress events.
const (
	EventPageCreated    = "page_created"
	EventPageEvicted    = "page_evicted"
	EventPageLoaded     = "page_loaded"
	EventPageRefMiss    = "page_ref_miss"
	EventCompaction     = "compaction"
	EventSearch         = "search"
	EventIndexBackfill  = "index_backfill"
	EventForkSnapshot   = "fork_snapshot"
	EventForkPrune      = "fork_prune"
	EventSlotExhausted  = "slot_exhausted"
	EventSummaryFailure = "summary_failure"
)

// Record is a single structured event, written as one NDJSON line.
type Record struct {
	Timestamp string         `json:"ts"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Sink emits Records as NDJSON to an io.Writer, and keeps a running set of
// counters for Stats().
type Sink struct {
	mu   sync.Mutex
	w    io.Writer
	vals map[string]uint64

	pagesCreated  uint64
	pagesEvicted  uint64
	pagesReloaded uint64
	refMisses     uint64
	refHits       uint64
	compactions   uint64
	searches      uint64
}

// New creates a Sink writing to w. w == nil disables NDJSON emission but
// counters still accumulate.
func New(w io.Writer) *Sink {
	return &Sink{w: w, vals: make(map[string]uint64)}
}

// Emit records an event and writes it as NDJSON if a writer is configured.
func (s *Sink) Emit(sessionID, event string, fields map[string]any) {
	s.mu.Lock()
	s.bump(event)
	w := s.w
	s.mu.Unlock()

	if w == nil {
		return
	}
	rec := Record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		SessionID: sessionID,
		Fields:    fields,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, _ = w.Write(data)
	s.mu.Unlock()
}

// bump must be called with s.mu held.
func (s *Sink) bump(event string) {
	switch event {
	case EventPageCreated:
		s.pagesCreated++
	case EventPageEvicted:
		s.pagesEvicted++
	case EventPageLoaded:
		s.pagesReloaded++
	case EventPageRefMiss:
		s.refMisses++
	case EventCompaction:
		s.compactions++
	case EventSearch:
		s.searches++
	}
	s.vals[event]++
}

// RecordRefHit increments the ref hit counter (a successful ref of a known
// page, as opposed to EventPageRefMiss for an unknown id).
func (s *Sink) RecordRefHit() {
	s.mu.Lock()
	s.refHits++
	s.mu.Unlock()
}

// Snapshot is a point-in-time read of the counters, used by MemoryStats.
type Snapshot struct {
	PagesCreated  uint64
	PagesEvicted  uint64
	PagesReloaded uint64
	RefHits       uint64
	RefMisses     uint64
	Compactions   uint64
	Searches      uint64
}

// MissRate returns RefMisses / (RefHits + RefMisses), or 0 if there have
// been no refs at all.
func (s Snapshot) MissRate() float64 {
	total := s.RefHits + s.RefMisses
	if total == 0 {
		return 0
	}
	return float64(s.RefMisses) / float64(total)
}

// Snapshot returns a copy of the current counters.
func (s *Sink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		PagesCreated:  s.pagesCreated,
		PagesEvicted:  s.pagesEvicted,
		PagesReloaded: s.pagesReloaded,
		RefHits:       s.refHits,
		RefMisses:     s.refMisses,
		Compactions:   s.compactions,
		Searches:      s.searches,
	}
}
