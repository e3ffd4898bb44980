package summarizer

import (
	"path/filepath"
	"testing"

	"github.com/forgevm/vmpage/types"
)

func TestQueue_EnqueueDrainRoundTrip(t *testing.T) {
	q, err := NewQueue(filepath.Join(t.TempDir(), "q.ndjson"))
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	if err := q.Enqueue(Entry{PageID: "pg_1", Label: "l1", Lane: types.LaneUser}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(Entry{PageID: "pg_2", Label: "l2", Lane: types.LaneAssistant}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("expected queue to assign an id when none given")
	}

	// Second drain should be empty: the queue file was truncated.
	again, err := q.Drain()
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty queue after drain, got %d entries", len(again))
	}
}

func TestQueue_Requeue(t *testing.T) {
	q, _ := NewQueue(filepath.Join(t.TempDir(), "q.ndjson"))
	_ = q.Enqueue(Entry{PageID: "pg_1"})
	entries, _ := q.Drain()

	if err := q.Requeue(entries); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	again, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("expected requeued entry to come back, got %d", len(again))
	}
}
