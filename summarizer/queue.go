package summarizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgevm/vmpage/types"
)

// Entry is one durable batch-summarisation job (spec §4.7's batch mode).
type Entry struct {
	ID       string    `json:"id"`
	PageID   string    `json:"page_id"`
	Label    string    `json:"label"`
	Lane     types.Lane `json:"lane"`
	QueuedAt time.Time `json:"queued_at"`
}

// Queue is an append-only NDJSON file acting as a durable FIFO: the core
// appends jobs on the synchronous path and a Worker drains it. Enqueue and
// Drain serialise on the Queue's in-process mutex; no file lock is taken,
// so separate processes sharing one queue file are not coordinated.
type Queue struct {
	mu   sync.Mutex
	path string
}

// NewQueue opens (creating if absent) the queue file at path.
func NewQueue(path string) (*Queue, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening queue file: %w", err)
	}
	f.Close()
	return &Queue{path: path}, nil
}

// Enqueue appends one job line, synchronously fsyncing so the job
// survives a crash before any in-memory placeholder is handed back.
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.QueuedAt.IsZero() {
		e.QueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Drain reads and removes every currently queued entry, atomically
// truncating the backing file via rename-over-empty so a concurrent
// Enqueue never races a partial truncate. Entries the worker fails to
// process should be passed to Requeue.
func (q *Queue) Drain() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.path)
	if err != nil {
		return nil, err
	}

	entries, err := decodeNDJSON(data)
	if err != nil {
		return nil, err
	}

	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, nil, 0o644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return nil, err
	}
	return entries, nil
}

// Requeue appends failed entries back onto the queue, per spec §4.15
// ("Batch API failure: items re-enqueued").
func (q *Queue) Requeue(entries []Entry) error {
	for _, e := range entries {
		if err := q.Enqueue(e); err != nil {
			return err
		}
	}
	return nil
}

func decodeNDJSON(data []byte) ([]Entry, error) {
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A partially-written trailing line: stop here rather than fail
			// the whole drain; it will be picked up whole on the next pass.
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
