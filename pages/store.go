package pages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/vmerr"
)

// ContentCache is an optional write-through accelerator for LoadContent,
// decorating the on-disk store. See RedisCache.
type ContentCache interface {
	Get(id string) (string, bool)
	Set(id, content string)
}

// ColdArchiver is an optional cold-storage tier: pages evicted from the
// session directory's hot set can be archived and rehydrated on demand. See
// S3Archiver.
type ColdArchiver interface {
	Archive(id, content string) error
	Rehydrate(id string) (string, bool, error)
}

// Store is the content-addressed page store: individual page records on
// disk under dir, with in-memory metadata and PageRef bookkeeping (loaded,
// pinned, ref_count, load_order) mirrored into a persisted index file.
type Store struct {
	dir    string
	logger logging.Logger
	cache  ContentCache
	cold   ColdArchiver

	mu         sync.Mutex
	pages      map[string]Page
	active     map[string]bool
	loadOrder  []string // oldest-loaded first
	refCount   map[string]uint64
	pinned     map[string]bool
}

// Config configures a Store.
type Config struct {
	Dir    string
	Logger logging.Logger
	Cache  ContentCache  // optional
	Cold   ColdArchiver  // optional
}

// NewStore creates or opens a page store rooted at cfg.Dir.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("pages: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("pages: creating dir: %w", err)
	}
	s := &Store{
		dir:       cfg.Dir,
		logger:    logging.OrNop(cfg.Logger),
		cache:     cfg.Cache,
		cold:      cfg.Cold,
		pages:     make(map[string]Page),
		active:    make(map[string]bool),
		refCount:  make(map[string]uint64),
		pinned:    make(map[string]bool),
	}
	if err := s.IndexLoad(); err != nil {
		s.logger.Warn("page index corrupt, starting fresh", map[string]any{"error": err.Error()})
	}
	return s, nil
}

func (s *Store) pagePath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

// Save persists a page record atomically (temp file, sync, rename — the
// teacher's runtime.MemoryStore.Save pattern) and registers it in the
// in-memory metadata map, then re-persists the index.
func (s *Store) Save(p Page) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := writeAtomicJSON(s.pagePath(p.ID), p); err != nil {
		return fmt.Errorf("pages: saving %s: %w", p.ID, err)
	}

	s.mu.Lock()
	s.pages[p.ID] = p
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Set(p.ID, p.Content)
	}

	if err := s.IndexPersist(); err != nil {
		s.logger.Warn("failed to persist page index", map[string]any{"error": err.Error()})
	}
	return nil
}

// UpdateSummary fills in a page's summary after asynchronous summarisation
// completes, rewriting the page record in place.
func (s *Store) UpdateSummary(id, summary string) error {
	s.mu.Lock()
	p, ok := s.pages[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("pages: %s: %w", id, vmerr.ErrPageNotFound)
	}
	p.Summary = summary
	s.pages[id] = p
	s.mu.Unlock()
	return writeAtomicJSON(s.pagePath(id), p)
}

// LoadContent reads a page's content, consulting the cache, then the
// in-memory page record, then disk, and the cold archive tier last. On any single-page read failure, the
// error is logged and LoadContent returns ("", false) — the overall system
// continues (spec §4.2).
func (s *Store) LoadContent(id string) (string, bool) {
	if s.cache != nil {
		if content, ok := s.cache.Get(id); ok {
			return content, true
		}
	}

	s.mu.Lock()
	p, known := s.pages[id]
	s.mu.Unlock()
	if known {
		if s.cache != nil {
			s.cache.Set(id, p.Content)
		}
		return p.Content, true
	}

	data, err := os.ReadFile(s.pagePath(id))
	if err == nil {
		var loaded Page
		if jerr := json.Unmarshal(data, &loaded); jerr == nil {
			if s.cache != nil {
				s.cache.Set(id, loaded.Content)
			}
			return loaded.Content, true
		}
	}

	if s.cold != nil {
		if content, ok, cerr := s.cold.Rehydrate(id); cerr == nil && ok {
			return content, true
		}
	}

	s.logger.Warn("page load failed", map[string]any{"id": id})
	return "", false
}

// Exists reports whether a page with id is known, either in memory or on
// disk.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	_, ok := s.pages[id]
	s.mu.Unlock()
	if ok {
		return true
	}
	_, err := os.Stat(s.pagePath(id))
	return err == nil
}

// Get returns the in-memory metadata for a page, if known.
func (s *Store) Get(id string) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	return p, ok
}

// Pages returns every known page's metadata.
func (s *Store) Pages() []Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PageCount returns the number of known pages.
func (s *Store) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// --- PageRef bookkeeping (loaded / pinned / ref_count / load_order) ---

// Ref requests a page be loaded: if it exists, adds it to the active set,
// appends to load_order if new, and increments its frequency counter.
// Returns false if the page is unknown (a miss, recorded by the caller).
func (s *Store) Ref(id string) bool {
	if !s.Exists(id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[id] {
		s.active[id] = true
		s.loadOrder = append(s.loadOrder, id)
	}
	s.refCount[id]++
	return true
}

// Unref releases a page from the active set and load_order.
func (s *Store) Unref(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	s.removeFromLoadOrderLocked(id)
}

// Evict is Unref without the ref/unref semantics distinction — used by the
// slot manager, which never un-pins.
func (s *Store) Evict(id string) {
	s.Unref(id)
}

func (s *Store) removeFromLoadOrderLocked(id string) {
	for i, v := range s.loadOrder {
		if v == id {
			s.loadOrder = append(s.loadOrder[:i], s.loadOrder[i+1:]...)
			return
		}
	}
}

// Pin marks a page ineligible for eviction. If not already loaded, it is
// added to the active set (forcing a load).
func (s *Store) Pin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[id] = true
	if !s.active[id] {
		s.active[id] = true
		s.loadOrder = append(s.loadOrder, id)
	}
}

// Unpin clears a page's pinned flag without unloading it.
func (s *Store) Unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, id)
}

// IsPinned reports whether a page is pinned.
func (s *Store) IsPinned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned[id]
}

// IsLoaded reports whether a page is currently in the active set.
func (s *Store) IsLoaded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

// RefCount returns the monotonic frequency counter for a page.
func (s *Store) RefCount(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount[id]
}

// LoadOrder returns the active pages in load order (oldest-loaded first).
func (s *Store) LoadOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.loadOrder))
	copy(out, s.loadOrder)
	return out
}

// ActivePageIDs returns the currently-loaded page ids, unordered.
func (s *Store) ActivePageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

// --- index persistence ---

// indexFile is the on-disk representation of the page index. Readers must
// accept the variant without PageRefCount/PinnedPageIDs (an older on-disk
// format, per spec §9 Open Questions); writers always emit the full form.
type indexFile struct {
	Pages         []Page           `json:"pages"`
	ActivePageIDs []string         `json:"active_page_ids"`
	LoadOrder     []string         `json:"load_order"`
	PageRefCount  [][2]any         `json:"page_ref_count"`
	PinnedPageIDs []string         `json:"pinned_page_ids"`
	SavedAt       time.Time        `json:"saved_at"`
}

// IndexPersist rewrites the index file atomically.
func (s *Store) IndexPersist() error {
	s.mu.Lock()
	idx := indexFile{
		Pages:         make([]Page, 0, len(s.pages)),
		ActivePageIDs: make([]string, 0, len(s.active)),
		LoadOrder:     append([]string(nil), s.loadOrder...),
		PageRefCount:  make([][2]any, 0, len(s.refCount)),
		PinnedPageIDs: make([]string, 0, len(s.pinned)),
		SavedAt:       time.Now().UTC(),
	}
	for _, p := range s.pages {
		idx.Pages = append(idx.Pages, p)
	}
	for id := range s.active {
		idx.ActivePageIDs = append(idx.ActivePageIDs, id)
	}
	for id, c := range s.refCount {
		idx.PageRefCount = append(idx.PageRefCount, [2]any{id, c})
	}
	for id := range s.pinned {
		idx.PinnedPageIDs = append(idx.PinnedPageIDs, id)
	}
	s.mu.Unlock()

	return writeAtomicJSON(s.indexPath(), idx)
}

// IndexLoad reads the index file and rebuilds in-memory state. Accepts both
// the full form and the legacy form lacking page_ref_count/pinned_page_ids.
func (s *Store) IndexLoad() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("pages: decoding index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages = make(map[string]Page, len(idx.Pages))
	for _, p := range idx.Pages {
		s.pages[p.ID] = p
	}
	s.active = make(map[string]bool, len(idx.ActivePageIDs))
	for _, id := range idx.ActivePageIDs {
		s.active[id] = true
	}
	s.loadOrder = append([]string(nil), idx.LoadOrder...)
	s.refCount = make(map[string]uint64, len(idx.PageRefCount))
	for _, pair := range idx.PageRefCount {
		id, _ := pair[0].(string)
		switch v := pair[1].(type) {
		case float64:
			s.refCount[id] = uint64(v)
		case uint64:
			s.refCount[id] = v
		}
	}
	s.pinned = make(map[string]bool, len(idx.PinnedPageIDs))
	for _, id := range idx.PinnedPageIDs {
		s.pinned[id] = true
	}
	return nil
}

// writeAtomicJSON marshals v and writes it to path via temp-file + fsync +
// rename, the teacher's durable-write pattern (forge-core/runtime/
// memory_store.go Save).
func writeAtomicJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	return os.Rename(tmp, path)
}
