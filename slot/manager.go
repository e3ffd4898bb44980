// Package slot implements the page slot manager (spec §4.10): pin-aware
// eviction of loaded pages against a token budget, oldest cold page first,
// then the least-referenced hot page.
package slot

import (
	"github.com/forgevm/vmpage/logging"
	"github.com/forgevm/vmpage/metrics"
	"github.com/forgevm/vmpage/pages"
	"github.com/forgevm/vmpage/tokenest"
)

// hotRefCount is the ref_count at or above which a loaded page counts as
// hot: hot pages are evicted only once no unpinned cold page is left, least
// referenced first (see pickVictim).
const hotRefCount = 3

// Manager evicts loaded pages from pageStore until the slot's token budget
// is respected, never touching pinned pages.
type Manager struct {
	pages       *pages.Store
	slotTokens  int
	est         tokenest.Estimator
	metricsSink *metrics.Sink
	logger      logging.Logger
	sessionID   string
}

// Config configures a Manager.
type Config struct {
	Pages         *pages.Store
	SlotTokens    int // default 6000 (spec §6 page_slot_tokens)
	CharsPerToken float64
	Metrics       *metrics.Sink
	Logger        logging.Logger
	SessionID     string
}

// New creates a Manager from cfg, filling defaults.
func New(cfg Config) *Manager {
	if cfg.SlotTokens <= 0 {
		cfg.SlotTokens = 6000
	}
	return &Manager{
		pages:       cfg.Pages,
		slotTokens:  cfg.SlotTokens,
		est:         tokenest.New(cfg.CharsPerToken),
		metricsSink: cfg.Metrics,
		logger:      logging.OrNop(cfg.Logger),
		sessionID:   cfg.SessionID,
	}
}

// LoadedTokens sums the content token estimate of every currently loaded
// page, skipping any whose content fails to load (consistent with
// LoadContent's "log and skip" failure policy, spec §4.2).
func (m *Manager) LoadedTokens() int {
	total := 0
	for _, id := range m.pages.LoadOrder() {
		content, ok := m.pages.LoadContent(id)
		if !ok {
			continue
		}
		total += m.est.Text(content)
	}
	return total
}

// Evict runs the eviction loop (spec §4.10) until loaded tokens are at or
// under the slot budget, or every loaded page is pinned. Returns the ids
// evicted, in eviction order.
func (m *Manager) Evict() []string {
	var evicted []string

	for m.LoadedTokens() > m.slotTokens {
		id, ok := m.pickVictim()
		if !ok {
			if m.metricsSink != nil {
				m.metricsSink.Emit(m.sessionID, metrics.EventSlotExhausted, map[string]any{"loaded_tokens": m.LoadedTokens(), "budget": m.slotTokens})
			}
			m.logger.Warn("slot exhausted: all loaded pages pinned, budget overflowing", map[string]any{"loaded_tokens": m.LoadedTokens(), "budget": m.slotTokens})
			break
		}
		m.pages.Evict(id)
		evicted = append(evicted, id)
		if m.metricsSink != nil {
			m.metricsSink.Emit(m.sessionID, metrics.EventPageEvicted, map[string]any{"id": id})
		}
	}
	return evicted
}

// pickVictim selects the next page to evict per spec §4.10. "Hot" pages
// (ref_count >= hotRefCount) are protected from plain LRU: an oldest-first
// unpinned-and-cold page is evicted whenever one exists; only once every
// remaining unpinned loaded page is hot does eviction fall back to the
// least popular of them (spec: "lowest ref_count... least popular among
// 'hot' set" — read as the tiebreak among hot pages once cold ones are
// exhausted, so popularity protects a page rather than marking it first
// in line).
func (m *Manager) pickVictim() (string, bool) {
	order := m.pages.LoadOrder()

	for _, id := range order {
		if m.pages.IsPinned(id) {
			continue
		}
		if m.pages.RefCount(id) < hotRefCount {
			return id, true // oldest unpinned cold page (load_order is oldest-loaded first)
		}
	}

	bestHot := ""
	bestHotCount := uint64(0)
	haveHot := false
	for _, id := range order {
		if m.pages.IsPinned(id) {
			continue
		}
		rc := m.pages.RefCount(id)
		if !haveHot || rc < bestHotCount {
			bestHot = id
			bestHotCount = rc
			haveHot = true
		}
	}
	if haveHot {
		return bestHot, true
	}
	return "", false
}

// Pin pins a page, scheduling a ref first if it is not already loaded
// (spec §4.10: "if not loaded, schedule a ref").
func (m *Manager) Pin(id string) bool {
	if !m.pages.IsLoaded(id) {
		if !m.pages.Ref(id) {
			return false
		}
	}
	m.pages.Pin(id)
	return true
}

// Unpin clears a page's pinned flag without unloading it.
func (m *Manager) Unpin(id string) {
	m.pages.Unpin(id)
}
