// Package reloadcache proposes replaying a previously recorded action
// sequence instead of invoking the AI again for a task it has seen
// before, keyed by a fingerprint of the task and the window context it
// ran in.
package reloadcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"canopy/internal/osaction"
	"canopy/internal/storage"
	"canopy/pkg/logger"
)

// InvalidateFailThreshold is the fail count at which an entry is
// escalated from merely incremented to fully invalidated.
const InvalidateFailThreshold = 2

// DefaultMatchLimit bounds findMatches' result size.
const DefaultMatchLimit = 3

// Entry is one cached fingerprint -> action-sequence mapping.
type Entry struct {
	EventID     string
	Fingerprint string
	Actions     []osaction.Action
	ForWindowID string
	CreatedAt   time.Time
	FailCount   int
	Invalidated bool

	seq uint64 // insertion order, used only to break CreatedAt ties in FindMatches
}

// Cache is the in-memory, DB-backed reload cache for one session.
type Cache struct {
	mu        sync.Mutex
	sessionID string
	db        *storage.DB
	entries   map[string]*Entry   // eventId -> entry
	byFP      map[string][]string // fingerprint -> eventIds, insertion order
	nextSeq   uint64
}

// New creates an empty Cache for sessionID. db may be nil (tests, or a
// session with no persistence backing), in which case Cache degrades to
// in-memory-only, lossy-on-restart behavior.
func New(sessionID string, db *storage.DB) *Cache {
	return &Cache{
		sessionID: sessionID,
		db:        db,
		entries:   make(map[string]*Entry),
		byFP:      make(map[string][]string),
	}
}

// Load repopulates the in-memory cache from persisted rows; a no-op when
// the cache has no DB backing.
func (c *Cache) Load() error {
	if c.db == nil {
		return nil
	}
	rows, err := c.db.LoadReloadCache(c.sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		var actions []osaction.Action
		if err := json.Unmarshal(row.Actions, &actions); err != nil {
			logger.Warn().Err(err).Str("session_id", c.sessionID).Str("event_id", row.EventID).
				Msg("reload cache: dropping row with unparseable actions")
			continue
		}
		e := &Entry{
			EventID:     row.EventID,
			Fingerprint: row.Fingerprint,
			Actions:     actions,
			ForWindowID: row.ForWindowID,
			CreatedAt:   row.CreatedAt,
			FailCount:   row.FailCount,
			Invalidated: row.Invalidated,
		}
		c.entries[e.EventID] = e
		c.byFP[e.Fingerprint] = append(c.byFP[e.Fingerprint], e.EventID)
	}
	return nil
}

// BuildFingerprint derives a stable fingerprint from normalized task
// content, the monitor it targets, a snapshot of open window ids/titles,
// and the task's window id (empty for a main task).
func BuildFingerprint(content, monitorID string, openWindows []string, windowID string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	sorted := append([]string(nil), openWindows...)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", normalized, monitorID, strings.Join(sorted, ","), windowID)
	return hex.EncodeToString(h.Sum(nil))
}

// FindMatches returns up to limit entries for fingerprint fp, ordered
// not-invalidated first, then lower failCount, then newest. limit<=0
// defaults to DefaultMatchLimit.
func (c *Cache) FindMatches(fp string, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	c.mu.Lock()
	ids := append([]string(nil), c.byFP[fp]...)
	candidates := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			candidates = append(candidates, e)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Invalidated != b.Invalidated {
			return !a.Invalidated
		}
		if a.FailCount != b.FailCount {
			return a.FailCount < b.FailCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.seq > b.seq
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Entry, len(candidates))
	for i, e := range candidates {
		out[i] = *e
	}
	return out
}

// MaybeRecord stores actions under fingerprint fp, but only when the list
// is non-trivial and contains at least one externally observable action
// (window.create or equivalent). Identical (fp, actions) pairs are
// deduplicated rather than stored again.
func (c *Cache) MaybeRecord(fp string, actions []osaction.Action, forWindowID string) {
	if !hasObservableAction(actions) {
		return
	}

	c.mu.Lock()
	for _, id := range c.byFP[fp] {
		if e, ok := c.entries[id]; ok && sameActions(e.Actions, actions) {
			c.mu.Unlock()
			return
		}
	}
	c.nextSeq++
	e := &Entry{
		EventID:     uuid.NewString(),
		Fingerprint: fp,
		Actions:     append([]osaction.Action(nil), actions...),
		ForWindowID: forWindowID,
		CreatedAt:   time.Now(),
		seq:         c.nextSeq,
	}
	c.entries[e.EventID] = e
	c.byFP[fp] = append(c.byFP[fp], e.EventID)
	c.mu.Unlock()

	c.persist(e)
}

func hasObservableAction(actions []osaction.Action) bool {
	for _, a := range actions {
		switch a.Kind {
		case osaction.KindWindowCreate, osaction.KindWindowShowNotification:
			return true
		}
	}
	return false
}

func sameActions(a, b []osaction.Action) bool {
	if len(a) != len(b) {
		return false
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// FormatReloadOptions renders a compact prompt-injection block enumerating
// candidates by eventId, for a downstream agent tool to choose among.
func FormatReloadOptions(matches []Entry) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Possible cached action sequences from a prior identical task:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- eventId=%s (%d action(s), failCount=%d)\n", m.EventID, len(m.Actions), m.FailCount)
	}
	return b.String()
}

// InvalidateForWindow marks every entry referencing windowID as
// invalidated, without evicting it.
func (c *Cache) InvalidateForWindow(windowID string) {
	c.mu.Lock()
	var affected []*Entry
	for _, e := range c.entries {
		if e.ForWindowID == windowID && !e.Invalidated {
			e.Invalidated = true
			affected = append(affected, e)
		}
	}
	c.mu.Unlock()

	for _, e := range affected {
		c.persist(e)
	}
	if c.db != nil {
		if err := c.db.InvalidateReloadCacheForWindow(c.sessionID, windowID); err != nil {
			logger.Warn().Err(err).Str("session_id", c.sessionID).Str("window_id", windowID).
				Msg("reload cache: failed to persist window invalidation")
		}
	}
}

// MarkFailed increments eventId's fail count, escalating to invalidated
// once it reaches InvalidateFailThreshold. Returns the new fail count.
func (c *Cache) MarkFailed(eventID string) (int, error) {
	c.mu.Lock()
	e, ok := c.entries[eventID]
	if !ok {
		c.mu.Unlock()
		return 0, storage.ErrNotFound
	}
	e.FailCount++
	if e.FailCount >= InvalidateFailThreshold {
		e.Invalidated = true
	}
	failCount := e.FailCount
	c.mu.Unlock()

	c.persist(e)
	return failCount, nil
}

func (c *Cache) persist(e *Entry) {
	if c.db == nil {
		return
	}
	actions, err := json.Marshal(e.Actions)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", c.sessionID).Msg("reload cache: failed to marshal actions")
		return
	}
	row := storage.ReloadCacheRow{
		SessionID:   c.sessionID,
		EventID:     e.EventID,
		Fingerprint: e.Fingerprint,
		Actions:     actions,
		ForWindowID: e.ForWindowID,
		CreatedAt:   e.CreatedAt,
		FailCount:   e.FailCount,
		Invalidated: e.Invalidated,
	}
	if err := c.db.PutReloadCacheEntry(row); err != nil {
		logger.Warn().Err(err).Str("session_id", c.sessionID).Str("event_id", e.EventID).
			Msg("reload cache: failed to persist entry")
	}
}
