package server

import (
	"sort"
	"sync"
)

// Presence is one currently connected, authenticated identity.
type Presence struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	ConnID   string `json:"socketId"`
}

// PresenceTable maps identity ids to their live connection. All methods are
// safe for concurrent use; the last completed Insert for an id wins.
type PresenceTable struct {
	mu      sync.RWMutex
	entries map[string]Presence
}

// NewPresenceTable creates an empty table.
func NewPresenceTable() *PresenceTable {
	return &PresenceTable{entries: make(map[string]Presence)}
}

// Insert adds or replaces the entry for p.ID.
func (t *PresenceTable) Insert(p Presence) {
	t.mu.Lock()
	t.entries[p.ID] = p
	t.mu.Unlock()
}

// Remove deletes the entry for id, if any.
func (t *PresenceTable) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// RemoveIfOwner deletes the entry for id only while it still points at connID,
// so a late close of a replaced connection keeps the newer entry. It reports
// whether an entry was removed.
func (t *PresenceTable) RemoveIfOwner(id, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[id]
	if !ok || p.ConnID != connID {
		return false
	}
	delete(t.entries, id)
	return true
}

// Get returns the entry for id.
func (t *PresenceTable) Get(id string) (Presence, bool) {
	t.mu.RLock()
	p, ok := t.entries[id]
	t.mu.RUnlock()
	return p, ok
}

// All returns a snapshot ordered by username, then id.
func (t *PresenceTable) All() []Presence {
	t.mu.RLock()
	all := make([]Presence, 0, len(t.entries))
	for _, p := range t.entries {
		all = append(all, p)
	}
	t.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Username != all[j].Username {
			return all[i].Username < all[j].Username
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// Len returns the number of present identities.
func (t *PresenceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
