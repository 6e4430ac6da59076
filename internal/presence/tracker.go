// Package presence maintains online/offline status per contact.
package presence

import (
	"sort"
	"sync"

	"github.com/lfarroco/claimchat/internal/model"
)

// Tracker is a pure lookup table of contact presence. Status updates are
// last-write-wins per contact: only the latest status matters, so no
// ordering guarantee is needed across events.
type Tracker struct {
	mu       sync.RWMutex
	contacts map[string]model.Contact
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		contacts: make(map[string]model.Contact),
	}
}

// Load replaces the table with a bulk contact snapshot, typically the
// GET /contacts response at session start.
func (t *Tracker) Load(contacts []model.Contact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contacts = make(map[string]model.Contact, len(contacts))
	for _, c := range contacts {
		t.contacts[c.ID] = c
	}
}

// Set records a status-change event for a contact. Unknown contacts get a
// minimal entry so presence arriving before the bulk load is not lost.
// Returns true if the stored status actually changed.
func (t *Tracker) Set(userID string, online bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.contacts[userID]
	if !ok {
		t.contacts[userID] = model.Contact{ID: userID, Online: online}
		return true
	}
	if c.Online == online {
		return false
	}
	c.Online = online
	t.contacts[userID] = c
	return true
}

// IsOnline reports the last known status for a contact. Unknown contacts
// are offline.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.contacts[userID].Online
}

// Get returns the contact record and whether it is known.
func (t *Tracker) Get(userID string) (model.Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.contacts[userID]
	return c, ok
}

// List returns a name-sorted snapshot of all contacts.
func (t *Tracker) List() []model.Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Contact, 0, len(t.contacts))
	for _, c := range t.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
