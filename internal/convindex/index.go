// Package convindex maintains the ordered conversation list behind the
// messaging sidebar: summaries with last-message previews and unread counts,
// kept sorted by most recent activity.
package convindex

import (
	"sort"
	"strings"
	"sync"

	"github.com/lfarroco/claimchat/internal/model"
)

// Index is the canonical collection of conversation summaries. Ordering is
// strictly most-recent-activity-descending (last message timestamp, falling
// back to the conversation's own updated-at), with ties broken by
// conversation id for determinism.
type Index struct {
	mu   sync.RWMutex
	byID map[string]*model.Conversation
	// order caches ids in render order; rebuilt on every mutation.
	order []string
}

// Patch is a partial conversation update. Nil fields are left untouched,
// which lets a single merge path serve both push-driven patches and
// REST-driven refreshes.
type Patch struct {
	ID          string
	ContactID   *string
	Name        *string
	Role        *model.Role
	Online      *bool
	LastMessage *model.LastMessage
	UnreadCount *int
	UpdatedAt   *int64
}

// New creates an empty index.
func New() *Index {
	return &Index{byID: make(map[string]*model.Conversation)}
}

// Replace swaps the whole collection for a refetched list.
func (x *Index) Replace(convs []model.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byID = make(map[string]*model.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		x.byID[c.ID] = &c
	}
	x.resort()
}

// Upsert merges a partial update into the conversation, creating it if
// unknown, and re-sorts.
func (x *Index) Upsert(p Patch) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c, ok := x.byID[p.ID]
	if !ok {
		c = &model.Conversation{ID: p.ID}
		x.byID[p.ID] = c
	}
	if p.ContactID != nil {
		c.ContactID = *p.ContactID
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Role != nil {
		c.Role = *p.Role
	}
	if p.Online != nil {
		c.Online = *p.Online
	}
	if p.LastMessage != nil {
		c.LastMessage = p.LastMessage
	}
	if p.UnreadCount != nil {
		n := *p.UnreadCount
		if n < 0 {
			n = 0
		}
		c.UnreadCount = n
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	x.resort()
}

// Touch records message activity on a conversation: updates the denormalized
// last-message summary and re-sorts. Creates the conversation if it is not
// yet known (first sight of an inbound message for a new thread).
func (x *Index) Touch(id string, lm model.LastMessage) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c, ok := x.byID[id]
	if !ok {
		c = &model.Conversation{ID: id}
		x.byID[id] = c
	}
	c.LastMessage = &lm
	if lm.Timestamp > c.UpdatedAt {
		c.UpdatedAt = lm.Timestamp
	}
	x.resort()
}

// IncrementUnread bumps the unread count for a conversation.
func (x *Index) IncrementUnread(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if c, ok := x.byID[id]; ok {
		c.UnreadCount++
	}
}

// ResetUnread sets the unread count to zero. Returns the previous count.
func (x *Index) ResetUnread(id string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	c, ok := x.byID[id]
	if !ok {
		return 0
	}
	prev := c.UnreadCount
	c.UnreadCount = 0
	return prev
}

// SetUnread restores an explicit unread count, used to roll back an
// optimistic reset when the mark-read request fails.
func (x *Index) SetUnread(id string, n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if c, ok := x.byID[id]; ok && n >= 0 {
		c.UnreadCount = n
	}
}

// Get returns a copy of a conversation and whether it exists.
func (x *Index) Get(id string) (model.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.byID[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// Len returns the number of conversations.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

// List returns a snapshot of all conversations in render order.
func (x *Index) List() []model.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.Conversation, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, *x.byID[id])
	}
	return out
}

// Filter returns the conversations matching pred, in render order. The
// canonical list is never mutated; the result is an independent copy so it
// can be re-evaluated on every keystroke without refetching.
func (x *Index) Filter(pred func(model.Conversation) bool) []model.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []model.Conversation
	for _, id := range x.order {
		c := *x.byID[id]
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// Search returns conversations whose display name or last message content
// contains text, case-insensitively. Empty text matches everything.
func (x *Index) Search(text string) []model.Conversation {
	needle := strings.ToLower(strings.TrimSpace(text))
	return x.Filter(func(c model.Conversation) bool {
		if needle == "" {
			return true
		}
		if strings.Contains(strings.ToLower(c.Name), needle) {
			return true
		}
		return c.LastMessage != nil &&
			strings.Contains(strings.ToLower(c.LastMessage.Content), needle)
	})
}

// resort rebuilds the cached render order. Callers must hold the write lock.
func (x *Index) resort() {
	x.order = x.order[:0]
	for id := range x.byID {
		x.order = append(x.order, id)
	}
	sort.SliceStable(x.order, func(i, j int) bool {
		a, b := x.byID[x.order[i]], x.byID[x.order[j]]
		if aa, bb := a.LastActivity(), b.LastActivity(); aa != bb {
			return aa > bb
		}
		return a.ID < b.ID
	})
}
