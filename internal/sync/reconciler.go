package sync

import (
	"sync"

	"github.com/lfarroco/claimchat/internal/convindex"
	"github.com/lfarroco/claimchat/internal/model"
)

// Outcome describes what the reconciler did with a confirmed message.
type Outcome int

const (
	// OutcomeIgnored means the message was a duplicate delivery.
	OutcomeIgnored Outcome = iota
	// OutcomeReplaced means a matching temporary message was swapped for
	// the confirmed one, in place.
	OutcomeReplaced
	// OutcomeAppended means the message was new and added to the list
	// (or accepted for a conversation that is not open).
	OutcomeAppended
)

// Reconciler merges server-confirmed messages with outstanding temporary
// messages. Both the push echo and the REST send response route through it,
// so whichever arrives first wins and the other is ignored as a duplicate.
type Reconciler struct {
	index  *convindex.Index
	selfID string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewReconciler creates a reconciler updating the given index. selfID is the
// local operator; messages from self never increment unread counts.
func NewReconciler(index *convindex.Index, selfID string) *Reconciler {
	return &Reconciler{
		index:  index,
		selfID: selfID,
		seen:   make(map[string]struct{}),
	}
}

// Remember registers server message ids as already present, so a push
// redelivery of history-loaded messages is ignored even after the
// conversation holding them is closed.
func (r *Reconciler) Remember(ids ...string) {
	r.mu.Lock()
	for _, id := range ids {
		if id != "" {
			r.seen[id] = struct{}{}
		}
	}
	r.mu.Unlock()
}

// Apply merges one confirmed message into the state. msgs is the message
// list of the open conversation (openID); it is returned possibly modified.
// Exactly one of three things happens:
//
//  1. Ignore: the confirmed id was already accepted (duplicate delivery).
//  2. Replace: a temporary message still sending matches, first by the
//     clientId correlation, then by content for same-sender echoes from
//     transports that cannot round-trip the correlation id. The confirmed
//     message takes the temporary's list position.
//  3. Append: no match; the message is new.
//
// Every accepted message updates the conversation index's last-message
// summary; messages from other users into conversations that are not open
// increment the unread count.
func (r *Reconciler) Apply(msgs []model.Message, confirmed model.Message, openID string) ([]model.Message, Outcome) {
	r.mu.Lock()
	if _, dup := r.seen[confirmed.ID]; dup {
		r.mu.Unlock()
		return msgs, OutcomeIgnored
	}
	r.seen[confirmed.ID] = struct{}{}
	r.mu.Unlock()

	outcome := OutcomeAppended
	if confirmed.ConversationID == openID {
		if i := r.matchTemporary(msgs, confirmed); i >= 0 {
			// Replace, not merge: the confirmed message takes the slot the
			// temporary held, keeping the visual position stable.
			confirmed.Temporary = false
			if confirmed.Status == "" || confirmed.Status == model.StatusSending {
				confirmed.Status = model.StatusSent
			}
			msgs[i] = confirmed
			outcome = OutcomeReplaced
		} else {
			confirmed.Temporary = false
			if confirmed.Status == "" {
				confirmed.Status = model.StatusDelivered
			}
			msgs = append(msgs, confirmed)
		}
	}

	r.index.Touch(confirmed.ConversationID, model.LastMessage{
		Content:   confirmed.Content,
		Timestamp: confirmed.Timestamp,
		SenderID:  confirmed.SenderID,
	})
	if confirmed.ConversationID != openID && confirmed.SenderID != r.selfID {
		r.index.IncrementUnread(confirmed.ConversationID)
	}
	return msgs, outcome
}

// matchTemporary returns the index of the oldest temporary message the
// confirmed one reconciles against, or -1. The correlation id is exact;
// the content fallback applies only to the local user's own echoes, taking
// the oldest still-sending candidate so two rapid identical sends resolve
// deterministically.
func (r *Reconciler) matchTemporary(msgs []model.Message, confirmed model.Message) int {
	if confirmed.ClientID != "" {
		for i, m := range msgs {
			if m.Temporary && m.ClientID == confirmed.ClientID {
				return i
			}
		}
		return -1
	}
	if confirmed.SenderID != r.selfID {
		return -1
	}
	for i, m := range msgs {
		if m.Temporary && m.Status == model.StatusSending && m.Content == confirmed.Content {
			return i
		}
	}
	return -1
}
