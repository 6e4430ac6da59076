// Package sync implements the conversation/message synchronization engine:
// it owns the push-channel lifecycle, dispatches inbound events to the
// presence, typing and conversation-index components, and exposes the
// imperative messaging operations to the UI layer.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lfarroco/claimchat/internal/bus"
	"github.com/lfarroco/claimchat/internal/convindex"
	"github.com/lfarroco/claimchat/internal/model"
	"github.com/lfarroco/claimchat/internal/presence"
	"github.com/lfarroco/claimchat/internal/push"
	"github.com/lfarroco/claimchat/internal/status"
	"github.com/lfarroco/claimchat/internal/typing"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned by Send for empty or whitespace-only content.
var ErrEmptyMessage = errors.New("message content is empty")

// API is the REST contract the engine consumes. The endpoints are
// collaborator-owned; internal/rest provides the production implementation.
type API interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, conversationID, content, clientID string) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	ListContacts(ctx context.Context, role model.Role) ([]model.Contact, error)
	StartConversation(ctx context.Context, contactID string) (*model.Conversation, error)
}

// Transport is the push-channel surface the engine drives. internal/push
// provides the production implementation.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	JoinConversation(ctx context.Context, conversationID string) error
	typing.Emitter
}

// Options tunes a new engine.
type Options struct {
	SelfID       string
	SelfName     string
	HistoryLimit int
	// Typing hysteresis; zero values use the typing package defaults.
	TypingDebounce      time.Duration
	TypingRemoteTimeout time.Duration
}

// Engine is the single authoritative owner of messaging state for a
// session. All mutations of the open conversation's message list, the
// conversation index, presence and typing state funnel through it.
type Engine struct {
	api       API
	transport Transport
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger

	index    *convindex.Index
	presence *presence.Tracker
	typing   *typing.Coordinator
	rec      *Reconciler

	selfID       string
	selfName     string
	historyLimit int

	mu         sync.Mutex
	openID     string
	openGen    uint64
	messages   []model.Message
	historyErr error

	group  bus.Group
	cancel context.CancelFunc
}

// NewEngine creates an engine. It does not touch the network until Start.
func NewEngine(api API, transport Transport, b *bus.Bus, machine *status.Machine, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	idx := convindex.New()
	return &Engine{
		api:          api,
		transport:    transport,
		bus:          b,
		machine:      machine,
		logger:       logger,
		index:        idx,
		presence:     presence.NewTracker(),
		typing:       typing.NewCoordinator(transport, b, logger, opts.TypingDebounce, opts.TypingRemoteTimeout),
		rec:          NewReconciler(idx, opts.SelfID),
		selfID:       opts.SelfID,
		selfName:     opts.SelfName,
		historyLimit: opts.HistoryLimit,
	}
}

// Start subscribes to push events, bulk-loads contacts and conversations,
// and connects the push channel. A transport connect failure is recoverable
// (the UI shows a disconnected indicator) and does not fail Start; a REST
// load failure does, so the caller can distinguish an empty account from a
// failed session bootstrap.
func (e *Engine) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	msgCh, unsub := e.bus.Subscribe(bus.KindPushMessage, 256)
	e.group.Add(unsub)
	convCh, unsub := e.bus.Subscribe(bus.KindPushConversation, 64)
	e.group.Add(unsub)
	typCh, unsub := e.bus.Subscribe("push.typing_", 64)
	e.group.Add(unsub)
	presCh, unsub := e.bus.Subscribe(bus.KindPushPresence, 64)
	e.group.Add(unsub)
	connCh, unsub := e.bus.Subscribe(bus.KindPushConnected, 4)
	e.group.Add(unsub)

	go e.loop(loopCtx, msgCh, convCh, typCh, presCh, connCh)

	contacts, err := e.api.ListContacts(ctx, "")
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	e.presence.Load(contacts)

	convs, err := e.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	e.index.Replace(convs)

	if err := e.transport.Connect(ctx); err != nil {
		e.logger.Warn("push channel connect failed", zap.Error(err))
	}
	return nil
}

// Close tears the engine down: all bus subscriptions are released in one
// atomic call, typing timers are cancelled, and the push channel is closed.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.group.Close()
	e.typing.Close()
	e.transport.Disconnect()
}

func (e *Engine) loop(ctx context.Context, msgCh, convCh, typCh, presCh, connCh <-chan bus.Event) {
	for {
		select {
		case evt := <-msgCh:
			if msg, ok := evt.Payload.(model.Message); ok {
				e.handleInbound(msg)
			}
		case evt := <-convCh:
			if patch, ok := evt.Payload.(push.ConversationPatch); ok {
				e.handleConversationPatch(patch)
			}
		case evt := <-typCh:
			if p, ok := evt.Payload.(push.TypingPayload); ok {
				e.handleTyping(evt.Kind == bus.KindPushTypingStart, p)
			}
		case evt := <-presCh:
			if p, ok := evt.Payload.(push.StatusChangePayload); ok {
				e.handlePresence(p)
			}
		case <-connCh:
			e.handleReconnected(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// OpenConversation fetches the message history for a conversation, joins
// its push room, and marks it read if it had unread messages. History
// arrives newest-first from the server and is re-ordered oldest-first for
// display. A fetch that resolves after another conversation was opened is
// discarded without any visible side effect.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	if e.openID != "" && e.openID != conversationID {
		e.typing.CloseConversation(e.openID)
	}
	e.openID = conversationID
	e.openGen++
	gen := e.openGen
	e.messages = nil
	e.historyErr = nil
	e.mu.Unlock()

	page, err := e.api.ListMessages(ctx, conversationID, e.historyLimit)

	e.mu.Lock()
	if e.openID != conversationID || e.openGen != gen {
		// Stale response: a different conversation was opened while this
		// fetch was in flight.
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.historyErr = err
		e.mu.Unlock()
		e.publish(bus.KindHistoryLoadFailed, map[string]string{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
		return fmt.Errorf("open conversation %s: %w", conversationID, err)
	}
	msgs := make([]model.Message, len(page))
	ids := make([]string, len(page))
	inPage := make(map[string]struct{}, len(page))
	for i, m := range page {
		msgs[len(page)-1-i] = m
		ids[i] = m.ID
		inPage[m.ID] = struct{}{}
	}
	// Messages accepted while the fetch was in flight (push deliveries,
	// optimistic sends) are sitting in e.messages; installing the page must
	// not erase them. The page wins for ids it already contains.
	for _, m := range e.messages {
		if _, dup := inPage[m.ID]; !dup {
			msgs = append(msgs, m)
		}
	}
	// Registering the page ids before releasing the lock closes the window
	// where a transport redelivery of a history message could append a
	// duplicate.
	e.rec.Remember(ids...)
	e.messages = msgs
	e.mu.Unlock()

	e.publish(bus.KindHistoryLoaded, map[string]string{"conversation_id": conversationID})

	if err := e.transport.JoinConversation(ctx, conversationID); err != nil {
		e.logger.Warn("join conversation failed", zap.Error(err), zap.String("conversation_id", conversationID))
	}

	if c, ok := e.index.Get(conversationID); ok && c.UnreadCount > 0 {
		if err := e.markRead(ctx, conversationID); err != nil {
			e.logger.Warn("mark read failed", zap.Error(err), zap.String("conversation_id", conversationID))
		}
	}
	return nil
}

// CloseConversation leaves the open conversation: the message list is
// dropped and all typing timers scoped to it are cancelled so nothing
// stale fires into the next room.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	if e.openID != "" {
		e.typing.CloseConversation(e.openID)
	}
	e.openID = ""
	e.openGen++
	e.messages = nil
	e.historyErr = nil
	e.mu.Unlock()
}

// Send creates a temporary message with status sending, shows it
// immediately, then issues the REST send. On success the temporary is
// replaced in place by the server-confirmed message; on failure it is
// marked failed in place, never silently dropped. Empty or whitespace-only
// content is rejected with ErrEmptyMessage before any state changes.
func (e *Engine) Send(ctx context.Context, conversationID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	clientID := uuid.New().String()
	temp := model.Message{
		ID:             "temp-" + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       e.selfID,
		SenderName:     e.selfName,
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
		Status:         model.StatusSending,
		Temporary:      true,
	}

	e.mu.Lock()
	if e.openID == conversationID {
		e.messages = append(e.messages, temp)
	}
	e.mu.Unlock()

	e.typing.MessageSent(conversationID)
	e.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": conversationID,
		"message_id":      temp.ID,
	})

	confirmed, err := e.api.SendMessage(ctx, conversationID, content, clientID)
	if err != nil {
		e.mu.Lock()
		for i := range e.messages {
			if e.messages[i].ID == temp.ID {
				e.messages[i].Status = model.StatusFailed
				break
			}
		}
		e.mu.Unlock()
		e.publish(bus.KindMessageSendFailed, map[string]string{
			"conversation_id": conversationID,
			"message_id":      temp.ID,
			"client_id":       clientID,
			"error":           err.Error(),
		})
		return fmt.Errorf("send message: %w", err)
	}

	echo := *confirmed
	if echo.ClientID == "" {
		echo.ClientID = clientID
	}
	e.applyConfirmed(echo)

	e.publish(bus.KindMessageSendAck, map[string]string{
		"conversation_id": conversationID,
		"client_id":       clientID,
		"message_id":      echo.ID,
	})
	return nil
}

// ResendFailed retries a failed temporary message: the failed row is
// removed and its content is sent again under a fresh temporary identifier.
func (e *Engine) ResendFailed(ctx context.Context, tempID string) error {
	e.mu.Lock()
	var conversationID, content string
	found := false
	for i, m := range e.messages {
		if m.ID == tempID && m.Temporary && m.Status == model.StatusFailed {
			conversationID, content = m.ConversationID, m.Content
			e.messages = slices.Delete(e.messages, i, i+1)
			found = true
			break
		}
	}
	e.mu.Unlock()
	if !found {
		return fmt.Errorf("no failed message %q to resend", tempID)
	}
	return e.Send(ctx, conversationID, content)
}

// StartConversation resolves the canonical conversation for a contact via
// the server's get-or-create endpoint and upserts it into the index.
// Calling it repeatedly for the same contact always yields the same
// conversation.
func (e *Engine) StartConversation(ctx context.Context, contactID string) (*model.Conversation, error) {
	conv, err := e.api.StartConversation(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	e.index.Upsert(convindex.Patch{
		ID:          conv.ID,
		ContactID:   &conv.ContactID,
		Name:        &conv.Name,
		Role:        &conv.Role,
		Online:      &conv.Online,
		UpdatedAt:   &conv.UpdatedAt,
		LastMessage: conv.LastMessage,
	})
	e.publish(bus.KindConversationUpdated, map[string]string{"conversation_id": conv.ID})
	return conv, nil
}

// MarkRead resets a conversation's unread count to zero optimistically and
// acknowledges it server-side. A failed acknowledgment rolls the count back
// so a later open retries it.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	return e.markRead(ctx, conversationID)
}

func (e *Engine) markRead(ctx context.Context, conversationID string) error {
	prev := e.index.ResetUnread(conversationID)
	e.publish(bus.KindConversationUpdated, map[string]string{"conversation_id": conversationID})
	if err := e.api.MarkRead(ctx, conversationID); err != nil {
		e.index.SetUnread(conversationID, prev)
		e.publish(bus.KindConversationUpdated, map[string]string{"conversation_id": conversationID})
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Keystroke records local typing activity in the open conversation.
func (e *Engine) Keystroke() {
	e.mu.Lock()
	open := e.openID
	e.mu.Unlock()
	if open != "" {
		e.typing.Keystroke(open)
	}
}

// Messages returns a snapshot of the open conversation's message list in
// display order.
func (e *Engine) Messages() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.messages)
}

// Conversations returns the conversation list in sidebar order.
func (e *Engine) Conversations() []model.Conversation {
	return e.index.List()
}

// SearchConversations returns a filtered view of the sidebar without
// touching the canonical list.
func (e *Engine) SearchConversations(text string) []model.Conversation {
	return e.index.Search(text)
}

// Contacts returns the contact list with presence flags.
func (e *Engine) Contacts() []model.Contact {
	return e.presence.List()
}

// IsOnline reports the last known presence for a contact.
func (e *Engine) IsOnline(userID string) bool {
	return e.presence.IsOnline(userID)
}

// OpenID returns the id of the open conversation, or empty.
func (e *Engine) OpenID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openID
}

// HistoryErr reports whether the last history fetch for the open
// conversation failed, distinguishing "no messages" from "failed to load".
func (e *Engine) HistoryErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyErr
}

// Typists returns the display names of remote users typing in the open
// conversation.
func (e *Engine) Typists() []string {
	e.mu.Lock()
	open := e.openID
	e.mu.Unlock()
	if open == "" {
		return nil
	}
	return e.typing.Typists(open)
}

// State returns the push-channel connection state.
func (e *Engine) State() status.State {
	return e.machine.Current()
}

func (e *Engine) handleInbound(msg model.Message) {
	e.mu.Lock()
	open := e.openID
	var outcome Outcome
	e.messages, outcome = e.rec.Apply(e.messages, msg, open)
	e.mu.Unlock()

	if outcome == OutcomeIgnored {
		return
	}
	e.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	})
	e.publish(bus.KindConversationUpdated, map[string]string{"conversation_id": msg.ConversationID})
}

func (e *Engine) applyConfirmed(msg model.Message) {
	e.mu.Lock()
	open := e.openID
	var outcome Outcome
	e.messages, outcome = e.rec.Apply(e.messages, msg, open)
	e.mu.Unlock()

	if outcome != OutcomeIgnored {
		e.publish(bus.KindMessageUpserted, map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
		})
	}
}

func (e *Engine) handleConversationPatch(p push.ConversationPatch) {
	e.index.Upsert(convindex.Patch{
		ID:          p.ID,
		ContactID:   p.ContactID,
		Name:        p.Name,
		Role:        p.Role,
		Online:      p.Online,
		LastMessage: p.LastMessage,
		UnreadCount: p.UnreadCount,
		UpdatedAt:   p.UpdatedAt,
	})
	e.publish(bus.KindConversationUpdated, map[string]string{"conversation_id": p.ID})
}

func (e *Engine) handleTyping(start bool, p push.TypingPayload) {
	if p.UserID == e.selfID {
		return
	}
	if start {
		e.typing.RemoteStart(p.ConversationID, p.UserID, p.UserName)
	} else {
		e.typing.RemoteStop(p.ConversationID, p.UserID)
	}
}

func (e *Engine) handlePresence(p push.StatusChangePayload) {
	if !e.presence.Set(p.UserID, p.IsOnline) {
		return
	}
	// Mirror the flag onto the denormalized conversation rows.
	for _, c := range e.index.Filter(func(c model.Conversation) bool { return c.ContactID == p.UserID }) {
		online := p.IsOnline
		e.index.Upsert(convindex.Patch{ID: c.ID, Online: &online})
	}
	e.publish(bus.KindPresenceChanged, push.StatusChangePayload{UserID: p.UserID, IsOnline: p.IsOnline})
}

func (e *Engine) handleReconnected(ctx context.Context) {
	e.mu.Lock()
	open := e.openID
	e.mu.Unlock()
	if open == "" {
		return
	}
	// Re-join the open room; a reconnect drops server-side subscriptions.
	if err := e.transport.JoinConversation(ctx, open); err != nil {
		e.logger.Warn("rejoin conversation failed", zap.Error(err), zap.String("conversation_id", open))
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
