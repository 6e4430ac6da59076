// Package typing translates local keystroke activity into outbound typing
// events with hysteresis, and tracks which remote users are typing per
// conversation.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lfarroco/claimchat/internal/bus"
	"github.com/lfarroco/claimchat/internal/timer"
	"go.uber.org/zap"
)

// DefaultIdleTimeout is how long after the last keystroke the local
// typing-stop is emitted.
const DefaultIdleTimeout = 3 * time.Second

// DefaultRemoteTimeout is the hard expiry for a remote typist whose
// typing-stop never arrives.
const DefaultRemoteTimeout = 6 * time.Second

// Emitter sends typing lifecycle events to the push channel.
type Emitter interface {
	TypingStart(ctx context.Context, conversationID string) error
	TypingStop(ctx context.Context, conversationID string) error
}

// Changed is the payload for typing.changed events.
type Changed struct {
	ConversationID string
	Typists        []string
}

type localState struct {
	active bool
	timer  timer.Debounce
}

type remoteTypist struct {
	name  string
	timer *timer.Debounce
}

// Coordinator owns the local emission state machine and the remote typist
// sets. One instance serves all conversations; timers are scoped per
// conversation so closing one cannot fire a stale typing-stop into another.
type Coordinator struct {
	mu      sync.Mutex
	emitter Emitter
	bus     *bus.Bus
	logger  *zap.Logger

	idle      time.Duration
	remoteTTL time.Duration

	local  map[string]*localState
	remote map[string]map[string]*remoteTypist
}

// NewCoordinator creates a coordinator emitting through the given sink.
// Zero durations fall back to the defaults.
func NewCoordinator(emitter Emitter, b *bus.Bus, logger *zap.Logger, idle, remoteTTL time.Duration) *Coordinator {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if remoteTTL <= 0 {
		remoteTTL = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		emitter:   emitter,
		bus:       b,
		logger:    logger,
		idle:      idle,
		remoteTTL: remoteTTL,
		local:     make(map[string]*localState),
		remote:    make(map[string]map[string]*remoteTypist),
	}
}

// Keystroke records local typing activity in a conversation. The first
// keystroke of a burst emits exactly one typing-start; every keystroke
// resets the inactivity timer. When the timer elapses with no further
// keystrokes a single typing-stop is emitted.
func (c *Coordinator) Keystroke(conversationID string) {
	c.mu.Lock()
	ls, ok := c.local[conversationID]
	if !ok {
		ls = &localState{}
		c.local[conversationID] = ls
	}
	first := !ls.active
	ls.active = true
	ls.timer.Arm(c.idle, func() { c.idleElapsed(conversationID) })
	c.mu.Unlock()

	if first {
		if err := c.emitter.TypingStart(context.Background(), conversationID); err != nil {
			c.logger.Warn("typing start emit failed", zap.Error(err), zap.String("conversation_id", conversationID))
		}
	}
}

func (c *Coordinator) idleElapsed(conversationID string) {
	c.mu.Lock()
	ls, ok := c.local[conversationID]
	if !ok || !ls.active {
		c.mu.Unlock()
		return
	}
	ls.active = false
	c.mu.Unlock()

	if err := c.emitter.TypingStop(context.Background(), conversationID); err != nil {
		c.logger.Warn("typing stop emit failed", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}

// MessageSent eagerly ends the local typing state, bypassing the timer.
// No-op when not typing.
func (c *Coordinator) MessageSent(conversationID string) {
	c.mu.Lock()
	ls, ok := c.local[conversationID]
	if !ok || !ls.active {
		c.mu.Unlock()
		return
	}
	ls.active = false
	ls.timer.Cancel()
	c.mu.Unlock()

	if err := c.emitter.TypingStop(context.Background(), conversationID); err != nil {
		c.logger.Warn("typing stop emit failed", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}

// RemoteStart records a remote user typing in a conversation. The entry
// expires after the hard timeout unless refreshed by another typing-start.
func (c *Coordinator) RemoteStart(conversationID, userID, userName string) {
	c.mu.Lock()
	m, ok := c.remote[conversationID]
	if !ok {
		m = make(map[string]*remoteTypist)
		c.remote[conversationID] = m
	}
	rt, ok := m[userID]
	if !ok {
		rt = &remoteTypist{timer: &timer.Debounce{}}
		m[userID] = rt
	}
	rt.name = userName
	rt.timer.Arm(c.remoteTTL, func() { c.RemoteStop(conversationID, userID) })
	c.mu.Unlock()

	c.publishChanged(conversationID)
}

// RemoteStop removes a remote typist, whether by explicit typing-stop or
// hard timeout.
func (c *Coordinator) RemoteStop(conversationID, userID string) {
	c.mu.Lock()
	m, ok := c.remote[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	rt, ok := m[userID]
	if !ok {
		c.mu.Unlock()
		return
	}
	rt.timer.Cancel()
	delete(m, userID)
	if len(m) == 0 {
		delete(c.remote, conversationID)
	}
	c.mu.Unlock()

	c.publishChanged(conversationID)
}

// Typists returns the display names of remote users currently typing in a
// conversation, name-sorted.
func (c *Coordinator) Typists(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typistsLocked(conversationID)
}

func (c *Coordinator) typistsLocked(conversationID string) []string {
	m := c.remote[conversationID]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for _, rt := range m {
		out = append(out, rt.name)
	}
	sort.Strings(out)
	return out
}

// CloseConversation cancels all timers scoped to a conversation and drops
// its remote typists. No typing-stop is emitted: the room is being left,
// and a later fire must not target it.
func (c *Coordinator) CloseConversation(conversationID string) {
	c.mu.Lock()
	if ls, ok := c.local[conversationID]; ok {
		ls.timer.Cancel()
		delete(c.local, conversationID)
	}
	for _, rt := range c.remote[conversationID] {
		rt.timer.Cancel()
	}
	delete(c.remote, conversationID)
	c.mu.Unlock()
}

// Close tears down every timer across all conversations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, ls := range c.local {
		ls.timer.Cancel()
	}
	for _, m := range c.remote {
		for _, rt := range m {
			rt.timer.Cancel()
		}
	}
	c.local = make(map[string]*localState)
	c.remote = make(map[string]map[string]*remoteTypist)
	c.mu.Unlock()
}

func (c *Coordinator) publishChanged(conversationID string) {
	if c.bus == nil {
		return
	}
	c.mu.Lock()
	typists := c.typistsLocked(conversationID)
	c.mu.Unlock()
	c.bus.Publish(bus.Event{
		Kind:      bus.KindTypingChanged,
		Timestamp: time.Now(),
		Payload: Changed{
			ConversationID: conversationID,
			Typists:        typists,
		},
	})
}
