// Package push owns the persistent socket delivering server-initiated
// messaging events. It decodes inbound frames into typed bus events and
// sends outbound room/typing commands; it never mutates conversation state
// itself.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/lfarroco/claimchat/internal/bus"
	"github.com/lfarroco/claimchat/internal/status"
	"go.uber.org/zap"
)

// Channel is the single shared push-channel connection for a session. Only
// one component (the sync engine) opens and closes it. There is no
// automatic reconnect here: retry policy belongs to the caller.
type Channel struct {
	socketURL string
	token     string
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	intentional bool
}

// NewChannel creates a push channel for the given socket URL and credential.
func NewChannel(socketURL, token string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		socketURL: socketURL,
		token:     token,
		bus:       b,
		machine:   machine,
		logger:    logger,
	}
}

// Connect dials the socket and starts the read loop. Calling it while
// already connecting or connected is a no-op, not an error.
func (c *Channel) Connect(ctx context.Context) error {
	if c.machine.Current() != status.Disconnected {
		return nil
	}
	if err := c.machine.Transition(status.Connecting); err != nil {
		return err
	}

	u := wsURL(c.socketURL)
	if c.token != "" {
		u += "?token=" + c.token
	}
	c.logger.Info("connecting push channel", zap.String("url", c.socketURL))

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		_ = c.machine.Transition(status.Disconnected)
		return fmt.Errorf("push channel dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.intentional = false
	c.mu.Unlock()

	_ = c.machine.Transition(status.Connected)
	c.publish(bus.KindPushConnected, nil)

	go c.readLoop(readCtx, conn)
	return nil
}

// Disconnect tears the connection down. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.logger.Info("disconnecting push channel")
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	_ = c.machine.Transition(status.Disconnected)
}

// JoinConversation subscribes this connection to a conversation's room.
func (c *Channel) JoinConversation(ctx context.Context, conversationID string) error {
	return c.send(ctx, command{
		Event: EventJoinConversation,
		Data:  map[string]string{"conversationId": conversationID},
	})
}

// TypingStart emits a typing_start for the local user in a conversation.
func (c *Channel) TypingStart(ctx context.Context, conversationID string) error {
	return c.send(ctx, command{
		Event: EventTypingStart,
		Data:  map[string]string{"conversationId": conversationID},
	})
}

// TypingStop emits a typing_stop for the local user in a conversation.
func (c *Channel) TypingStop(ctx context.Context, conversationID string) error {
	return c.send(ctx, command{
		Event: EventTypingStop,
		Data:  map[string]string{"conversationId": conversationID},
	})
}

func (c *Channel) send(ctx context.Context, cmd command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("push channel not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentional
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if intentional {
				return
			}
			c.logger.Warn("push channel read failed", zap.Error(err))
			_ = c.machine.Transition(status.Disconnected)
			c.publish(bus.KindPushDisconnected, err.Error())
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("bad push frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func wsURL(base string) string {
	u := strings.Replace(base, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}
