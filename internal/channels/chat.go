// Package channels implements the fire-and-forget request/response pairs
// layered on the session connection: chat, terminal relay, and code
// execution.
package channels

import (
	"strings"
	"sync"
	"time"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

// Sender is the outbound side of the relay connection.
type Sender interface {
	Send(event string, payload any) error
}

// Chat maintains the append-only chat transcript. Nothing is appended
// locally on send: even the sender waits for its own echo, so the relay is
// the single ordering source for all participants.
type Chat struct {
	sessionID string
	userID    string
	userName  string
	sender    Sender

	mu       sync.Mutex
	messages []model.ChatMessage
	lastID   int64

	// onAppend fires outside the lock for every appended message.
	onAppend func(model.ChatMessage)
}

// NewChat creates a chat channel for the local user.
func NewChat(sessionID, userID, userName string, sender Sender) *Chat {
	return &Chat{
		sessionID: sessionID,
		userID:    userID,
		userName:  userName,
		sender:    sender,
	}
}

// OnAppend registers an observer for appended messages.
func (c *Chat) OnAppend(fn func(model.ChatMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAppend = fn
}

// Send submits a chat line to the relay. The transcript is not touched
// here; the message appears when the relay echoes it back.
func (c *Chat) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.sender.Send(protocol.EventChatMessage, protocol.ChatMessage{
		SessionID: c.sessionID,
		Message:   text,
		UserID:    c.userID,
		UserName:  c.userName,
	})
}

// HandleMessage appends a relay-echoed chat message to the transcript.
func (c *Chat) HandleMessage(msg protocol.ChatMessage) model.ChatMessage {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := model.ChatMessage{
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Text:      msg.Message,
		Timestamp: ts,
	}
	return c.append(entry)
}

// AddSystem appends a synthetic system notice (join/leave) locally.
func (c *Chat) AddSystem(text string) model.ChatMessage {
	return c.append(model.ChatMessage{
		Text:      text,
		Timestamp: time.Now(),
		IsSystem:  true,
	})
}

// Seed replaces the transcript from a session-joined snapshot.
func (c *Chat) Seed(history []model.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]model.ChatMessage(nil), history...)
	c.lastID = 0
	for _, m := range c.messages {
		if m.ID > c.lastID {
			c.lastID = m.ID
		}
	}
}

// History returns a copy of the transcript.
func (c *Chat) History() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ChatMessage(nil), c.messages...)
}

// Clear drops the transcript, used on session leave.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.lastID = 0
}

// append assigns a locally monotonic id and stores the message. Ids are
// timestamps nudged forward so they never repeat within one process.
func (c *Chat) append(msg model.ChatMessage) model.ChatMessage {
	c.mu.Lock()
	id := time.Now().UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	msg.ID = id
	c.messages = append(c.messages, msg)
	notify := c.onAppend
	c.mu.Unlock()

	if notify != nil {
		notify(msg)
	}
	return msg
}
