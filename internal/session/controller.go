// Package session orchestrates a session membership: the joining → active →
// left lifecycle, role assignment, component seeding from the relay's
// snapshot, and autosave scheduling.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/collabcode/client/internal/channels"
	"github.com/collabcode/client/internal/conn"
	"github.com/collabcode/client/internal/docsync"
	"github.com/collabcode/client/internal/editor"
	"github.com/collabcode/client/internal/filetree"
	"github.com/collabcode/client/internal/history"
	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/presence"
	"github.com/collabcode/client/internal/protocol"
)

const (
	// DefaultAutosaveInterval is how often unsaved active-file content is
	// pushed while the session is active.
	DefaultAutosaveInterval = 15 * time.Second

	// DefaultJoinTimeout bounds how long the client waits for the
	// session-joined acknowledgment before the attempt fails.
	DefaultJoinTimeout = 10 * time.Second
)

// Config configures a Controller.
type Config struct {
	RelayURL  string
	SessionID string
	UserID    string
	UserName  string

	// Role is the requested role; the granted role arrives with the
	// session-joined snapshot and is the one that counts.
	Role model.Role

	DebounceInterval time.Duration
	AutosaveInterval time.Duration
	JoinTimeout      time.Duration
	MaxReconnects    uint64

	// HistoryStore, when set, persists chat and terminal transcripts.
	HistoryStore *history.Store

	// DocumentCache, when set, retains content of non-active files.
	DocumentCache *docsync.Cache

	// OnStateChange observes lifecycle transitions, if set.
	OnStateChange func(model.SessionState)

	// OnError receives user-visible error messages, if set.
	OnError func(message string)

	// OnConnectionStatus observes the transport's connected flag, if set.
	OnConnectionStatus func(connected bool)
}

// Controller owns one session membership and all components layered on its
// relay connection.
type Controller struct {
	cfg Config
	buf editor.Buffer

	conn     *conn.Manager
	presence *presence.Tracker
	docs     *docsync.Engine
	files    *filetree.Coordinator
	chat     *channels.Chat
	terminal *channels.Terminal
	executor *channels.Executor
	store    *history.Store

	mu           sync.Mutex
	state        model.SessionState
	session      *model.Session
	role         model.Role
	joinTimer    *time.Timer
	autosaveStop chan struct{}
}

// NewController wires up all components around a relay connection. Nothing
// is sent until Start.
func NewController(cfg Config, buf editor.Buffer) *Controller {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = DefaultAutosaveInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if !cfg.Role.Valid() {
		cfg.Role = model.RoleViewer
	}

	c := &Controller{
		cfg:   cfg,
		buf:   buf,
		store: cfg.HistoryStore,
		state: model.SessionStateJoining,
	}

	c.conn = conn.NewManager(conn.Config{
		URL: cfg.RelayURL,
		Join: protocol.JoinRequest{
			SessionID: cfg.SessionID,
			UserID:    cfg.UserID,
			UserName:  cfg.UserName,
			Role:      cfg.Role,
		},
		MaxReconnects:  cfg.MaxReconnects,
		OnStatusChange: cfg.OnConnectionStatus,
		OnFailure:      c.handleConnectionFailure,
	})

	c.presence = presence.NewTracker(cfg.UserID)
	c.docs = docsync.NewEngine(cfg.SessionID, c.conn, buf, cfg.DocumentCache, cfg.DebounceInterval)
	c.files = filetree.NewCoordinator(cfg.SessionID, c.conn)
	c.chat = channels.NewChat(cfg.SessionID, cfg.UserID, cfg.UserName, c.conn)
	c.terminal = channels.NewTerminal(cfg.SessionID, c.conn)
	c.executor = channels.NewExecutor(cfg.SessionID, c.conn)

	// Switching the active file tears down the previous sync context and
	// establishes a new one.
	c.files.OnActiveChange(func(name string) {
		if name == "" {
			c.docs.ClearActive()
			return
		}
		c.docs.SetActiveFile(name)
	})

	// Editor notifications feed document sync and outbound presence.
	buf.OnChange(c.docs.OnLocalChange)
	buf.OnCursor(c.sendCursor)
	buf.OnSelection(c.sendSelection)

	if c.store != nil {
		c.chat.OnAppend(func(msg model.ChatMessage) {
			if err := c.store.AppendChat(context.Background(), cfg.SessionID, msg); err != nil {
				log.Printf("chat history write failed: %v", err)
			}
		})
		c.terminal.OnAppend(func(entry model.TerminalEntry) {
			if err := c.store.AppendTerminal(context.Background(), cfg.SessionID, entry); err != nil {
				log.Printf("terminal history write failed: %v", err)
			}
		})
	}

	c.registerHandlers()
	return c
}

// Start opens the connection and begins the join cycle.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(model.SessionStateJoining)

	c.mu.Lock()
	c.joinTimer = time.AfterFunc(c.cfg.JoinTimeout, func() {
		c.failJoin(errors.New("timed out waiting for session-joined"))
	})
	c.mu.Unlock()

	if err := c.conn.Connect(ctx); err != nil {
		c.failJoin(err)
		return err
	}
	return nil
}

// Leave ends the membership: the connection is closed and all session,
// presence, and file state is cleared. Rejoining requires a fresh
// controller; nothing is cached across a leave.
func (c *Controller) Leave() {
	c.mu.Lock()
	if c.state == model.SessionStateLeft {
		c.mu.Unlock()
		return
	}
	c.state = model.SessionStateLeft
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
	if c.autosaveStop != nil {
		close(c.autosaveStop)
		c.autosaveStop = nil
	}
	c.session = nil
	c.mu.Unlock()

	c.docs.Stop()
	c.conn.Close()
	c.presence.Reset()
	c.files.Clear()
	c.chat.Clear()
	c.terminal.Clear()
	c.executor.Reset()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(model.SessionStateLeft)
	}
}

// setState records a lifecycle transition and notifies the observer.
func (c *Controller) setState(s model.SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the granted role, or the requested one before join completes.
func (c *Controller) Role() model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != "" {
		return c.role
	}
	return c.cfg.Role
}

// Session returns a copy of the current session, if joined.
func (c *Controller) Session() (model.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.Session{}, false
	}
	out := *c.session
	out.Participants = append([]model.Participant(nil), c.session.Participants...)
	return out, true
}

// Presence exposes the presence tracker.
func (c *Controller) Presence() *presence.Tracker { return c.presence }

// Documents exposes the document sync engine.
func (c *Controller) Documents() *docsync.Engine { return c.docs }

// Files exposes the file tree coordinator.
func (c *Controller) Files() *filetree.Coordinator { return c.files }

// Chat exposes the chat channel.
func (c *Controller) Chat() *channels.Chat { return c.chat }

// Terminal exposes the terminal channel.
func (c *Controller) Terminal() *channels.Terminal { return c.terminal }

// Executor exposes the code execution channel.
func (c *Controller) Executor() *channels.Executor { return c.executor }

// Connected reports whether the relay transport is up.
func (c *Controller) Connected() bool { return c.conn.Connected() }

// registerHandlers subscribes every component's event subset on the shared
// connection. Handlers tolerate malformed payloads by treating them as
// no-ops; nothing here may take the session down.
func (c *Controller) registerHandlers() {
	c.conn.On(protocol.EventSessionJoined, c.handleSessionJoined)
	c.conn.On(protocol.EventUserJoined, c.handleUserJoined)
	c.conn.On(protocol.EventUserLeft, c.handleUserLeft)
	c.conn.On(protocol.EventError, c.handleError)

	c.conn.On(protocol.EventCursorUpdated, func(data json.RawMessage) {
		var ev protocol.CursorUpdate
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed cursor-updated event: %v", err)
			return
		}
		c.presence.ApplyCursor(ev.UserID, ev.Position, ev.FileName)
	})

	c.conn.On(protocol.EventSelectionUpdated, func(data json.RawMessage) {
		var ev protocol.SelectionUpdate
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed selection-updated event: %v", err)
			return
		}
		c.presence.ApplySelection(ev.UserID, ev.Selection, ev.FileName)
	})

	c.conn.On(protocol.EventDocumentState, func(data json.RawMessage) {
		var ev protocol.DocumentState
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed document-state event: %v", err)
			return
		}
		c.docs.ApplyRemote(ev.DocName, ev.Content)
	})

	c.conn.On(protocol.EventFileOperation, func(data json.RawMessage) {
		var ev protocol.FileOperation
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed file-operation event: %v", err)
			return
		}
		c.files.ApplyOperation(ev)
		if ev.Operation == protocol.FileOpDelete {
			c.docs.Forget(ev.FileName)
		}
	})

	c.conn.On(protocol.EventChatMessage, func(data json.RawMessage) {
		var ev protocol.ChatMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed chat-message event: %v", err)
			return
		}
		c.chat.HandleMessage(ev)
	})

	c.conn.On(protocol.EventTerminalResponse, func(data json.RawMessage) {
		var ev protocol.TerminalResponse
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed terminal-response event: %v", err)
			return
		}
		c.terminal.HandleResponse(ev)
	})

	c.conn.On(protocol.EventCodeExecutionResult, func(data json.RawMessage) {
		var ev protocol.CodeExecutionResult
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed code-execution-result event: %v", err)
			return
		}
		c.executor.HandleResult(ev)
	})
}

// handleSessionJoined seeds every component from the relay's snapshot. The
// same path runs after a reconnect re-join, replacing all pre-drop state
// wholesale rather than merging.
func (c *Controller) handleSessionJoined(data json.RawMessage) {
	var snapshot protocol.SessionJoined
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Printf("malformed session-joined event: %v", err)
		return
	}

	role := snapshot.Role
	if !role.Valid() {
		role = model.RoleViewer
	}

	c.mu.Lock()
	if c.state == model.SessionStateLeft || c.state == model.SessionStateFailed {
		c.mu.Unlock()
		return
	}
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
	c.role = role
	c.session = &model.Session{
		ID:           c.cfg.SessionID,
		Name:         snapshot.SessionName,
		OwnerID:      snapshot.OwnerID,
		Language:     snapshot.Language,
		Participants: append([]model.Participant(nil), snapshot.Users...),
		State:        model.SessionStateActive,
	}
	firstJoin := c.state == model.SessionStateJoining
	c.state = model.SessionStateActive
	if c.autosaveStop == nil {
		c.autosaveStop = make(chan struct{})
		go c.autosaveLoop(c.autosaveStop)
	}
	c.mu.Unlock()

	c.presence.Reset()
	c.files.SetRole(role)
	c.docs.SetEditable(role.CanEdit())
	c.chat.Seed(snapshot.ChatHistory)
	if c.store != nil {
		for _, msg := range snapshot.ChatHistory {
			if err := c.store.AppendChat(context.Background(), c.cfg.SessionID, msg); err != nil {
				log.Printf("chat history write failed: %v", err)
			}
		}
	}
	c.files.Seed(snapshot.Files)

	if firstJoin && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(model.SessionStateActive)
	}
	log.Printf("joined session %s as %s with %d participants, %d files",
		c.cfg.SessionID, role, len(snapshot.Users), len(snapshot.Files))
}

func (c *Controller) handleUserJoined(data json.RawMessage) {
	var ev protocol.UserJoined
	if err := json.Unmarshal(data, &ev); err != nil || ev.User.ID == "" {
		log.Printf("malformed user-joined event: %v", err)
		return
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	exists := false
	for _, p := range c.session.Participants {
		if p.ID == ev.User.ID {
			exists = true
			break
		}
	}
	if !exists {
		c.session.Participants = append(c.session.Participants, ev.User)
	}
	c.mu.Unlock()

	if !exists && ev.User.ID != c.cfg.UserID {
		c.chat.AddSystem(ev.User.Name + " joined the session")
	}
}

func (c *Controller) handleUserLeft(data json.RawMessage) {
	var ev protocol.UserLeft
	if err := json.Unmarshal(data, &ev); err != nil || ev.UserID == "" {
		log.Printf("malformed user-left event: %v", err)
		return
	}

	c.mu.Lock()
	name := ev.UserName
	removed := false
	if c.session != nil {
		participants := c.session.Participants[:0]
		for _, p := range c.session.Participants {
			if p.ID == ev.UserID {
				removed = true
				if name == "" {
					name = p.Name
				}
				continue
			}
			participants = append(participants, p)
		}
		c.session.Participants = participants
	}
	c.mu.Unlock()

	c.presence.Remove(ev.UserID)

	if removed {
		c.chat.AddSystem(name + " left the session")
	}
}

// handleError surfaces a relay-reported failure. During Joining it is fatal
// to the attempt; while Active it is logged and surfaced without tearing
// the session down.
func (c *Controller) handleError(data json.RawMessage) {
	var ev protocol.Error
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("malformed error event: %v", err)
		return
	}
	if ev.Message == "" {
		ev.Message = "relay reported an unspecified error"
	}

	c.mu.Lock()
	joining := c.state == model.SessionStateJoining
	c.mu.Unlock()

	if joining {
		c.failJoin(fmt.Errorf("%w: %s", model.ErrJoinRejected, ev.Message))
		return
	}

	log.Printf("relay error while active: %s", ev.Message)
	if c.cfg.OnError != nil {
		c.cfg.OnError(ev.Message)
	}
}

// handleConnectionFailure runs when bounded reconnect attempts exhaust.
func (c *Controller) handleConnectionFailure(err error) {
	c.mu.Lock()
	if c.state == model.SessionStateLeft {
		c.mu.Unlock()
		return
	}
	c.state = model.SessionStateFailed
	if c.autosaveStop != nil {
		close(c.autosaveStop)
		c.autosaveStop = nil
	}
	c.mu.Unlock()

	c.docs.Stop()
	if c.cfg.OnError != nil {
		c.cfg.OnError(err.Error())
	}
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(model.SessionStateFailed)
	}
}

// failJoin moves a joining session to Failed and surfaces the reason.
func (c *Controller) failJoin(cause error) {
	c.mu.Lock()
	if c.state != model.SessionStateJoining {
		c.mu.Unlock()
		return
	}
	c.state = model.SessionStateFailed
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
	c.mu.Unlock()

	c.conn.Close()
	log.Printf("failed to join session %s: %v", c.cfg.SessionID, cause)
	if c.cfg.OnError != nil {
		c.cfg.OnError(cause.Error())
	}
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(model.SessionStateFailed)
	}
}

// autosaveLoop pushes unsaved active-file content on a fixed interval while
// the session is active.
func (c *Controller) autosaveLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.State() != model.SessionStateActive {
				continue
			}
			if c.docs.Flush() {
				log.Printf("autosaved %s", c.docs.ActiveFile())
			}
		}
	}
}

// sendCursor broadcasts the local cursor with the active file attached.
func (c *Controller) sendCursor(pos model.Position) {
	if c.State() != model.SessionStateActive {
		return
	}
	fileName := c.files.ActiveFile()
	if fileName == "" {
		return
	}
	err := c.conn.Send(protocol.EventCursorUpdate, protocol.CursorUpdate{
		SessionID: c.cfg.SessionID,
		Position:  pos,
		FileName:  fileName,
	})
	if err != nil {
		log.Printf("cursor update failed: %v", err)
	}
}

// sendSelection broadcasts the local selection with the active file attached.
func (c *Controller) sendSelection(sel model.Selection) {
	if c.State() != model.SessionStateActive {
		return
	}
	fileName := c.files.ActiveFile()
	if fileName == "" {
		return
	}
	err := c.conn.Send(protocol.EventSelectionUpdate, protocol.SelectionUpdate{
		SessionID: c.cfg.SessionID,
		Selection: sel,
		FileName:  fileName,
	})
	if err != nil {
		log.Printf("selection update failed: %v", err)
	}
}
