// Package relaytest implements an in-process relay speaking the session
// event contract, used by integration tests. It keeps per-session rooms
// with participant, file, document, and chat state and fans events out to
// all members the way the real relay does.
package relaytest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// member is one connected client within a room.
type member struct {
	participant model.Participant
	conn        *websocket.Conn
	writeMu     sync.Mutex
}

func (m *member) write(event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// room is the authoritative state of one session.
type room struct {
	files      []model.File
	chat       []model.ChatMessage
	members    map[string]*member
	nextChatID int64
}

// Relay is the fake relay server.
type Relay struct {
	server *httptest.Server

	mu          sync.Mutex
	rooms       map[string]*room
	rejectJoins string // when non-empty, joins are answered with this error
}

// New starts a fake relay on an httptest server.
func New() *Relay {
	r := &Relay{rooms: make(map[string]*room)}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		go r.serveConn(conn)
	})

	r.server = httptest.NewServer(engine)
	return r
}

// URL returns the websocket endpoint clients should dial.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

// Close shuts the relay down.
func (r *Relay) Close() {
	r.mu.Lock()
	for _, rm := range r.rooms {
		for _, m := range rm.members {
			m.conn.Close()
		}
	}
	r.mu.Unlock()
	r.server.Close()
}

// SeedFiles sets the initial file list for a session before any client
// joins.
func (r *Relay) SeedFiles(sessionID string, files []model.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.roomLocked(sessionID)
	rm.files = append([]model.File(nil), files...)
}

// RejectJoins makes the relay answer every join with an error event
// carrying the message. Pass "" to accept joins again.
func (r *Relay) RejectJoins(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejectJoins = message
}

// DropConnections severs every member's transport without removing the
// room state, simulating a network drop. Clients are expected to reconnect
// and re-join.
func (r *Relay) DropConnections(sessionID string) {
	r.mu.Lock()
	rm := r.rooms[sessionID]
	var conns []*websocket.Conn
	if rm != nil {
		for _, m := range rm.members {
			conns = append(conns, m.conn)
		}
		rm.members = make(map[string]*member)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Emit sends an arbitrary event to every member of a session. Tests use
// this to inject relay-originated events such as errors or out-of-order
// presence updates.
func (r *Relay) Emit(sessionID, event string, payload any) {
	r.mu.Lock()
	rm := r.rooms[sessionID]
	var members []*member
	if rm != nil {
		for _, m := range rm.members {
			members = append(members, m)
		}
	}
	r.mu.Unlock()

	for _, m := range members {
		if err := m.write(event, payload); err != nil {
			log.Printf("relaytest emit failed: %v", err)
		}
	}
}

// MemberCount returns the number of connected members in a session.
func (r *Relay) MemberCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[sessionID]
	if rm == nil {
		return 0
	}
	return len(rm.members)
}

// FileContent returns the relay's authoritative content for a file.
func (r *Relay) FileContent(sessionID, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[sessionID]
	if rm == nil {
		return "", false
	}
	for _, f := range rm.files {
		if f.Name == name {
			return f.Content, true
		}
	}
	return "", false
}

func (r *Relay) roomLocked(sessionID string) *room {
	rm, ok := r.rooms[sessionID]
	if !ok {
		rm = &room{members: make(map[string]*member)}
		r.rooms[sessionID] = rm
	}
	return rm
}

// serveConn reads envelopes from one connection until it drops. The first
// message must be a join-session.
func (r *Relay) serveConn(conn *websocket.Conn) {
	var sessionID, userID string

	defer func() {
		conn.Close()
		if sessionID == "" || userID == "" {
			return
		}
		r.mu.Lock()
		rm := r.rooms[sessionID]
		var m *member
		if rm != nil {
			m = rm.members[userID]
			if m != nil && m.conn == conn {
				delete(rm.members, userID)
			} else {
				m = nil
			}
		}
		r.mu.Unlock()
		if m != nil {
			r.broadcast(sessionID, "", protocol.EventUserLeft, protocol.UserLeft{
				UserID:   m.participant.ID,
				UserName: m.participant.Name,
			})
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Event {
		case protocol.EventJoinSession:
			var req protocol.JoinRequest
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			sessionID, userID = req.SessionID, req.UserID
			r.handleJoin(conn, req)
		case protocol.EventDocumentUpdate:
			var req protocol.DocumentUpdate
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			r.handleDocumentUpdate(userID, req)
		case protocol.EventCursorUpdate:
			var req protocol.CursorUpdate
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			req.UserID = userID
			r.broadcast(req.SessionID, userID, protocol.EventCursorUpdated, req)
		case protocol.EventSelectionUpdate:
			var req protocol.SelectionUpdate
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			req.UserID = userID
			r.broadcast(req.SessionID, userID, protocol.EventSelectionUpdated, req)
		case protocol.EventFileOperation:
			var req protocol.FileOperation
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			r.handleFileOperation(req)
		case protocol.EventChatMessage:
			var req protocol.ChatMessage
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			r.handleChat(req)
		case protocol.EventTerminalCommand:
			var req protocol.TerminalCommand
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			r.replyTo(req.SessionID, userID, protocol.EventTerminalResponse, protocol.TerminalResponse{
				SessionID: req.SessionID,
				Command:   req.Command,
				Output:    fmt.Sprintf("ran: %s", req.Command),
				ExitCode:  0,
			})
		case protocol.EventExecuteCode:
			var req protocol.ExecuteCode
			if err := json.Unmarshal(env.Data, &req); err != nil {
				continue
			}
			r.replyTo(req.SessionID, userID, protocol.EventCodeExecutionResult, protocol.CodeExecutionResult{
				Output: model.ExecutionResult{Stdout: fmt.Sprintf("executed %d bytes of %s", len(req.Code), req.Language)},
			})
		}
	}
}

func (r *Relay) handleJoin(conn *websocket.Conn, req protocol.JoinRequest) {
	r.mu.Lock()
	if r.rejectJoins != "" {
		message := r.rejectJoins
		r.mu.Unlock()
		m := &member{conn: conn}
		m.write(protocol.EventError, protocol.Error{Message: message})
		return
	}

	rm := r.roomLocked(req.SessionID)

	role := req.Role
	if !role.Valid() {
		role = model.RoleViewer
	}
	// First member in an empty room owns it.
	if len(rm.members) == 0 && role != model.RoleViewer {
		role = model.RoleOwner
	}

	m := &member{
		participant: model.Participant{ID: req.UserID, Name: req.UserName, Role: role},
		conn:        conn,
	}
	rm.members[req.UserID] = m

	users := make([]model.Participant, 0, len(rm.members))
	for _, mem := range rm.members {
		users = append(users, mem.participant)
	}
	files := append([]model.File(nil), rm.files...)
	chat := append([]model.ChatMessage(nil), rm.chat...)
	r.mu.Unlock()

	m.write(protocol.EventSessionJoined, protocol.SessionJoined{
		SessionID:   req.SessionID,
		Users:       users,
		Files:       files,
		Role:        role,
		ChatHistory: chat,
	})

	r.broadcast(req.SessionID, req.UserID, protocol.EventUserJoined, protocol.UserJoined{
		User: m.participant,
	})
}

// handleDocumentUpdate answers snapshot requests and applies content pushes.
// Content pushes are rebroadcast as document-state to every other member;
// the echo back to the sender is suppressed the way a debounce-heavy client
// expects.
func (r *Relay) handleDocumentUpdate(userID string, req protocol.DocumentUpdate) {
	if req.IsSnapshotRequest() {
		r.mu.Lock()
		rm := r.rooms[req.SessionID]
		var content string
		if rm != nil {
			for _, f := range rm.files {
				if f.Name == req.DocName {
					content = f.Content
					break
				}
			}
		}
		r.mu.Unlock()

		r.replyTo(req.SessionID, userID, protocol.EventDocumentState, protocol.DocumentState{
			SessionID: req.SessionID,
			DocName:   req.DocName,
			Content:   content,
		})
		return
	}

	r.mu.Lock()
	rm := r.rooms[req.SessionID]
	if rm != nil {
		for i := range rm.files {
			if rm.files[i].Name == req.DocName {
				rm.files[i].Content = *req.Content
				break
			}
		}
	}
	r.mu.Unlock()

	r.broadcast(req.SessionID, userID, protocol.EventDocumentState, protocol.DocumentState{
		SessionID: req.SessionID,
		DocName:   req.DocName,
		Content:   *req.Content,
	})
}

func (r *Relay) handleFileOperation(req protocol.FileOperation) {
	r.mu.Lock()
	rm := r.roomLocked(req.SessionID)

	switch req.Operation {
	case protocol.FileOpCreate, protocol.FileOpUpload:
		exists := false
		for _, f := range rm.files {
			if f.Name == req.FileName {
				exists = true
				break
			}
		}
		if !exists {
			rm.files = append(rm.files, model.File{Name: req.FileName, Content: req.Content})
		}
	case protocol.FileOpDelete:
		files := rm.files[:0]
		for _, f := range rm.files {
			if f.Name != req.FileName {
				files = append(files, f)
			}
		}
		rm.files = files
	case protocol.FileOpRename:
		for i := range rm.files {
			if rm.files[i].Name == req.FileName {
				rm.files[i].Name = req.NewName
				break
			}
		}
	}

	echo := req
	echo.Files = append([]model.File(nil), rm.files...)
	r.mu.Unlock()

	// Every member, the requester included, adopts the echoed list.
	r.broadcast(req.SessionID, "", protocol.EventFileOperation, echo)
}

func (r *Relay) handleChat(req protocol.ChatMessage) {
	r.mu.Lock()
	rm := r.roomLocked(req.SessionID)
	rm.nextChatID++
	req.Timestamp = time.Now()
	rm.chat = append(rm.chat, model.ChatMessage{
		ID:        rm.nextChatID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Text:      req.Message,
		Timestamp: req.Timestamp,
	})
	r.mu.Unlock()

	// The sender also waits for this echo; it is the single ordering
	// source.
	r.broadcast(req.SessionID, "", protocol.EventChatMessage, req)
}

// broadcast sends an event to every member of the session except exceptID
// (pass "" to include everyone).
func (r *Relay) broadcast(sessionID, exceptID, event string, payload any) {
	r.mu.Lock()
	rm := r.rooms[sessionID]
	var members []*member
	if rm != nil {
		for id, m := range rm.members {
			if id == exceptID {
				continue
			}
			members = append(members, m)
		}
	}
	r.mu.Unlock()

	for _, m := range members {
		if err := m.write(event, payload); err != nil {
			log.Printf("relaytest broadcast failed: %v", err)
		}
	}
}

// replyTo sends an event to a single member.
func (r *Relay) replyTo(sessionID, userID, event string, payload any) {
	r.mu.Lock()
	rm := r.rooms[sessionID]
	var m *member
	if rm != nil {
		m = rm.members[userID]
	}
	r.mu.Unlock()

	if m == nil {
		return
	}
	if err := m.write(event, payload); err != nil {
		log.Printf("relaytest reply failed: %v", err)
	}
}
