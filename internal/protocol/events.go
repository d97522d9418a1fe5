// Package protocol defines the relay event contract: event names and the
// JSON payloads exchanged over the per-session connection.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/collabcode/client/internal/model"
)

// Event names produced by the client.
const (
	EventJoinSession     = "join-session"
	EventCursorUpdate    = "cursor-update"
	EventSelectionUpdate = "selection-update"
	EventDocumentUpdate  = "document-update"
	EventFileOperation   = "file-operation"
	EventExecuteCode     = "execute-code"
	EventTerminalCommand = "terminal-command"
	EventChatMessage     = "chat-message"
)

// Event names consumed from the relay. Chat messages and file operations use
// the same name in both directions; the relay's echo is the authoritative
// copy.
const (
	EventSessionJoined       = "session-joined"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventCursorUpdated       = "cursor-updated"
	EventSelectionUpdated    = "selection-updated"
	EventDocumentState       = "document-state"
	EventCodeExecutionResult = "code-execution-result"
	EventTerminalResponse    = "terminal-response"
	EventError               = "error"
)

// Envelope is the framing for every message on the wire: an event name and
// the event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload into an Envelope and marshals it.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// JoinRequest enters a session, carrying the caller's identity and the role
// it asks for. The granted role arrives in SessionJoined and may differ.
type JoinRequest struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
	Role      model.Role `json:"role"`
}

// SessionJoined is the initial snapshot sent to a joining client.
type SessionJoined struct {
	SessionID   string              `json:"sessionId"`
	SessionName string              `json:"sessionName,omitempty"`
	OwnerID     string              `json:"ownerId,omitempty"`
	Language    string              `json:"language,omitempty"`
	Users       []model.Participant `json:"users"`
	Files       []model.File        `json:"files"`
	Role        model.Role          `json:"role"`
	ChatHistory []model.ChatMessage `json:"chatHistory"`
}

// UserJoined announces a new participant.
type UserJoined struct {
	User model.Participant `json:"user"`
}

// UserLeft announces a departed participant.
type UserLeft struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// CursorUpdate carries one participant's cursor. Outbound the relay fills in
// UserID from the connection; inbound it identifies the originator.
type CursorUpdate struct {
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Position  model.Position `json:"position"`
	FileName  string         `json:"fileName"`
}

// SelectionUpdate carries one participant's selection range.
type SelectionUpdate struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId,omitempty"`
	Selection model.Selection `json:"selection"`
	FileName  string          `json:"fileName"`
}

// DocumentUpdate pushes the full buffer content of one document. When
// Content is nil the message is a snapshot request: the relay answers with a
// DocumentState for DocName without recording any change.
type DocumentUpdate struct {
	SessionID string  `json:"sessionId"`
	DocName   string  `json:"docName"`
	Content   *string `json:"content,omitempty"`
}

// IsSnapshotRequest reports whether the update carries no content and only
// asks for the authoritative state of DocName.
func (d DocumentUpdate) IsSnapshotRequest() bool {
	return d.Content == nil
}

// DocumentState is the relay's authoritative content for one document.
type DocumentState struct {
	SessionID string `json:"sessionId"`
	DocName   string `json:"docName"`
	Content   string `json:"content"`
	Language  string `json:"language,omitempty"`
}

// FileOperationKind enumerates structural file operations.
type FileOperationKind string

const (
	FileOpCreate FileOperationKind = "create"
	FileOpDelete FileOperationKind = "delete"
	FileOpRename FileOperationKind = "rename"
	FileOpUpload FileOperationKind = "upload"
)

// FileOperation is both the client's structural request and the relay's
// echo. The request leaves Files nil; the echo carries the full new file
// list, which the client adopts wholesale.
type FileOperation struct {
	SessionID string            `json:"sessionId"`
	Operation FileOperationKind `json:"operation"`
	FileName  string            `json:"fileName"`
	NewName   string            `json:"newName,omitempty"`
	Content   string            `json:"content,omitempty"`
	Path      string            `json:"path,omitempty"`
	Files     []model.File      `json:"files,omitempty"`
}

// ExecuteCode asks the runner to execute code.
type ExecuteCode struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	FileName  string `json:"fileName,omitempty"`
}

// CodeExecutionResult carries the runner's output.
type CodeExecutionResult struct {
	Output model.ExecutionResult `json:"output"`
}

// TerminalCommand forwards a shell command to the runner.
type TerminalCommand struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

// TerminalResponse is the runner's reply to a TerminalCommand.
type TerminalResponse struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command,omitempty"`
	Output    string `json:"output"`
	ExitCode  int    `json:"exitCode"`
}

// ChatMessage is a chat line. The sender waits for the relay's echo before
// appending anything locally, so the relay is the single ordering source.
type ChatMessage struct {
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Error is a relay-reported failure.
type Error struct {
	Message string `json:"message"`
}
