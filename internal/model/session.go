// Package model defines the core domain types for a collaborative session.
package model

import (
	"strings"
	"time"
)

// Role is the permission level of a participant within a session.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanEdit reports whether the role allows mutating operations
// (document edits, file create/delete/rename/upload).
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// SessionState represents the client-side lifecycle of a session membership.
type SessionState string

const (
	SessionStateJoining SessionState = "joining"
	SessionStateActive  SessionState = "active"
	SessionStateLeft    SessionState = "left"
	SessionStateFailed  SessionState = "failed"
)

// Session represents one shared collaborative workspace as seen by this client.
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	OwnerID      string        `json:"ownerId,omitempty"`
	Language     string        `json:"language,omitempty"`
	Participants []Participant `json:"participants"`
	State        SessionState  `json:"state"`
}

// Participant is one connected user within a session.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// File is one entry in the session's flat, server-authoritative file list.
type File struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Dir returns the directory portion of the file's path, or "" for a
// top-level file. Directory structure is a derived view over Name, not a
// primary entity.
func (f File) Dir() string {
	idx := strings.LastIndex(f.Name, "/")
	if idx < 0 {
		return ""
	}
	return f.Name[:idx]
}

// Base returns the file name without any leading path.
func (f File) Base() string {
	idx := strings.LastIndex(f.Name, "/")
	if idx < 0 {
		return f.Name
	}
	return f.Name[idx+1:]
}

// Position is a cursor location within a document.
type Position struct {
	Line   int `json:"lineNumber"`
	Column int `json:"column"`
}

// Selection is a contiguous range within a document.
type Selection struct {
	StartLine   int `json:"startLineNumber"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLineNumber"`
	EndColumn   int `json:"endColumn"`
}

// ChatMessage is one entry in the session's append-only chat transcript.
type ChatMessage struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsSystem  bool      `json:"isSystem,omitempty"`
}

// TerminalEntryKind discriminates entries in the terminal log.
type TerminalEntryKind string

const (
	TerminalEntryCommand   TerminalEntryKind = "command"
	TerminalEntryOutput    TerminalEntryKind = "output"
	TerminalEntryBroadcast TerminalEntryKind = "broadcast"
)

// TerminalEntry is one entry in the session's ordered, append-only terminal log.
type TerminalEntry struct {
	Kind      TerminalEntryKind `json:"kind"`
	Text      string            `json:"text"`
	Command   string            `json:"command,omitempty"`
	ExitCode  *int              `json:"exitCode,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ExecutionResult is the outcome of an execute-code request.
type ExecutionResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}
