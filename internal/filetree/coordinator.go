// Package filetree applies and broadcasts structural file operations.
//
// The file list is server-authoritative: the client never mutates its local
// copy directly. Every operation goes out as a request, and the list is
// replaced wholesale when the relay echoes back a file-operation event
// carrying the full new list.
package filetree

import (
	"path"
	"sync"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

// Sender is the outbound side of the relay connection.
type Sender interface {
	Send(event string, payload any) error
}

// Coordinator owns the local copy of the session's file list and the
// active-file designation.
type Coordinator struct {
	sessionID string
	sender    Sender

	mu     sync.RWMutex
	role   model.Role
	files  []model.File
	active string

	// onActiveChange fires (outside the lock) whenever the active file
	// changes as a result of a relay echo or a seed.
	onActiveChange func(name string)
}

// NewCoordinator creates a Coordinator for the session.
func NewCoordinator(sessionID string, sender Sender) *Coordinator {
	return &Coordinator{sessionID: sessionID, sender: sender}
}

// OnActiveChange registers the single active-file observer (the document
// sync engine, via the session controller).
func (c *Coordinator) OnActiveChange(fn func(name string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onActiveChange = fn
}

// SetRole records the locally granted role used to gate mutating requests.
// The relay remains the real authority and re-checks role server-side.
func (c *Coordinator) SetRole(role model.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}

// Seed replaces the file list from a session-joined snapshot and selects
// the first file as active if one exists. The observer is always notified,
// even when the active name is unchanged: a snapshot replaces state
// wholesale, so the document sync context must be re-established too.
func (c *Coordinator) Seed(files []model.File) {
	c.mu.Lock()
	c.files = append([]model.File(nil), files...)
	active := ""
	if len(c.files) > 0 {
		active = c.files[0].Name
	}
	c.active = active
	notify := c.onActiveChange
	c.mu.Unlock()

	if notify != nil {
		notify(active)
	}
}

// Files returns a copy of the current file list.
func (c *Coordinator) Files() []model.File {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.File(nil), c.files...)
}

// Lookup returns the file with the given name, if present.
func (c *Coordinator) Lookup(name string) (model.File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.files {
		if f.Name == name {
			return f, true
		}
	}
	return model.File{}, false
}

// ActiveFile returns the currently open file name, or "".
func (c *Coordinator) ActiveFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// SetActiveFile selects a file the user opened locally. Unknown names are
// ignored.
func (c *Coordinator) SetActiveFile(name string) {
	c.mu.Lock()
	found := false
	for _, f := range c.files {
		if f.Name == name {
			found = true
			break
		}
	}
	if !found || name == c.active {
		c.mu.Unlock()
		return
	}
	c.active = name
	notify := c.onActiveChange
	c.mu.Unlock()

	if notify != nil {
		notify(name)
	}
}

// Create requests a new file. The local list is untouched until the relay
// echoes the operation.
func (c *Coordinator) Create(name, content, dir string) error {
	fileName := name
	if dir != "" {
		fileName = path.Join(dir, name)
	}
	return c.request(protocol.FileOperation{
		SessionID: c.sessionID,
		Operation: protocol.FileOpCreate,
		FileName:  fileName,
		Content:   content,
		Path:      dir,
	})
}

// Delete requests removal of a file.
func (c *Coordinator) Delete(name string) error {
	return c.request(protocol.FileOperation{
		SessionID: c.sessionID,
		Operation: protocol.FileOpDelete,
		FileName:  name,
	})
}

// Rename requests renaming a file.
func (c *Coordinator) Rename(oldName, newName string) error {
	return c.request(protocol.FileOperation{
		SessionID: c.sessionID,
		Operation: protocol.FileOpRename,
		FileName:  oldName,
		NewName:   newName,
	})
}

// Upload requests adding a file with externally supplied content.
func (c *Coordinator) Upload(name, content string) error {
	return c.request(protocol.FileOperation{
		SessionID: c.sessionID,
		Operation: protocol.FileOpUpload,
		FileName:  name,
		Content:   content,
	})
}

func (c *Coordinator) request(op protocol.FileOperation) error {
	c.mu.RLock()
	role := c.role
	c.mu.RUnlock()

	if !role.CanEdit() {
		return model.ErrForbidden
	}
	return c.sender.Send(protocol.EventFileOperation, op)
}

// ApplyOperation adopts a relay-confirmed file operation: the local list is
// replaced with the echoed full list, and the active file is adjusted.
// Deleting the active file reassigns it to the new list's first entry (or
// clears it); a create makes the new file active.
func (c *Coordinator) ApplyOperation(op protocol.FileOperation) {
	c.mu.Lock()
	c.files = append([]model.File(nil), op.Files...)

	prev := c.active
	switch op.Operation {
	case protocol.FileOpCreate:
		c.active = op.FileName
	case protocol.FileOpDelete:
		if op.FileName == c.active {
			c.active = ""
			if len(c.files) > 0 {
				c.active = c.files[0].Name
			}
		}
	case protocol.FileOpRename:
		if op.FileName == c.active {
			c.active = op.NewName
		}
	}

	// The echoed list always wins: if the active name vanished from it for
	// any reason, fall back to the first entry.
	if c.active != "" && !containsFile(c.files, c.active) {
		c.active = ""
		if len(c.files) > 0 {
			c.active = c.files[0].Name
		}
	}

	changed := c.active != prev
	active := c.active
	notify := c.onActiveChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify(active)
	}
}

// Clear drops all file state, used on session leave.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = nil
	c.active = ""
}

func containsFile(files []model.File, name string) bool {
	for _, f := range files {
		if f.Name == name {
			return true
		}
	}
	return false
}
