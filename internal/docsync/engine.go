// Package docsync synchronizes the content of the active file between the
// local editor buffer and the relay.
//
// Local edits are debounced: only the settled buffer content is pushed
// upstream. Inbound state is applied by full replacement. Concurrent edits
// from two participants resolve by last-message-wins overwrite; this is not
// operational transform.
package docsync

import (
	"log"
	"sync"
	"time"

	"github.com/collabcode/client/internal/editor"
	"github.com/collabcode/client/internal/protocol"
)

// DefaultDebounceInterval is how long the editor must be quiet before a
// local edit burst is pushed to the relay.
const DefaultDebounceInterval = 300 * time.Millisecond

// Sender is the outbound side of the relay connection.
type Sender interface {
	Send(event string, payload any) error
}

// Engine drives document synchronization for at most one active file.
type Engine struct {
	sessionID string
	sender    Sender
	buf       editor.Buffer
	cache     *Cache
	interval  time.Duration

	mu         sync.Mutex
	active     string
	lastSynced string

	// synced is false between an active-file switch and the first
	// authoritative content for it (snapshot reply or local push). While
	// false, the buffer may still show the previous file, so autosave must
	// not read it.
	synced   bool
	editable bool
	debounce *time.Timer
	gen      uint64
}

// NewEngine creates an Engine. cache may be nil, in which case updates for
// non-active files are dropped instead of cached.
func NewEngine(sessionID string, sender Sender, buf editor.Buffer, cache *Cache, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &Engine{
		sessionID: sessionID,
		sender:    sender,
		buf:       buf,
		cache:     cache,
		interval:  interval,
	}
}

// SetEditable gates outbound pushes on the local participant's role.
func (e *Engine) SetEditable(editable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editable = editable
}

// ActiveFile returns the file currently under synchronization, or "".
func (e *Engine) ActiveFile() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SetActiveFile switches synchronization to the named file. Any pending
// debounce for the previous file is cancelled before the switch, so no
// update for it can be sent afterward. Cached content, if any, is shown
// immediately; the authoritative snapshot is requested from the relay and
// applied on arrival.
func (e *Engine) SetActiveFile(name string) {
	e.mu.Lock()
	e.cancelDebounceLocked()
	e.active = name
	e.lastSynced = ""
	e.synced = false

	if name == "" {
		e.mu.Unlock()
		return
	}

	if content, ok := e.cache.Get(name); ok {
		e.buf.SetValue(content)
		e.lastSynced = content
	}
	e.mu.Unlock()

	e.requestSnapshot(name)
}

// ClearActive tears down synchronization without selecting a new file.
func (e *Engine) ClearActive() {
	e.SetActiveFile("")
}

// requestSnapshot asks the relay for the authoritative content of a file.
// A DocumentUpdate without content is a read, not a write.
func (e *Engine) requestSnapshot(name string) {
	err := e.sender.Send(protocol.EventDocumentUpdate, protocol.DocumentUpdate{
		SessionID: e.sessionID,
		DocName:   name,
	})
	if err != nil {
		// Keep showing whatever we have; editing is never blocked on the
		// snapshot and local edits go out on the next debounce tick.
		log.Printf("snapshot request for %s failed: %v", name, err)
	}
}

// OnLocalChange notes a local edit. The debounce timer is reset, not
// stacked: within one quiet window only the final settled content is sent.
func (e *Engine) OnLocalChange(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == "" || !e.editable {
		return
	}

	if e.debounce != nil {
		e.debounce.Stop()
	}
	gen := e.gen
	e.debounce = time.AfterFunc(e.interval, func() {
		e.flushDebounced(gen)
	})
}

// flushDebounced runs when the editor has been quiet for the debounce
// interval. The generation check drops timers that outlived an active-file
// switch or a teardown.
func (e *Engine) flushDebounced(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.active == "" {
		e.mu.Unlock()
		return
	}
	name := e.active
	content := e.buf.GetValue()
	e.lastSynced = content
	e.synced = true
	e.mu.Unlock()

	e.push(name, content)
}

// Flush pushes the current buffer content if it differs from the last
// synced value. It reports whether a push happened. The autosave timer
// calls this on its interval. Until the first authoritative content for
// the active file has landed the buffer is not trusted: a delayed
// snapshot must not turn an autosave tick into a push of the previous
// file's content under the new name.
func (e *Engine) Flush() bool {
	e.mu.Lock()
	if e.active == "" || !e.editable || !e.synced {
		e.mu.Unlock()
		return false
	}
	name := e.active
	content := e.buf.GetValue()
	if content == e.lastSynced {
		e.mu.Unlock()
		return false
	}
	e.lastSynced = content
	e.mu.Unlock()

	e.push(name, content)
	return true
}

func (e *Engine) push(name, content string) {
	err := e.sender.Send(protocol.EventDocumentUpdate, protocol.DocumentUpdate{
		SessionID: e.sessionID,
		DocName:   name,
		Content:   &content,
	})
	if err != nil {
		log.Printf("document update for %s failed: %v", name, err)
	}
	if err := e.cache.Put(name, content); err != nil {
		log.Printf("document cache write for %s failed: %v", name, err)
	}
}

// ApplyRemote applies an authoritative document state from the relay.
// Updates for a non-active file only refresh the cache. For the active
// file, content identical to the current buffer is a no-op so an echo of
// one's own edit never disturbs the cursor; otherwise the buffer is
// replaced wholesale and the cursor restored.
func (e *Engine) ApplyRemote(docName, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if docName == "" {
		return
	}

	if docName != e.active {
		if err := e.cache.Put(docName, content); err != nil {
			log.Printf("document cache write for %s failed: %v", docName, err)
		}
		return
	}

	if content == e.buf.GetValue() {
		e.lastSynced = content
		e.synced = true
		return
	}

	pos := e.buf.GetPosition()
	e.buf.SetValue(content)
	e.buf.SetPosition(pos)
	e.lastSynced = content
	e.synced = true

	if err := e.cache.Put(docName, content); err != nil {
		log.Printf("document cache write for %s failed: %v", docName, err)
	}
}

// Forget drops any cached content for a file that no longer exists.
func (e *Engine) Forget(docName string) {
	if err := e.cache.Delete(docName); err != nil {
		log.Printf("document cache delete for %s failed: %v", docName, err)
	}
}

// Stop cancels any pending debounce. Used on session leave.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelDebounceLocked()
	e.active = ""
	e.lastSynced = ""
	e.synced = false
}

func (e *Engine) cancelDebounceLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.gen++
}
