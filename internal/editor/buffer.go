// Package editor abstracts the text editor widget the sync layer drives.
// The real widget lives outside this module; the sync layer only needs the
// value/position surface plus change notifications.
package editor

import (
	"sync"

	"github.com/collabcode/client/internal/model"
)

// Buffer is the opaque editor surface the sync layer talks to.
type Buffer interface {
	GetValue() string
	SetValue(content string)
	GetPosition() model.Position
	SetPosition(pos model.Position)

	// OnChange registers a callback invoked after every local edit with the
	// full new content. Programmatic SetValue calls do not fire it.
	OnChange(fn func(content string))

	// OnCursor registers a callback for local cursor moves.
	OnCursor(fn func(pos model.Position))

	// OnSelection registers a callback for local selection changes.
	OnSelection(fn func(sel model.Selection))
}

// MemoryBuffer is an in-memory Buffer used by the CLI and by tests. Local
// edits go through Edit/MoveCursor/Select, which fire the registered
// callbacks the way a real editor widget would.
type MemoryBuffer struct {
	mu          sync.Mutex
	content     string
	position    model.Position
	onChange    []func(string)
	onCursor    []func(model.Position)
	onSelection []func(model.Selection)
}

// NewMemoryBuffer creates an empty in-memory buffer.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{}
}

// GetValue returns the current buffer content.
func (b *MemoryBuffer) GetValue() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

// SetValue replaces the buffer content without firing change callbacks.
// This is the path remote updates take.
func (b *MemoryBuffer) SetValue(content string) {
	b.mu.Lock()
	b.content = content
	b.mu.Unlock()
}

// GetPosition returns the current cursor position.
func (b *MemoryBuffer) GetPosition() model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// SetPosition moves the cursor without firing cursor callbacks.
func (b *MemoryBuffer) SetPosition(pos model.Position) {
	b.mu.Lock()
	b.position = pos
	b.mu.Unlock()
}

// OnChange registers a local-edit callback.
func (b *MemoryBuffer) OnChange(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// OnCursor registers a local cursor-move callback.
func (b *MemoryBuffer) OnCursor(fn func(model.Position)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCursor = append(b.onCursor, fn)
}

// OnSelection registers a local selection callback.
func (b *MemoryBuffer) OnSelection(fn func(model.Selection)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSelection = append(b.onSelection, fn)
}

// Edit replaces the content as a local edit and fires change callbacks.
func (b *MemoryBuffer) Edit(content string) {
	b.mu.Lock()
	b.content = content
	callbacks := append(([]func(string))(nil), b.onChange...)
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(content)
	}
}

// Append appends text as a local edit, simulating typing.
func (b *MemoryBuffer) Append(text string) {
	b.mu.Lock()
	b.content += text
	content := b.content
	callbacks := append(([]func(string))(nil), b.onChange...)
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(content)
	}
}

// MoveCursor moves the cursor as a local action and fires cursor callbacks.
func (b *MemoryBuffer) MoveCursor(pos model.Position) {
	b.mu.Lock()
	b.position = pos
	callbacks := append(([]func(model.Position))(nil), b.onCursor...)
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(pos)
	}
}

// Select sets a selection as a local action and fires selection callbacks.
func (b *MemoryBuffer) Select(sel model.Selection) {
	b.mu.Lock()
	callbacks := append(([]func(model.Selection))(nil), b.onSelection...)
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(sel)
	}
}
