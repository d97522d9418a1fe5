// Package presence tracks the live cursor and selection of every other
// participant in the session.
package presence

import (
	"sync"

	"github.com/collabcode/client/internal/model"
)

// State is the last known cursor/selection of one remote participant.
// Each update fully replaces the prior value; there is no ordering token,
// so out-of-order delivery can show a stale cursor until the next update.
type State struct {
	Position  model.Position
	Selection *model.Selection
	FileName  string
}

// Tracker maintains remote participants' presence keyed by participant id.
// The local participant never appears in the map.
type Tracker struct {
	mu      sync.RWMutex
	localID string
	entries map[string]State
}

// NewTracker creates a Tracker that filters out events for localID.
func NewTracker(localID string) *Tracker {
	return &Tracker{
		localID: localID,
		entries: make(map[string]State),
	}
}

// ApplyCursor records a cursor update. Self-originated events are ignored.
func (t *Tracker) ApplyCursor(participantID string, pos model.Position, fileName string) {
	if participantID == "" || participantID == t.localID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entries[participantID]
	entry.Position = pos
	entry.FileName = fileName
	t.entries[participantID] = entry
}

// ApplySelection records a selection update. Self-originated events are
// ignored.
func (t *Tracker) ApplySelection(participantID string, sel model.Selection, fileName string) {
	if participantID == "" || participantID == t.localID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entries[participantID]
	selCopy := sel
	entry.Selection = &selCopy
	entry.FileName = fileName
	t.entries[participantID] = entry
}

// Remove drops the entry for a departed participant.
func (t *Tracker) Remove(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, participantID)
}

// Reset clears all entries, used when session state is replaced wholesale.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]State)
}

// Get returns the presence entry for a participant, if any.
func (t *Tracker) Get(participantID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[participantID]
	return entry, ok
}

// Snapshot returns a copy of all current entries.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.entries))
	for id, entry := range t.entries {
		out[id] = entry
	}
	return out
}

// Count returns the number of tracked remote participants.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
