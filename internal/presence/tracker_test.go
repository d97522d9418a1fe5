package presence

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/collabcode/client/internal/model"
)

func TestTrackerFiltersLocalParticipant(t *testing.T) {
	tracker := NewTracker("local-user")

	tracker.ApplyCursor("local-user", model.Position{Line: 1, Column: 1}, "main.js")
	tracker.ApplySelection("local-user", model.Selection{StartLine: 1, EndLine: 2}, "main.js")

	if tracker.Count() != 0 {
		t.Errorf("expected no entries after self-originated events, got %d", tracker.Count())
	}

	tracker.ApplyCursor("other-user", model.Position{Line: 3, Column: 4}, "main.js")
	if _, ok := tracker.Get("local-user"); ok {
		t.Error("tracker must never contain the local participant")
	}
	if _, ok := tracker.Get("other-user"); !ok {
		t.Error("remote participant entry missing")
	}
}

func TestTrackerLastWriteWins(t *testing.T) {
	tracker := NewTracker("me")

	// P2 arrives first, then a "late" P1: the last received value wins
	// because there is no ordering token. Documented limitation.
	p2 := model.Position{Line: 20, Column: 2}
	p1 := model.Position{Line: 1, Column: 1}

	tracker.ApplyCursor("u1", p2, "main.js")
	tracker.ApplyCursor("u1", p1, "main.js")

	entry, ok := tracker.Get("u1")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Position != p1 {
		t.Errorf("expected last received position %+v, got %+v", p1, entry.Position)
	}
}

func TestTrackerSelectionKeepsCursor(t *testing.T) {
	tracker := NewTracker("me")

	pos := model.Position{Line: 5, Column: 9}
	sel := model.Selection{StartLine: 5, StartColumn: 1, EndLine: 5, EndColumn: 9}

	tracker.ApplyCursor("u1", pos, "a.js")
	tracker.ApplySelection("u1", sel, "a.js")

	entry, _ := tracker.Get("u1")
	if entry.Position != pos {
		t.Errorf("selection update clobbered cursor: %+v", entry.Position)
	}
	if entry.Selection == nil || *entry.Selection != sel {
		t.Errorf("selection not recorded: %+v", entry.Selection)
	}
}

func TestTrackerRemove(t *testing.T) {
	tracker := NewTracker("me")
	tracker.ApplyCursor("u1", model.Position{Line: 1}, "a.js")
	tracker.ApplyCursor("u2", model.Position{Line: 2}, "a.js")

	tracker.Remove("u1")

	if _, ok := tracker.Get("u1"); ok {
		t.Error("removed participant still present")
	}
	if tracker.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", tracker.Count())
	}

	tracker.Reset()
	if tracker.Count() != 0 {
		t.Errorf("expected empty tracker after reset, got %d", tracker.Count())
	}
}

// For any sequence of cursor events, the tracker never contains the local
// participant id and every other id maps to its last received position.
func TestTrackerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("no local entry, last write wins", prop.ForAll(
		func(userIdxs []int, lines []int) bool {
			tracker := NewTracker("user-0")

			n := len(userIdxs)
			if len(lines) < n {
				n = len(lines)
			}

			want := make(map[string]int)
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("user-%d", userIdxs[i]%5)
				tracker.ApplyCursor(id, model.Position{Line: lines[i]}, "f.js")
				if id != "user-0" {
					want[id] = lines[i]
				}
			}

			if _, ok := tracker.Get("user-0"); ok {
				return false
			}
			for id, line := range want {
				entry, ok := tracker.Get(id)
				if !ok || entry.Position.Line != line {
					return false
				}
			}
			return tracker.Count() == len(want)
		},
		gen.SliceOf(gen.IntRange(0, 4)),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
