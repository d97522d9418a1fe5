package docsync

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/collabcode/client/internal/editor"
	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

// fakeSender records outbound document updates.
type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.DocumentUpdate
}

func (f *fakeSender) Send(event string, payload any) error {
	if event != protocol.EventDocumentUpdate {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload.(protocol.DocumentUpdate))
	return nil
}

// pushes returns the content-carrying updates (snapshot requests excluded).
func (f *fakeSender) pushes() []protocol.DocumentUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.DocumentUpdate
	for _, u := range f.sent {
		if !u.IsSnapshotRequest() {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeSender) snapshotRequests() []protocol.DocumentUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.DocumentUpdate
	for _, u := range f.sent {
		if u.IsSnapshotRequest() {
			out = append(out, u)
		}
	}
	return out
}

func newTestEngine(t *testing.T, interval time.Duration) (*Engine, *fakeSender, *editor.MemoryBuffer) {
	t.Helper()
	sender := &fakeSender{}
	buf := editor.NewMemoryBuffer()
	e := NewEngine("s1", sender, buf, nil, interval)
	e.SetEditable(true)
	return e, sender, buf
}

func TestActiveFileSwitchRequestsSnapshot(t *testing.T) {
	e, sender, _ := newTestEngine(t, 20*time.Millisecond)

	e.SetActiveFile("main.js")

	reqs := sender.snapshotRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 snapshot request, got %d", len(reqs))
	}
	if reqs[0].DocName != "main.js" || reqs[0].SessionID != "s1" {
		t.Errorf("unexpected snapshot request: %+v", reqs[0])
	}
}

func TestDebounceCoalescesEdits(t *testing.T) {
	e, sender, buf := newTestEngine(t, 30*time.Millisecond)
	e.SetActiveFile("main.js")

	// Three keystrokes inside one debounce window produce exactly one
	// update carrying the settled content.
	for _, content := range []string{"x", "xy", "xyz"} {
		buf.SetValue(content)
		e.OnLocalChange(content)
	}

	time.Sleep(120 * time.Millisecond)

	pushes := sender.pushes()
	if len(pushes) != 1 {
		t.Fatalf("expected exactly 1 document update, got %d", len(pushes))
	}
	if !strings.HasSuffix(*pushes[0].Content, "xyz") {
		t.Errorf("expected settled content ending in xyz, got %q", *pushes[0].Content)
	}
}

func TestSwitchCancelsPendingDebounce(t *testing.T) {
	e, sender, buf := newTestEngine(t, 30*time.Millisecond)
	e.SetActiveFile("a.js")

	buf.SetValue("draft for a")
	e.OnLocalChange("draft for a")

	// Switch before the debounce fires: no update for a.js may be sent
	// after the switch.
	e.SetActiveFile("b.js")

	time.Sleep(120 * time.Millisecond)

	for _, u := range sender.pushes() {
		if u.DocName == "a.js" {
			t.Fatalf("update for a.js sent after switching away: %+v", u)
		}
	}
}

func TestViewerEditsAreNotPushed(t *testing.T) {
	e, sender, buf := newTestEngine(t, 20*time.Millisecond)
	e.SetActiveFile("main.js")
	e.SetEditable(false)

	buf.SetValue("sneaky")
	e.OnLocalChange("sneaky")

	time.Sleep(80 * time.Millisecond)

	if len(sender.pushes()) != 0 {
		t.Errorf("viewer edit was pushed upstream")
	}
}

func TestApplyRemoteIdenticalContentKeepsCursor(t *testing.T) {
	e, _, buf := newTestEngine(t, 20*time.Millisecond)
	e.SetActiveFile("main.js")

	buf.SetValue("hello")
	pos := model.Position{Line: 1, Column: 5}
	buf.SetPosition(pos)

	// An echo of one's own edit must not disturb an in-progress keystroke.
	e.ApplyRemote("main.js", "hello")

	if buf.GetPosition() != pos {
		t.Errorf("cursor moved on idempotent apply: %+v", buf.GetPosition())
	}
	if buf.GetValue() != "hello" {
		t.Errorf("content changed on idempotent apply: %q", buf.GetValue())
	}
}

func TestApplyRemoteReplacesAndRestoresCursor(t *testing.T) {
	e, _, buf := newTestEngine(t, 20*time.Millisecond)
	e.SetActiveFile("main.js")

	buf.SetValue("old")
	pos := model.Position{Line: 2, Column: 3}
	buf.SetPosition(pos)

	e.ApplyRemote("main.js", "brand new content")

	if buf.GetValue() != "brand new content" {
		t.Errorf("remote content not applied: %q", buf.GetValue())
	}
	if buf.GetPosition() != pos {
		t.Errorf("cursor not restored after replace: %+v", buf.GetPosition())
	}
}

func TestApplyRemoteNonActiveLeavesEditorAlone(t *testing.T) {
	e, _, buf := newTestEngine(t, 20*time.Millisecond)
	e.SetActiveFile("main.js")
	buf.SetValue("editing this")

	e.ApplyRemote("other.js", "background update")

	if buf.GetValue() != "editing this" {
		t.Errorf("update for non-active file touched the editor: %q", buf.GetValue())
	}
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	e, sender, buf := newTestEngine(t, 20*time.Millisecond)
	e.SetActiveFile("main.js")

	e.ApplyRemote("main.js", "synced")
	if e.Flush() {
		t.Error("flush pushed although content matches last synced value")
	}

	buf.SetValue("synced plus more")
	if !e.Flush() {
		t.Error("flush skipped dirty content")
	}

	pushes := sender.pushes()
	if len(pushes) != 1 || *pushes[0].Content != "synced plus more" {
		t.Errorf("unexpected flush output: %+v", pushes)
	}
}

func TestFlushAfterSwitchWaitsForSnapshot(t *testing.T) {
	e, sender, buf := newTestEngine(t, 20*time.Millisecond)
	e.SetActiveFile("a.js")
	e.ApplyRemote("a.js", "content of a")

	// Switch to a file with no cached copy: the buffer still shows a.js
	// until the snapshot reply lands. An autosave tick in that window must
	// not push a's content under b's name.
	e.SetActiveFile("b.js")

	if e.Flush() {
		t.Error("flush pushed before any authoritative content for b.js")
	}
	for _, u := range sender.pushes() {
		if u.DocName == "b.js" {
			t.Fatalf("stale buffer content pushed as b.js: %q", *u.Content)
		}
	}

	// Once the snapshot arrives, autosave works as usual.
	e.ApplyRemote("b.js", "content of b")
	buf.SetValue("content of b, edited")
	if !e.Flush() {
		t.Error("flush skipped dirty content after the snapshot")
	}
	pushes := sender.pushes()
	if len(pushes) != 1 || pushes[0].DocName != "b.js" || *pushes[0].Content != "content of b, edited" {
		t.Errorf("unexpected flush output: %+v", pushes)
	}
}

func TestNonActiveUpdatesGoToCache(t *testing.T) {
	cache, err := OpenCache(t.TempDir() + "/docs.cache")
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer cache.Close()

	sender := &fakeSender{}
	buf := editor.NewMemoryBuffer()
	e := NewEngine("s1", sender, buf, cache, 20*time.Millisecond)
	e.SetEditable(true)
	e.SetActiveFile("main.js")

	e.ApplyRemote("background.js", "cached content")

	if got, ok := cache.Get("background.js"); !ok || got != "cached content" {
		t.Errorf("non-active update not cached: %q %v", got, ok)
	}

	// Switching to the cached file shows the cached content immediately.
	e.SetActiveFile("background.js")
	if buf.GetValue() != "cached content" {
		t.Errorf("cached content not applied on switch: %q", buf.GetValue())
	}
}

// For any burst of edits within one debounce window, only the last content
// value is transmitted.
func TestDebounceCoalescingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("only the settled content is sent", prop.ForAll(
		func(edits []string) bool {
			if len(edits) == 0 {
				return true
			}

			sender := &fakeSender{}
			buf := editor.NewMemoryBuffer()
			e := NewEngine("s1", sender, buf, nil, 10*time.Millisecond)
			e.SetEditable(true)
			e.SetActiveFile("f.js")

			for _, content := range edits {
				buf.SetValue(content)
				e.OnLocalChange(content)
			}

			deadline := time.Now().Add(500 * time.Millisecond)
			for time.Now().Before(deadline) {
				if len(sender.pushes()) > 0 {
					break
				}
				time.Sleep(2 * time.Millisecond)
			}

			pushes := sender.pushes()
			return len(pushes) == 1 && *pushes[0].Content == edits[len(edits)-1]
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
