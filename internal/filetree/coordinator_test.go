package filetree

import (
	"errors"
	"sync"
	"testing"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.FileOperation
}

func (f *fakeSender) Send(event string, payload any) error {
	if event != protocol.EventFileOperation {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload.(protocol.FileOperation))
	return nil
}

func (f *fakeSender) requests() []protocol.FileOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.FileOperation(nil), f.sent...)
}

func newTestCoordinator(role model.Role) (*Coordinator, *fakeSender) {
	sender := &fakeSender{}
	c := NewCoordinator("s1", sender)
	c.SetRole(role)
	return c, sender
}

func TestSeedSelectsFirstFile(t *testing.T) {
	c, _ := newTestCoordinator(model.RoleEditor)

	var activeChanges []string
	c.OnActiveChange(func(name string) { activeChanges = append(activeChanges, name) })

	c.Seed([]model.File{{Name: "main.js"}, {Name: "util.js"}})

	if c.ActiveFile() != "main.js" {
		t.Errorf("expected first file active, got %q", c.ActiveFile())
	}
	if len(activeChanges) != 1 || activeChanges[0] != "main.js" {
		t.Errorf("unexpected active-change notifications: %v", activeChanges)
	}
}

func TestRequestsDoNotMutateLocally(t *testing.T) {
	c, sender := newTestCoordinator(model.RoleEditor)
	c.Seed([]model.File{{Name: "main.js"}})

	if err := c.Create("new.js", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Delete("main.js"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The local list only changes when the relay echoes the operation.
	if len(c.Files()) != 1 {
		t.Errorf("local file list mutated before relay echo: %v", c.Files())
	}
	if len(sender.requests()) != 2 {
		t.Errorf("expected 2 outbound requests, got %d", len(sender.requests()))
	}
}

func TestViewerCannotMutate(t *testing.T) {
	c, sender := newTestCoordinator(model.RoleViewer)
	c.Seed([]model.File{{Name: "main.js"}})

	for name, op := range map[string]func() error{
		"create": func() error { return c.Create("x.js", "", "") },
		"delete": func() error { return c.Delete("main.js") },
		"rename": func() error { return c.Rename("main.js", "y.js") },
		"upload": func() error { return c.Upload("z.js", "data") },
	} {
		if err := op(); !errors.Is(err, model.ErrForbidden) {
			t.Errorf("%s as viewer: expected ErrForbidden, got %v", name, err)
		}
	}

	if len(sender.requests()) != 0 {
		t.Errorf("viewer requests reached the relay: %v", sender.requests())
	}
}

func TestApplyDeleteOfActiveFile(t *testing.T) {
	c, _ := newTestCoordinator(model.RoleOwner)
	c.Seed([]model.File{{Name: "main.js"}})

	c.ApplyOperation(protocol.FileOperation{
		SessionID: "s1",
		Operation: protocol.FileOpDelete,
		FileName:  "main.js",
		Files:     []model.File{},
	})

	if c.ActiveFile() != "" {
		t.Errorf("active file not cleared after deleting it, got %q", c.ActiveFile())
	}
	if len(c.Files()) != 0 {
		t.Errorf("file list not replaced by echo: %v", c.Files())
	}
}

func TestApplyDeleteReassignsToFirstRemaining(t *testing.T) {
	c, _ := newTestCoordinator(model.RoleOwner)
	c.Seed([]model.File{{Name: "a.js"}, {Name: "b.js"}})

	c.ApplyOperation(protocol.FileOperation{
		Operation: protocol.FileOpDelete,
		FileName:  "a.js",
		Files:     []model.File{{Name: "b.js"}},
	})

	if c.ActiveFile() != "b.js" {
		t.Errorf("expected reassignment to b.js, got %q", c.ActiveFile())
	}
}

func TestApplyCreateActivatesNewFile(t *testing.T) {
	c, _ := newTestCoordinator(model.RoleEditor)
	c.Seed([]model.File{{Name: "a.js"}})

	var lastActive string
	c.OnActiveChange(func(name string) { lastActive = name })

	c.ApplyOperation(protocol.FileOperation{
		Operation: protocol.FileOpCreate,
		FileName:  "fresh.js",
		Files:     []model.File{{Name: "a.js"}, {Name: "fresh.js"}},
	})

	if c.ActiveFile() != "fresh.js" {
		t.Errorf("created file not active, got %q", c.ActiveFile())
	}
	if lastActive != "fresh.js" {
		t.Errorf("active-change observer not notified, got %q", lastActive)
	}
}

func TestApplyRenameFollowsActiveFile(t *testing.T) {
	c, _ := newTestCoordinator(model.RoleEditor)
	c.Seed([]model.File{{Name: "old.js"}})

	c.ApplyOperation(protocol.FileOperation{
		Operation: protocol.FileOpRename,
		FileName:  "old.js",
		NewName:   "new.js",
		Files:     []model.File{{Name: "new.js"}},
	})

	if c.ActiveFile() != "new.js" {
		t.Errorf("active file did not follow rename, got %q", c.ActiveFile())
	}
}

func TestCreateJoinsPath(t *testing.T) {
	c, sender := newTestCoordinator(model.RoleEditor)

	if err := c.Create("helper.js", "x", "lib"); err != nil {
		t.Fatalf("create: %v", err)
	}

	reqs := sender.requests()
	if len(reqs) != 1 || reqs[0].FileName != "lib/helper.js" {
		t.Errorf("expected path-qualified name lib/helper.js, got %+v", reqs)
	}
}
