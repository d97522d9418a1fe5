package history

import (
	"context"
	"testing"
	"time"

	"github.com/collabcode/client/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestChatAppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	msgs := []model.ChatMessage{
		{ID: 1, UserID: "u1", UserName: "Ada", Text: "hello", Timestamp: time.Now().UTC()},
		{ID: 2, UserID: "u2", UserName: "Bob", Text: "hi", Timestamp: time.Now().UTC()},
		{ID: 3, UserName: "", Text: "Bob joined the session", Timestamp: time.Now().UTC(), IsSystem: true},
	}
	for _, msg := range msgs {
		if err := store.AppendChat(ctx, "s1", msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.ListChat(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Text != "hello" || got[1].Text != "hi" {
		t.Errorf("messages out of order: %v", got)
	}
	if !got[2].IsSystem {
		t.Errorf("system flag lost: %+v", got[2])
	}
}

func TestChatAppendIsIdempotentPerID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	msg := model.ChatMessage{ID: 7, UserID: "u1", UserName: "Ada", Text: "once", Timestamp: time.Now().UTC()}

	// Replaying a relay snapshot re-appends the same ids; that must not
	// duplicate rows.
	for i := 0; i < 3; i++ {
		if err := store.AppendChat(ctx, "s1", msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := store.ListChat(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 message after replay, got %d", len(got))
	}
}

func TestChatIsolatedPerSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.AppendChat(ctx, "s1", model.ChatMessage{ID: 1, UserName: "Ada", Text: "in s1", Timestamp: time.Now().UTC()})
	store.AppendChat(ctx, "s2", model.ChatMessage{ID: 1, UserName: "Bob", Text: "in s2", Timestamp: time.Now().UTC()})

	got, err := store.ListChat(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Text != "in s1" {
		t.Errorf("session isolation broken: %v", got)
	}
}

func TestTerminalAppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	code := 1
	entries := []model.TerminalEntry{
		{Kind: model.TerminalEntryCommand, Text: "ls", Timestamp: time.Now().UTC()},
		{Kind: model.TerminalEntryOutput, Text: "main.js", Command: "ls", ExitCode: &code, Timestamp: time.Now().UTC()},
		{Kind: model.TerminalEntryBroadcast, Text: "runner restarted", Timestamp: time.Now().UTC()},
	}
	for _, entry := range entries {
		if err := store.AppendTerminal(ctx, "s1", entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.ListTerminal(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Kind != model.TerminalEntryCommand || got[0].Text != "ls" {
		t.Errorf("command entry wrong: %+v", got[0])
	}
	if got[1].ExitCode == nil || *got[1].ExitCode != 1 {
		t.Errorf("exit code lost: %+v", got[1])
	}
	if got[1].Command != "ls" {
		t.Errorf("originating command lost: %+v", got[1])
	}
	if got[2].ExitCode != nil {
		t.Errorf("broadcast entry grew an exit code: %+v", got[2])
	}
}
