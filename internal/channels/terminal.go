package channels

import (
	"strings"
	"sync"
	"time"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

// builtinResult is the canned answer for a locally handled command.
type builtinResult struct {
	output   string
	exitCode int
}

// Terminal relays shell commands to the remote runner and keeps the
// ordered, append-only terminal log. A small table of built-in commands is
// answered locally for zero-latency feedback and is always consulted before
// anything is forwarded upstream.
type Terminal struct {
	sessionID string
	sender    Sender

	mu       sync.Mutex
	entries  []model.TerminalEntry
	onAppend func(model.TerminalEntry)
}

// NewTerminal creates a terminal channel for the session.
func NewTerminal(sessionID string, sender Sender) *Terminal {
	return &Terminal{sessionID: sessionID, sender: sender}
}

// OnAppend registers an observer for appended log entries.
func (t *Terminal) OnAppend(fn func(model.TerminalEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAppend = fn
}

// Run logs and dispatches one command line. Built-ins are answered locally;
// everything else goes to the relay, with the output entry appended when
// the terminal-response arrives.
func (t *Terminal) Run(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	if command == "clear" {
		// clear is special: it truncates the visible log instead of
		// producing output.
		t.mu.Lock()
		t.entries = nil
		t.mu.Unlock()
		return nil
	}

	t.append(model.TerminalEntry{
		Kind:      model.TerminalEntryCommand,
		Text:      command,
		Timestamp: time.Now(),
	})

	if result, ok := t.builtin(command); ok {
		code := result.exitCode
		t.append(model.TerminalEntry{
			Kind:      model.TerminalEntryOutput,
			Text:      result.output,
			Command:   command,
			ExitCode:  &code,
			Timestamp: time.Now(),
		})
		return nil
	}

	return t.sender.Send(protocol.EventTerminalCommand, protocol.TerminalCommand{
		SessionID: t.sessionID,
		Command:   command,
	})
}

// builtin answers commands that never leave the client.
func (t *Terminal) builtin(command string) (builtinResult, bool) {
	switch command {
	case "help":
		return builtinResult{output: "Built-in commands: help, clear, pwd. " +
			"Everything else runs on the session runner."}, true
	case "pwd":
		return builtinResult{output: "/workspace"}, true
	}
	return builtinResult{}, false
}

// HandleResponse appends the runner's reply to a forwarded command.
func (t *Terminal) HandleResponse(resp protocol.TerminalResponse) {
	code := resp.ExitCode
	t.append(model.TerminalEntry{
		Kind:      model.TerminalEntryOutput,
		Text:      resp.Output,
		Command:   resp.Command,
		ExitCode:  &code,
		Timestamp: time.Now(),
	})
}

// AddBroadcast appends a relay-wide notice to the log.
func (t *Terminal) AddBroadcast(text string) {
	t.append(model.TerminalEntry{
		Kind:      model.TerminalEntryBroadcast,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Entries returns a copy of the terminal log.
func (t *Terminal) Entries() []model.TerminalEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.TerminalEntry(nil), t.entries...)
}

// Clear drops the log, used on session leave.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

func (t *Terminal) append(entry model.TerminalEntry) {
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	notify := t.onAppend
	t.mu.Unlock()

	if notify != nil {
		notify(entry)
	}
}
