package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/collabcode/client/internal/model"
)

// Store provides data access for session transcripts.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on top of an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendChat records one chat message. Re-inserting a message id already
// recorded for the session is a no-op, so replaying a relay snapshot is
// idempotent.
func (s *Store) AppendChat(ctx context.Context, sessionID string, msg model.ChatMessage) error {
	query := `
		INSERT OR IGNORE INTO chat_messages (session_id, id, user_id, user_name, message, timestamp, is_system)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sessionID,
		msg.ID,
		msg.UserID,
		msg.UserName,
		msg.Text,
		msg.Timestamp,
		msg.IsSystem,
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// ListChat returns all recorded chat messages for a session in id order.
func (s *Store) ListChat(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	query := `
		SELECT id, user_id, user_name, message, timestamp, is_system
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ChatMessage
	for rows.Next() {
		var msg model.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.UserName, &msg.Text, &msg.Timestamp, &msg.IsSystem); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}

	return messages, nil
}

// AppendTerminal records one terminal log entry.
func (s *Store) AppendTerminal(ctx context.Context, sessionID string, entry model.TerminalEntry) error {
	query := `
		INSERT INTO terminal_entries (session_id, kind, text, command, exit_code, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var command sql.NullString
	if entry.Command != "" {
		command = sql.NullString{String: entry.Command, Valid: true}
	}
	var exitCode sql.NullInt64
	if entry.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*entry.ExitCode), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		sessionID,
		entry.Kind,
		entry.Text,
		command,
		exitCode,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append terminal entry: %w", err)
	}
	return nil
}

// ListTerminal returns all recorded terminal entries for a session in
// append order.
func (s *Store) ListTerminal(ctx context.Context, sessionID string) ([]model.TerminalEntry, error) {
	query := `
		SELECT kind, text, command, exit_code, timestamp
		FROM terminal_entries
		WHERE session_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal entries: %w", err)
	}
	defer rows.Close()

	var entries []model.TerminalEntry
	for rows.Next() {
		var entry model.TerminalEntry
		var command sql.NullString
		var exitCode sql.NullInt64

		if err := rows.Scan(&entry.Kind, &entry.Text, &command, &exitCode, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan terminal entry: %w", err)
		}
		if command.Valid {
			entry.Command = command.String
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			entry.ExitCode = &code
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate terminal entries: %w", err)
	}

	return entries, nil
}
