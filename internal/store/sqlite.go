package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parley-chat/parley/internal/directory"
	"github.com/parley-chat/parley/internal/history"
)

// SQLite keeps identity records and message history in one SQLite database.
// Meant for single-node installs where DynamoDB is not available.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and initializes the
// schema. Pass ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases coherent and sidesteps
	// writer contention.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		identity     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		live_handle  TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	-- seq breaks timestamp ties by write order
	CREATE TABLE IF NOT EXISTS messages (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation TEXT NOT NULL,
		ts           TEXT NOT NULL,
		sender       TEXT NOT NULL,
		receiver     TEXT NOT NULL,
		body         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation, ts);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Upsert overwrites the row for record.Identity.
func (s *SQLite) Upsert(ctx context.Context, record directory.Record) (directory.Record, error) {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (identity, display_name, live_handle, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = excluded.display_name,
			live_handle  = excluded.live_handle,
			updated_at   = excluded.updated_at`,
		record.Identity, record.DisplayName, record.Handle,
		record.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return directory.Record{}, unavailable("upsert user", err)
	}
	return record, nil
}

// LookupHandle fetches the handle stored for identity.
func (s *SQLite) LookupHandle(ctx context.Context, identity string) (string, error) {
	var handle string
	err := s.db.QueryRowContext(ctx,
		`SELECT live_handle FROM users WHERE identity = ?`, identity).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", directory.ErrNotFound
	}
	if err != nil {
		return "", unavailable("lookup handle", err)
	}
	return handle, nil
}

// List enumerates all identity records.
func (s *SQLite) List(ctx context.Context) ([]directory.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, display_name, live_handle, updated_at
		FROM users ORDER BY identity`)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var records []directory.Record
	for rows.Next() {
		var record directory.Record
		var updatedAt string
		if err := rows.Scan(&record.Identity, &record.DisplayName, &record.Handle, &updatedAt); err != nil {
			return nil, unavailable("scan user row", err)
		}
		record.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list users", err)
	}
	return records, nil
}

// Append writes one message row.
func (s *SQLite) Append(ctx context.Context, msg history.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation, ts, sender, receiver, body)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Timestamp, msg.Sender, msg.Receiver, msg.Text)
	if err != nil {
		return unavailable("append message", err)
	}
	return nil
}

// ListConversation returns the full conversation in ascending timestamp
// order, ties broken by write order.
func (s *SQLite) ListConversation(ctx context.Context, address string) ([]history.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation, ts, sender, receiver, body
		FROM messages WHERE conversation = ?
		ORDER BY ts ASC, seq ASC`, address)
	if err != nil {
		return nil, unavailable("list conversation", err)
	}
	defer rows.Close()

	var messages []history.Message
	for rows.Next() {
		var msg history.Message
		if err := rows.Scan(&msg.ConversationID, &msg.Timestamp, &msg.Sender, &msg.Receiver, &msg.Text); err != nil {
			return nil, unavailable("scan message row", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list conversation", err)
	}
	return messages, nil
}
