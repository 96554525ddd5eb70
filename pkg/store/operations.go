package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeFormat is the canonical timestamp encoding for all tables.
const timeFormat = time.RFC3339Nano

// =============================================================================
// Threads
// =============================================================================

// GetActiveThread returns the active thread for a role, or nil if none exists.
func (s *Store) GetActiveThread(role string) (*Thread, error) {
	row := s.db.QueryRow(`
		SELECT id, role, assistant_id, title, message_count, last_activity, active, active_format_id, created_at
		FROM threads
		WHERE role = ? AND active = 1
		ORDER BY created_at DESC
		LIMIT 1
	`, role)

	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active thread for role %s: %w", role, err)
	}
	return thread, nil
}

// GetThread returns a thread by id, or nil if it is not cached.
func (s *Store) GetThread(threadID string) (*Thread, error) {
	row := s.db.QueryRow(`
		SELECT id, role, assistant_id, title, message_count, last_activity, active, active_format_id, created_at
		FROM threads
		WHERE id = ?
	`, threadID)

	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}
	return thread, nil
}

// UpsertThread inserts or updates a thread record.
func (s *Store) UpsertThread(thread *Thread) error {
	query := `
		INSERT INTO threads (id, role, assistant_id, title, message_count, last_activity, active, active_format_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			assistant_id = excluded.assistant_id,
			title = excluded.title,
			message_count = excluded.message_count,
			last_activity = excluded.last_activity,
			active = excluded.active,
			active_format_id = excluded.active_format_id
	`

	_, err := s.db.Exec(query,
		thread.ID, thread.Role, thread.AssistantID, thread.Title, thread.MessageCount,
		thread.LastActivity.UTC().Format(timeFormat), boolToInt(thread.Active),
		thread.ActiveFormatID, thread.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread %s: %w", thread.ID, err)
	}
	return nil
}

// DeactivateThreads clears the active flag on every thread of a role.
func (s *Store) DeactivateThreads(role string) error {
	if _, err := s.db.Exec("UPDATE threads SET active = 0 WHERE role = ?", role); err != nil {
		return fmt.Errorf("failed to deactivate threads for role %s: %w", role, err)
	}
	return nil
}

// SetActiveFormat points a thread at a format (nil clears the pointer).
// The format definition itself is never touched.
func (s *Store) SetActiveFormat(threadID string, formatID *string) error {
	result, err := s.db.Exec("UPDATE threads SET active_format_id = ? WHERE id = ?", formatID, threadID)
	if err != nil {
		return fmt.Errorf("failed to set active format on thread %s: %w", threadID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("thread %s not found", threadID)
	}
	return nil
}

// GetActiveFormat returns the thread's active format, or nil if none is set.
func (s *Store) GetActiveFormat(threadID string) (*Format, error) {
	row := s.db.QueryRow(`
		SELECT f.id, f.name, f.instructions, f.custom, f.created_at, f.updated_at
		FROM formats f
		JOIN threads t ON t.active_format_id = f.id
		WHERE t.id = ?
	`, threadID)

	format, err := scanFormat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active format for thread %s: %w", threadID, err)
	}
	return format, nil
}

// =============================================================================
// Formats
// =============================================================================

// UpsertFormat inserts or updates a format definition.
func (s *Store) UpsertFormat(format *Format) error {
	query := `
		INSERT INTO formats (id, name, instructions, custom, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			instructions = excluded.instructions,
			custom = excluded.custom,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		format.ID, format.Name, format.Instructions, boolToInt(format.Custom),
		format.CreatedAt.UTC().Format(timeFormat), format.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert format %s: %w", format.Name, err)
	}
	return nil
}

// GetFormatByName returns a format by its unique name, or nil if absent.
func (s *Store) GetFormatByName(name string) (*Format, error) {
	row := s.db.QueryRow(`
		SELECT id, name, instructions, custom, created_at, updated_at
		FROM formats
		WHERE name = ?
	`, name)

	format, err := scanFormat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get format %s: %w", name, err)
	}
	return format, nil
}

// ListFormats returns all format definitions ordered by name.
func (s *Store) ListFormats() ([]*Format, error) {
	rows, err := s.db.Query(`
		SELECT id, name, instructions, custom, created_at, updated_at
		FROM formats
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list formats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var formats []*Format
	for rows.Next() {
		format, err := scanFormat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan format: %w", err)
		}
		formats = append(formats, format)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate formats: %w", err)
	}
	return formats, nil
}

// SeedFormats inserts catalog formats that are not present yet. Existing
// definitions (including user edits of custom formats) are left untouched.
func (s *Store) SeedFormats(formats []*Format) error {
	for _, format := range formats {
		existing, err := s.GetFormatByName(format.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.UpsertFormat(format); err != nil {
			return err
		}
		s.logger.Debug("Seeded format %q", format.Name)
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// AppendMessage caches a transcript entry and bumps the owning thread's
// message count and last-activity timestamp.
func (s *Store) AppendMessage(message *Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO messages (id, thread_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, message.ID, message.ThreadID, message.Role, message.Content,
		message.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", message.ID, err)
	}

	_, err = tx.Exec(`
		UPDATE threads SET message_count = message_count + 1, last_activity = ?
		WHERE id = ?
	`, message.CreatedAt.UTC().Format(timeFormat), message.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to touch thread %s: %w", message.ThreadID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message append: %w", err)
	}
	return nil
}

// ListMessages returns the cached transcript of a thread in creation order.
func (s *Store) ListMessages(threadID string) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, thread_id, role, content, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for thread %s: %w", threadID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = parseTime(createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// MessageCount returns the number of cached messages on a thread.
func (s *Store) MessageCount(threadID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE thread_id = ?", threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages for thread %s: %w", threadID, err)
	}
	return count, nil
}

// =============================================================================
// Scan helpers
// =============================================================================

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var lastActivity, createdAt string
	var active int
	var activeFormatID sql.NullString

	err := row.Scan(&thread.ID, &thread.Role, &thread.AssistantID, &thread.Title,
		&thread.MessageCount, &lastActivity, &active, &activeFormatID, &createdAt)
	if err != nil {
		return nil, err
	}

	thread.LastActivity = parseTime(lastActivity)
	thread.CreatedAt = parseTime(createdAt)
	thread.Active = active != 0
	if activeFormatID.Valid {
		thread.ActiveFormatID = &activeFormatID.String
	}
	return &thread, nil
}

func scanFormat(row rowScanner) (*Format, error) {
	var format Format
	var custom int
	var createdAt, updatedAt string

	err := row.Scan(&format.ID, &format.Name, &format.Instructions, &custom, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	format.Custom = custom != 0
	format.CreatedAt = parseTime(createdAt)
	format.UpdatedAt = parseTime(updatedAt)
	return &format, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
