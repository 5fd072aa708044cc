package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/liliang-cn/policyagent/internal/domain"
)

// Archive reasons
const (
	ReasonExpired = "expired"
	ReasonDeleted = "deleted"
)

// TranscriptRepository archives conversations dropped from memory
type TranscriptRepository struct {
	db *DB
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Archive stores a session and its messages. Archiving the same session
// again replaces the previous transcript.
func (r *TranscriptRepository) Archive(ctx context.Context, session *domain.Session, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, session.ID); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, reason, created_at, last_activity)
		VALUES (?, ?, ?, ?)
	`, session.ID, reason, session.CreatedAt, session.LastActivity)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, role, content, sources, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range session.Messages {
		var sources sql.NullString
		if len(m.Sources) > 0 {
			b, _ := json.Marshal(m.Sources)
			sources = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, session.ID, string(m.Role), m.Content, sources, m.Timestamp); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Get retrieves an archived session with its messages in order
func (r *TranscriptRepository) Get(ctx context.Context, id string) (*domain.Session, string, error) {
	session := &domain.Session{}
	var reason string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, reason, created_at, last_activity
		FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &reason, &session.CreatedAt, &session.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", domain.ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT role, content, sources, created_at
		FROM messages WHERE session_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m       domain.Message
			role    string
			sources sql.NullString
		)
		if err := rows.Scan(&role, &m.Content, &sources, &m.Timestamp); err != nil {
			return nil, "", err
		}
		m.Role = domain.Role(role)
		if sources.Valid && sources.String != "" {
			_ = json.Unmarshal([]byte(sources.String), &m.Sources)
		}
		session.Messages = append(session.Messages, m)
	}

	return session, reason, rows.Err()
}

// CountSessions returns the number of archived sessions
func (r *TranscriptRepository) CountSessions(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

// CountQuestions returns the number of archived user messages
func (r *TranscriptRepository) CountQuestions(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE role = ?`, string(domain.RoleUser)).Scan(&count)
	return count, err
}
