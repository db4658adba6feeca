package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/recallchat/recall-backend/internal/repository"
)

// MessageRepository implements repository.MessageRepository using PostgreSQL
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message. Placeholder session ids are rejected: the
// session must be promoted to a durable id before anything is persisted.
func (r *MessageRepository) Create(ctx context.Context, message repository.Message) (string, error) {
	if repository.IsPendingSessionID(message.SessionID) {
		return "", repository.ErrPendingSession
	}

	message.ID = uuid.New().String()
	message.CreatedAt = time.Now()

	query := `
		INSERT INTO messages (id, session_id, role, content, feedback, created_at)
		VALUES (:id, :session_id, :role, :content, :feedback, :created_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, message)
	if err != nil {
		return "", err
	}

	return message.ID, nil
}

// ListBySession retrieves messages for a session in creation order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string) ([]repository.Message, error) {
	var messages []repository.Message
	query := `
		SELECT id, session_id, role, content, feedback, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	err := r.db.SelectContext(ctx, &messages, query, sessionID)
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// UpdateFeedback records good/bad feedback on an assistant message. The
// update is scoped through the owning session, so a message id belonging to
// another user's session matches no rows.
func (r *MessageRepository) UpdateFeedback(ctx context.Context, userID uuid.UUID, id string, feedback string) error {
	query := `
		UPDATE messages SET feedback = $2
		FROM sessions
		WHERE messages.id = $1 AND messages.session_id = sessions.id AND sessions.user_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, id, feedback, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
