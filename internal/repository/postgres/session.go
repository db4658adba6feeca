package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/recallchat/recall-backend/internal/repository"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session, assigning a durable id when none is set.
// A pending placeholder id is never persisted.
func (r *SessionRepository) Create(ctx context.Context, session *repository.Session) error {
	if session.ID == "" || repository.IsPendingSessionID(session.ID) {
		session.ID = uuid.New().String()
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = time.Now()

	query := `
		INSERT INTO sessions (id, user_id, title, first_message_text, created_at, updated_at)
		VALUES (:id, :user_id, :title, :first_message_text, :created_at, :updated_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, session)
	return err
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, userID uuid.UUID, id string) (*repository.Session, error) {
	var session repository.Session
	query := `
		SELECT id, user_id, title, first_message_text, created_at, updated_at
		FROM sessions
		WHERE id = $1 AND user_id = $2
	`

	err := r.db.GetContext(ctx, &session, query, id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &session, nil
}

// List retrieves all sessions for a user
func (r *SessionRepository) List(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	var sessions []*repository.Session
	query := `
		SELECT id, user_id, title, first_message_text, created_at, updated_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	err := r.db.SelectContext(ctx, &sessions, query, userID)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// Update updates a session
func (r *SessionRepository) Update(ctx context.Context, userID uuid.UUID, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()

	// Build dynamic update query
	setClause := ""
	params := map[string]interface{}{"id": id, "user_id": userID}

	for key, value := range updates {
		if setClause != "" {
			setClause += ", "
		}
		setClause += key + " = :" + key
		params[key] = value
	}

	query := "UPDATE sessions SET " + setClause + " WHERE id = :id AND user_id = :user_id"

	_, err := r.db.NamedExecContext(ctx, query, params)
	return err
}

// Delete deletes a session. Messages and the session's summary go with it
// through foreign-key cascades.
func (r *SessionRepository) Delete(ctx context.Context, userID uuid.UUID, id string) error {
	query := "DELETE FROM sessions WHERE id = $1 AND user_id = $2"
	_, err := r.db.ExecContext(ctx, query, id, userID)
	return err
}
