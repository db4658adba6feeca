package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/recallchat/recall-backend/internal/repository"
)

// ClientStateRepository implements repository.ClientStateRepository using PostgreSQL
type ClientStateRepository struct {
	db *sqlx.DB
}

// NewClientStateRepository creates a new PostgreSQL client state repository
func NewClientStateRepository(db *sqlx.DB) repository.ClientStateRepository {
	return &ClientStateRepository{db: db}
}

// GetLastActiveSession returns the last durable session id recorded for the
// user, or empty when none has been recorded
func (r *ClientStateRepository) GetLastActiveSession(ctx context.Context, userID uuid.UUID) (string, error) {
	var sessionID string
	query := "SELECT last_active_session FROM client_state WHERE user_id = $1"

	err := r.db.GetContext(ctx, &sessionID, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}

	return sessionID, nil
}

// SetLastActiveSession records the user's last durable session id. Pending
// placeholder ids are never recorded.
func (r *ClientStateRepository) SetLastActiveSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	if repository.IsPendingSessionID(sessionID) {
		return repository.ErrPendingSession
	}

	query := `
		INSERT INTO client_state (user_id, last_active_session, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			last_active_session = EXCLUDED.last_active_session,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, userID, sessionID, time.Now())
	return err
}
