package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/recallchat/recall-backend/internal/repository"
)

// SummaryRepository implements repository.SummaryRepository using PostgreSQL
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository creates a new PostgreSQL summary repository
func NewSummaryRepository(db *sqlx.DB) repository.SummaryRepository {
	return &SummaryRepository{db: db}
}

// Upsert writes the summary for (user, session), replacing any prior record
// for that key. The update is conditional on the content hash changing, so
// concurrent duplicate triggers with identical content are a no-op at the
// database rather than relying on the caller's fingerprint pre-check.
func (r *SummaryRepository) Upsert(ctx context.Context, summary repository.SessionSummary) error {
	if repository.IsPendingSessionID(summary.SessionID) {
		return repository.ErrPendingSession
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_summaries (user_id, session_id, summary_text, embedding, content_hash, created_at)
		VALUES (:user_id, :session_id, :summary_text, :embedding, :content_hash, :created_at)
		ON CONFLICT (user_id, session_id)
		DO UPDATE SET
			summary_text = EXCLUDED.summary_text,
			embedding = EXCLUDED.embedding,
			content_hash = EXCLUDED.content_hash,
			created_at = EXCLUDED.created_at
		WHERE session_summaries.content_hash IS DISTINCT FROM EXCLUDED.content_hash
	`

	_, err := r.db.NamedExecContext(ctx, query, summary)
	return err
}

// Get retrieves the summary for a session, or nil when none exists
func (r *SummaryRepository) Get(ctx context.Context, userID uuid.UUID, sessionID string) (*repository.SessionSummary, error) {
	var summary repository.SessionSummary
	query := `
		SELECT user_id, session_id, summary_text, embedding, content_hash, created_at
		FROM session_summaries
		WHERE user_id = $1 AND session_id = $2
	`

	err := r.db.GetContext(ctx, &summary, query, userID, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &summary, nil
}

// ListByUser retrieves all summaries for a user
func (r *SummaryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]repository.SessionSummary, error) {
	var summaries []repository.SessionSummary
	query := `
		SELECT user_id, session_id, summary_text, embedding, content_hash, created_at
		FROM session_summaries
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	err := r.db.SelectContext(ctx, &summaries, query, userID)
	if err != nil {
		return nil, err
	}

	return summaries, nil
}

// DeleteBySession removes the summary for a session
func (r *SummaryRepository) DeleteBySession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	query := "DELETE FROM session_summaries WHERE user_id = $1 AND session_id = $2"
	_, err := r.db.ExecContext(ctx, query, userID, sessionID)
	return err
}
