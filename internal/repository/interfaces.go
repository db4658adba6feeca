package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PendingSessionPrefix marks locally generated placeholder session ids.
// A pending id exists only while the first message of a fresh conversation
// is in flight; it must never reach a persistence path.
const PendingSessionPrefix = "pending-"

// ErrPendingSession is returned when a placeholder session id reaches a
// write path that requires a durable id.
var ErrPendingSession = errors.New("session id is a pending placeholder")

// IsPendingSessionID reports whether id is a placeholder session id.
func IsPendingSessionID(id string) bool {
	return strings.HasPrefix(id, PendingSessionPrefix)
}

// Session represents a chat session
type Session struct {
	ID               string    `db:"id"`
	UserID           uuid.UUID `db:"user_id"`
	Title            string    `db:"title"`
	FirstMessageText string    `db:"first_message_text"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Message represents a chat message
type Message struct {
	ID        string         `db:"id"`
	SessionID string         `db:"session_id"`
	Role      string         `db:"role"`
	Content   string         `db:"content"`
	Feedback  sql.NullString `db:"feedback"`
	CreatedAt time.Time      `db:"created_at"`
}

// Embedding is a fixed-dimensionality vector stored as JSON text.
// A malformed stored value scans to nil rather than failing the row,
// so a bad embedding degrades to "no match" during retrieval.
type Embedding []float32

// Value implements driver.Valuer
func (e Embedding) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (e *Embedding) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		*e = nil
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		*e = nil
		return nil
	}
	*e = vec
	return nil
}

// SessionSummary is the memorized digest of one session. The session id is
// the storage key, so re-summarization overwrites instead of appending.
type SessionSummary struct {
	UserID      uuid.UUID `db:"user_id"`
	SessionID   string    `db:"session_id"`
	SummaryText string    `db:"summary_text"`
	Embedding   Embedding `db:"embedding"`
	ContentHash string    `db:"content_hash"`
	CreatedAt   time.Time `db:"created_at"`
}

// User represents a registered user
type User struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// SessionRepository defines session storage operations
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, userID uuid.UUID, id string) (*Session, error)
	List(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	Update(ctx context.Context, userID uuid.UUID, id string, updates map[string]interface{}) error
	Delete(ctx context.Context, userID uuid.UUID, id string) error
}

// MessageRepository defines message storage operations
type MessageRepository interface {
	Create(ctx context.Context, message Message) (string, error)
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
	UpdateFeedback(ctx context.Context, userID uuid.UUID, id string, feedback string) error
}

// SummaryRepository defines summary storage operations. Upsert replaces any
// prior record for the same (user, session) key.
type SummaryRepository interface {
	Upsert(ctx context.Context, summary SessionSummary) error
	Get(ctx context.Context, userID uuid.UUID, sessionID string) (*SessionSummary, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]SessionSummary, error)
	DeleteBySession(ctx context.Context, userID uuid.UUID, sessionID string) error
}

// UserRepository defines user storage operations
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// ClientStateRepository persists the last known durable session per user,
// so a session abandoned in a previous visit still gets memorized the next
// time that user starts a new chat.
type ClientStateRepository interface {
	GetLastActiveSession(ctx context.Context, userID uuid.UUID) (string, error)
	SetLastActiveSession(ctx context.Context, userID uuid.UUID, sessionID string) error
}
