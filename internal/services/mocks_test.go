package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/repository"
)

// mockProvider scripts completions, streams and embeddings, and counts
// every call so tests can assert when the pipeline short-circuits.
type mockProvider struct {
	mu sync.Mutex

	summaryText string
	embedding   []float32
	embedFn     func(text string) []float32

	streamChunks []providers.StreamChunk

	completeErr error
	streamErr   error
	embedErr    error

	completeCalls int
	streamCalls   int
	embedCalls    int

	lastCompleteReq providers.CompletionRequest
	lastStreamReq   providers.CompletionRequest
}

func (p *mockProvider) Name() string          { return "mock" }
func (p *mockProvider) ValidateConfig() error { return nil }

func (p *mockProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	p.mu.Lock()
	p.completeCalls++
	p.lastCompleteReq = req
	err := p.completeErr
	text := p.summaryText
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &providers.CompletionResponse{
		ID: "cmpl-mock",
		Choices: []providers.Choice{
			{Message: providers.Message{Role: "assistant", Content: text}, FinishReason: "stop"},
		},
	}, nil
}

func (p *mockProvider) StreamComplete(ctx context.Context, req providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	p.mu.Lock()
	p.streamCalls++
	p.lastStreamReq = req
	err := p.streamErr
	chunks := make([]providers.StreamChunk, len(p.streamChunks))
	copy(chunks, p.streamChunks)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamChunk, len(chunks))
	for _, chunk := range chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

func (p *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	err := p.embedErr
	fn := p.embedFn
	vec := p.embedding
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(text), nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func (p *mockProvider) counts() (complete, stream, embed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completeCalls, p.streamCalls, p.embedCalls
}

func (p *mockProvider) lastStreamRequest() providers.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStreamReq
}

// memSummaryRepo is an in-memory SummaryRepository keyed by (user, session).
type memSummaryRepo struct {
	mu      sync.Mutex
	records map[string]repository.SessionSummary
	upserts int
}

func newMemSummaryRepo() *memSummaryRepo {
	return &memSummaryRepo{records: make(map[string]repository.SessionSummary)}
}

func summaryKey(userID uuid.UUID, sessionID string) string {
	return userID.String() + "/" + sessionID
}

func (r *memSummaryRepo) Upsert(ctx context.Context, summary repository.SessionSummary) error {
	if repository.IsPendingSessionID(summary.SessionID) {
		return repository.ErrPendingSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.records[summaryKey(summary.UserID, summary.SessionID)] = summary
	return nil
}

func (r *memSummaryRepo) Get(ctx context.Context, userID uuid.UUID, sessionID string) (*repository.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[summaryKey(userID, sessionID)]; ok {
		out := record
		return &out, nil
	}
	return nil, nil
}

func (r *memSummaryRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]repository.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.SessionSummary
	for _, record := range r.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memSummaryRepo) DeleteBySession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, summaryKey(userID, sessionID))
	return nil
}

func (r *memSummaryRepo) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

func (r *memSummaryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memSummaryRepo) get(userID uuid.UUID, sessionID string) *repository.SessionSummary {
	record, _ := r.Get(context.Background(), userID, sessionID)
	return record
}

// memMessageRepo is an in-memory MessageRepository. owners maps session ids
// to their user so feedback updates can honor ownership scoping.
type memMessageRepo struct {
	mu       sync.Mutex
	messages []repository.Message
	owners   map[string]uuid.UUID
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{}
}

func (r *memMessageRepo) Create(ctx context.Context, message repository.Message) (string, error) {
	if repository.IsPendingSessionID(message.SessionID) {
		return "", repository.ErrPendingSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	r.messages = append(r.messages, message)
	return message.ID, nil
}

func (r *memMessageRepo) ListBySession(ctx context.Context, sessionID string) ([]repository.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Message
	for _, message := range r.messages {
		if message.SessionID == sessionID {
			out = append(out, message)
		}
	}
	return out, nil
}

func (r *memMessageRepo) UpdateFeedback(ctx context.Context, userID uuid.UUID, id string, feedback string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID != id {
			continue
		}
		if owner, ok := r.owners[r.messages[i].SessionID]; ok && owner != userID {
			return sql.ErrNoRows
		}
		r.messages[i].Feedback.String = feedback
		r.messages[i].Feedback.Valid = true
		return nil
	}
	return sql.ErrNoRows
}

func (r *memMessageRepo) countByRole(sessionID, role string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, message := range r.messages {
		if message.SessionID == sessionID && message.Role == role {
			n++
		}
	}
	return n
}

func (r *memMessageRepo) all() []repository.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// memSessionRepo is an in-memory SessionRepository that assigns durable ids
// on create, like the Postgres one. createErr fails the next Create call.
type memSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]repository.Session
	createErr error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]repository.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, session *repository.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		err := r.createErr
		r.createErr = nil
		return err
	}
	if session.ID == "" || repository.IsPendingSessionID(session.ID) {
		session.ID = uuid.New().String()
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	r.sessions[session.ID] = *session
	return nil
}

func (r *memSessionRepo) Get(ctx context.Context, userID uuid.UUID, id string) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok && session.UserID == userID {
		out := session
		return &out, nil
	}
	return nil, nil
}

func (r *memSessionRepo) List(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Session
	for _, session := range r.sessions {
		if session.UserID == userID {
			s := session
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Update(ctx context.Context, userID uuid.UUID, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.UserID != userID {
		return fmt.Errorf("session not found: %s", id)
	}
	if title, ok := updates["title"].(string); ok {
		session.Title = title
	}
	session.UpdatedAt = time.Now()
	r.sessions[id] = session
	return nil
}

func (r *memSessionRepo) Delete(ctx context.Context, userID uuid.UUID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// memClientStateRepo is an in-memory ClientStateRepository.
type memClientStateRepo struct {
	mu   sync.Mutex
	last map[uuid.UUID]string
}

func newMemClientStateRepo() *memClientStateRepo {
	return &memClientStateRepo{last: make(map[uuid.UUID]string)}
}

func (r *memClientStateRepo) GetLastActiveSession(ctx context.Context, userID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[userID], nil
}

func (r *memClientStateRepo) SetLastActiveSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	if repository.IsPendingSessionID(sessionID) {
		return repository.ErrPendingSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[userID] = sessionID
	return nil
}

func (r *memClientStateRepo) get(userID uuid.UUID) string {
	last, _ := r.GetLastActiveSession(context.Background(), userID)
	return last
}
