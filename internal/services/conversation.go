package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/recallchat/recall-backend/internal/memory"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/repository"
)

// SessionState is the lifecycle state of the active conversation.
type SessionState int

const (
	// StateNone means no active session.
	StateNone SessionState = iota
	// StatePending means a locally-identified session whose first message
	// round-trip has not completed; its id is a placeholder.
	StatePending
	// StateActive means a durable session id is loaded or created.
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "none"
	}
}

// Turn is one role/text pair of the in-memory conversation context.
// Pending marks an assistant turn whose text is still streaming.
type Turn struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	Pending bool   `json:"pending,omitempty"`
}

// ConversationContext is the ephemeral prompt state of one active session:
// a system instruction followed by the session's messages so far. Exactly
// one instance is live per active session; switching sessions replaces the
// whole object rather than mutating it in place.
type ConversationContext struct {
	mu        sync.RWMutex
	sessionID string
	turns     []Turn
}

func newConversationContext(systemPrompt string) *ConversationContext {
	return &ConversationContext{
		turns: []Turn{{Role: "system", Text: systemPrompt}},
	}
}

// SessionID returns the context's current session id (possibly pending).
func (c *ConversationContext) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *ConversationContext) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Turns returns a copy of the context's turns for rendering.
func (c *ConversationContext) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// appendTurn adds a turn and returns its index.
func (c *ConversationContext) appendTurn(t Turn) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	return len(c.turns) - 1
}

// setTurn replaces the text and pending flag of the turn at index.
func (c *ConversationContext) setTurn(index int, text string, pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.turns) {
		return
	}
	c.turns[index].Text = text
	c.turns[index].Pending = pending
}

// promptMessages renders the context for a completion request. A non-empty
// memory context is merged into the system turn's content; a second system
// message is never created. Pending assistant turns are omitted.
func (c *ConversationContext) promptMessages(memoryContext string) []providers.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]providers.Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Pending {
			continue
		}
		content := t.Text
		if t.Role == "system" && memoryContext != "" {
			content = content + "\n\n" + memoryContext
		}
		out = append(out, providers.Message{Role: t.Role, Content: content})
	}
	return out
}

// transcriptTurns returns the persistable transcript: every non-system
// turn that has converged (no pending placeholders, no blanks). This is
// what gets fingerprinted and summarized.
func (c *ConversationContext) transcriptTurns() []memory.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]memory.Turn, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Role == "system" || t.Pending || strings.TrimSpace(t.Text) == "" {
			continue
		}
		out = append(out, memory.Turn{Role: t.Role, Text: t.Text})
	}
	return out
}

// messageTurnCount counts converged non-system turns.
func (c *ConversationContext) messageTurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, t := range c.turns {
		if t.Role == "system" || t.Pending {
			continue
		}
		n++
	}
	return n
}

// ConversationManager is the session identity state machine for one user.
// It owns the single live ConversationContext, promotes pending sessions to
// durable ones, and triggers memorization at every session-leaving
// transition.
type ConversationManager struct {
	mu          sync.Mutex
	userID      uuid.UUID
	state       SessionState
	conv        *ConversationContext
	sessions    repository.SessionRepository
	messages    repository.MessageRepository
	clientState repository.ClientStateRepository
	memory      *MemoryService
	chat        *ChatService
	systemPrompt string
	log         *logrus.Entry
}

// NewConversationManager creates a manager with no active session.
func NewConversationManager(
	userID uuid.UUID,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	clientState repository.ClientStateRepository,
	memoryService *MemoryService,
	chatService *ChatService,
	systemPrompt string,
) *ConversationManager {
	return &ConversationManager{
		userID:       userID,
		state:        StateNone,
		conv:         newConversationContext(systemPrompt),
		sessions:     sessions,
		messages:     messages,
		clientState:  clientState,
		memory:       memoryService,
		chat:         chatService,
		systemPrompt: systemPrompt,
		log:          logrus.WithField("user_id", userID),
	}
}

// State returns the current lifecycle state.
func (m *ConversationManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the current session id, which may be a pending
// placeholder or empty.
func (m *ConversationManager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv.SessionID()
}

// Context returns the live conversation context for rendering.
func (m *ConversationManager) Context() *ConversationContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv
}

// StartSession resets to a fresh conversation. The session being left is
// memorized first, and so is the last durable session recorded for this
// user in a previous visit, covering the user who never explicitly closes
// a session but simply starts another one later.
func (m *ConversationManager) StartSession(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.conv.SessionID()
	m.memorizeCurrentLocked()
	m.reconcileAbandonedLocked(ctx, current)

	m.state = StateNone
	m.conv = newConversationContext(m.systemPrompt)
}

// SelectSession switches to an existing durable session, memorizing the one
// being left and rebuilding the conversation context from stored messages.
func (m *ConversationManager) SelectSession(ctx context.Context, sessionID string) error {
	if repository.IsPendingSessionID(sessionID) {
		return repository.ErrPendingSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.sessions.Get(ctx, m.userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	m.memorizeCurrentLocked()

	stored, err := m.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	conv := newConversationContext(m.systemPrompt)
	conv.setSessionID(sessionID)
	for _, msg := range stored {
		conv.appendTurn(Turn{Role: msg.Role, Text: msg.Content})
	}

	m.conv = conv
	m.state = StateActive

	if err := m.clientState.SetLastActiveSession(ctx, m.userID, sessionID); err != nil {
		m.log.WithError(err).Warn("failed to record last active session")
	}

	return nil
}

// SendMessage drives one user turn through the state machine and starts the
// assistant stream. On the first message of a fresh conversation the
// session is created optimistically under a pending id, then promoted to
// the durable id the store assigns.
func (m *ConversationManager) SendMessage(ctx context.Context, text string) (<-chan providers.StreamChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	firstTurn := false

	switch m.state {
	case StateNone:
		// Optimistic render: the user turn is visible under a placeholder
		// id before any round trip completes.
		conv := newConversationContext(m.systemPrompt)
		conv.setSessionID(repository.PendingSessionPrefix + uuid.New().String())
		conv.appendTurn(Turn{Role: "user", Text: text})
		m.conv = conv
		m.state = StatePending
		firstTurn = true

		session := &repository.Session{
			UserID:           m.userID,
			Title:            titleFromFirstMessage(text),
			FirstMessageText: text,
		}
		if err := m.sessions.Create(ctx, session); err != nil {
			// Roll back to NONE so a retry re-enters this branch. The
			// optimistic turn stays visible; the retry rebuilds the
			// context from the resent message.
			m.state = StateNone
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		// Promotion: every local reference to the placeholder is replaced
		// by the durable id.
		m.conv.setSessionID(session.ID)
		m.state = StateActive
		if err := m.clientState.SetLastActiveSession(ctx, m.userID, session.ID); err != nil {
			m.log.WithError(err).Warn("failed to record last active session")
		}

	case StatePending:
		return nil, fmt.Errorf("session creation already in flight")

	case StateActive:
		firstTurn = m.conv.messageTurnCount() == 0
		m.conv.appendTurn(Turn{Role: "user", Text: text})
	}

	// User message persistence is initiated before the assistant stream
	// begins.
	_, err := m.messages.Create(ctx, repository.Message{
		SessionID: m.conv.SessionID(),
		Role:      "user",
		Content:   text,
	})
	if err != nil {
		m.log.WithError(err).Warn("failed to persist user message")
	}

	memoryContext := m.memory.RetrieveContext(ctx, m.userID, text, firstTurn)

	return m.chat.StreamResponse(ctx, m.conv, memoryContext), nil
}

// Logout memorizes the session being left and clears all local state.
func (m *ConversationManager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memorizeCurrentLocked()
	m.state = StateNone
	m.conv = newConversationContext(m.systemPrompt)
}

// memorizeCurrentLocked triggers memorization of the current session when
// it is durable and has converged messages. Callers hold m.mu.
func (m *ConversationManager) memorizeCurrentLocked() {
	sessionID := m.conv.SessionID()
	m.memory.MemorizeIfNeeded(m.userID, sessionID, m.conv.transcriptTurns())
}

// reconcileAbandonedLocked gives the last durable session from a previous
// visit one final memorization pass. Callers hold m.mu.
func (m *ConversationManager) reconcileAbandonedLocked(ctx context.Context, current string) {
	last, err := m.clientState.GetLastActiveSession(ctx, m.userID)
	if err != nil {
		m.log.WithError(err).Warn("failed to load last active session")
		return
	}
	if last == "" || last == current {
		return
	}

	stored, err := m.messages.ListBySession(ctx, last)
	if err != nil {
		m.log.WithError(err).Warn("failed to load abandoned session messages")
		return
	}

	m.memory.MemorizeIfNeeded(m.userID, last, MessagesToTurns(stored))
}

// MessagesToTurns converts stored messages to transcript turns.
func MessagesToTurns(messages []repository.Message) []memory.Turn {
	turns := make([]memory.Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, memory.Turn{Role: msg.Role, Text: msg.Content})
	}
	return turns
}

func titleFromFirstMessage(text string) string {
	return truncateBytes(strings.TrimSpace(text), 60)
}

// ConversationHub hands out one ConversationManager per user.
type ConversationHub struct {
	mu       sync.Mutex
	managers map[uuid.UUID]*ConversationManager

	sessions     repository.SessionRepository
	messages     repository.MessageRepository
	clientState  repository.ClientStateRepository
	memory       *MemoryService
	chat         *ChatService
	systemPrompt string
}

// NewConversationHub creates a new hub.
func NewConversationHub(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	clientState repository.ClientStateRepository,
	memoryService *MemoryService,
	chatService *ChatService,
	systemPrompt string,
) *ConversationHub {
	return &ConversationHub{
		managers:     make(map[uuid.UUID]*ConversationManager),
		sessions:     sessions,
		messages:     messages,
		clientState:  clientState,
		memory:       memoryService,
		chat:         chatService,
		systemPrompt: systemPrompt,
	}
}

// Get returns the manager for a user, creating it on first use.
func (h *ConversationHub) Get(userID uuid.UUID) *ConversationManager {
	h.mu.Lock()
	defer h.mu.Unlock()

	if manager, ok := h.managers[userID]; ok {
		return manager
	}

	manager := NewConversationManager(userID, h.sessions, h.messages, h.clientState, h.memory, h.chat, h.systemPrompt)
	h.managers[userID] = manager
	return manager
}
