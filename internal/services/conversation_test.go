package services

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/recallchat/recall-backend/internal/memory"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/repository"
)

type convFixture struct {
	provider    *mockProvider
	sessions    *memSessionRepo
	messages    *memMessageRepo
	summaries   *memSummaryRepo
	clientState *memClientStateRepo
	userID      uuid.UUID
	manager     *ConversationManager
}

func newConvFixture(t *testing.T, provider *mockProvider) *convFixture {
	t.Helper()

	registry := providers.NewRegistry()
	if provider != nil {
		registry.Register("openai", provider)
	}

	f := &convFixture{
		provider:    provider,
		sessions:    newMemSessionRepo(),
		messages:    newMemMessageRepo(),
		summaries:   newMemSummaryRepo(),
		clientState: newMemClientStateRepo(),
		userID:      uuid.New(),
	}

	memoryService := NewMemoryService(registry, "openai", "gpt-4o-mini", f.summaries, testMemoryConfig())
	chatService := NewChatService(registry, "openai", "gpt-4o", f.messages)
	hub := NewConversationHub(f.sessions, f.messages, f.clientState, memoryService, chatService, "You are a helpful assistant.")
	f.manager = hub.Get(f.userID)
	return f
}

func drainStream(t *testing.T, stream <-chan providers.StreamChunk) string {
	t.Helper()
	var b strings.Builder
	for chunk := range stream {
		b.WriteString(chunk.Delta)
	}
	return b.String()
}

func replyChunks(parts ...string) []providers.StreamChunk {
	chunks := make([]providers.StreamChunk, 0, len(parts)+1)
	for _, part := range parts {
		chunks = append(chunks, providers.StreamChunk{Delta: part})
	}
	return append(chunks, providers.StreamChunk{FinishReason: "stop"})
}

func waitForSummary(t *testing.T, summaries *memSummaryRepo, userID uuid.UUID, sessionID string) *repository.SessionSummary {
	t.Helper()
	require.Eventually(t, func() bool {
		return summaries.get(userID, sessionID) != nil
	}, 2*time.Second, 10*time.Millisecond, "summary for %s never appeared", sessionID)
	return summaries.get(userID, sessionID)
}

func TestSendMessage_FirstMessageCreatesDurableSession(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("Hi", " there"),
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)

	assert.Equal(t, StateNone, f.manager.State())

	stream, err := f.manager.SendMessage(context.Background(), "Hello, I just adopted a cat")
	require.NoError(t, err)

	assert.Equal(t, StateActive, f.manager.State())
	sessionID := f.manager.SessionID()
	assert.NotEmpty(t, sessionID)
	assert.False(t, repository.IsPendingSessionID(sessionID))

	drainStream(t, stream)

	session, err := f.sessions.Get(context.Background(), f.userID, sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "Hello, I just adopted a cat", session.Title)
	assert.Equal(t, "Hello, I just adopted a cat", session.FirstMessageText)

	assert.Equal(t, 1, f.messages.countByRole(sessionID, "user"))
	assert.Equal(t, 1, f.messages.countByRole(sessionID, "assistant"))
	assert.Equal(t, sessionID, f.clientState.get(f.userID))
}

func TestSendMessage_PendingIDNeverReachesStorage(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("ok"),
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)

	stream, err := f.manager.SendMessage(context.Background(), "first message")
	require.NoError(t, err)
	drainStream(t, stream)

	for _, message := range f.messages.all() {
		assert.False(t, repository.IsPendingSessionID(message.SessionID),
			"message persisted under placeholder id %s", message.SessionID)
	}
	assert.False(t, repository.IsPendingSessionID(f.clientState.get(f.userID)))
}

func TestSendMessage_LongTitleTruncated(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("ok"),
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)

	long := strings.Repeat("a", 200)
	stream, err := f.manager.SendMessage(context.Background(), long)
	require.NoError(t, err)
	drainStream(t, stream)

	session, err := f.sessions.Get(context.Background(), f.userID, f.manager.SessionID())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Len(t, session.Title, 60)
	assert.Equal(t, long, session.FirstMessageText)
}

func TestSendMessage_CreateFailureAllowsRetry(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("Hi"),
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)
	ctx := context.Background()

	f.sessions.createErr = assert.AnError

	_, err := f.manager.SendMessage(ctx, "first try")
	require.Error(t, err)
	assert.Equal(t, StateNone, f.manager.State(), "a failed create must not leave the manager pending")

	// The store is healthy again; the retry goes through.
	stream, err := f.manager.SendMessage(ctx, "first try")
	require.NoError(t, err)
	drainStream(t, stream)

	assert.Equal(t, StateActive, f.manager.State())
	assert.False(t, repository.IsPendingSessionID(f.manager.SessionID()))
	assert.Equal(t, 1, f.messages.countByRole(f.manager.SessionID(), "user"))
}

func TestSendMessage_MultibyteTitleStaysValidUTF8(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("ok"),
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)

	long := strings.Repeat("日本語のテキスト", 20)
	stream, err := f.manager.SendMessage(context.Background(), long)
	require.NoError(t, err)
	drainStream(t, stream)

	session, err := f.sessions.Get(context.Background(), f.userID, f.manager.SessionID())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, utf8.ValidString(session.Title))
	assert.LessOrEqual(t, len(session.Title), 60)
}

func TestSelectSession_RejectsPendingID(t *testing.T) {
	f := newConvFixture(t, &mockProvider{})

	err := f.manager.SelectSession(context.Background(), repository.PendingSessionPrefix+"abc")
	require.ErrorIs(t, err, repository.ErrPendingSession)
}

func TestSelectSession_UnknownSession(t *testing.T) {
	f := newConvFixture(t, &mockProvider{})

	err := f.manager.SelectSession(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.Equal(t, StateNone, f.manager.State())
}

func TestSelectSession_RebuildsContextFromStorage(t *testing.T) {
	f := newConvFixture(t, &mockProvider{})
	ctx := context.Background()

	session := &repository.Session{UserID: f.userID, Title: "old chat"}
	require.NoError(t, f.sessions.Create(ctx, session))
	_, err := f.messages.Create(ctx, repository.Message{SessionID: session.ID, Role: "user", Content: "remember me?"})
	require.NoError(t, err)
	_, err = f.messages.Create(ctx, repository.Message{SessionID: session.ID, Role: "assistant", Content: "of course"})
	require.NoError(t, err)

	require.NoError(t, f.manager.SelectSession(ctx, session.ID))

	assert.Equal(t, StateActive, f.manager.State())
	assert.Equal(t, session.ID, f.manager.SessionID())
	assert.Equal(t, session.ID, f.clientState.get(f.userID))

	turns := f.manager.Context().Turns()
	require.Len(t, turns, 3) // system + two stored messages
	assert.Equal(t, "system", turns[0].Role)
	assert.Equal(t, "remember me?", turns[1].Text)
	assert.Equal(t, "of course", turns[2].Text)
}

func TestSelectSession_MemorizesSessionBeingLeft(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("Congrats on the cat!"),
		summaryText:  "User adopted a cat.",
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)
	ctx := context.Background()

	stream, err := f.manager.SendMessage(ctx, "I adopted a cat")
	require.NoError(t, err)
	drainStream(t, stream)
	firstSession := f.manager.SessionID()

	other := &repository.Session{UserID: f.userID, Title: "other"}
	require.NoError(t, f.sessions.Create(ctx, other))

	require.NoError(t, f.manager.SelectSession(ctx, other.ID))

	stored := waitForSummary(t, f.summaries, f.userID, firstSession)
	assert.Equal(t, "User adopted a cat.", stored.SummaryText)
	assert.Equal(t, memory.Fingerprint([]memory.Turn{
		{Role: "user", Text: "I adopted a cat"},
		{Role: "assistant", Text: "Congrats on the cat!"},
	}), stored.ContentHash)
}

func TestLogout_MemorizesAndClears(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("Nice!"),
		summaryText:  "User shared some news.",
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)

	stream, err := f.manager.SendMessage(context.Background(), "guess what happened")
	require.NoError(t, err)
	drainStream(t, stream)
	sessionID := f.manager.SessionID()

	f.manager.Logout()

	assert.Equal(t, StateNone, f.manager.State())
	assert.Empty(t, f.manager.SessionID())
	waitForSummary(t, f.summaries, f.userID, sessionID)
}

func TestStartSession_ReconcilesAbandonedSession(t *testing.T) {
	provider := &mockProvider{
		summaryText: "User planned a trip.",
		embedding:   []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)
	ctx := context.Background()

	// A previous visit left a durable session behind without a handoff.
	abandoned := &repository.Session{UserID: f.userID, Title: "trip"}
	require.NoError(t, f.sessions.Create(ctx, abandoned))
	_, err := f.messages.Create(ctx, repository.Message{SessionID: abandoned.ID, Role: "user", Content: "planning a trip to Lisbon"})
	require.NoError(t, err)
	require.NoError(t, f.clientState.SetLastActiveSession(ctx, f.userID, abandoned.ID))

	f.manager.StartSession(ctx)

	assert.Equal(t, StateNone, f.manager.State())
	waitForSummary(t, f.summaries, f.userID, abandoned.ID)
}

func TestMemorizeIfNeeded_Guards(t *testing.T) {
	provider := &mockProvider{summaryText: "Summary.", embedding: []float32{1, 0, 0}}
	svc, summaries := newMemoryFixture(t, provider)
	turns := []memory.Turn{{Role: "user", Text: "hello"}}

	svc.MemorizeIfNeeded(uuid.New(), "", turns)
	svc.MemorizeIfNeeded(uuid.New(), repository.PendingSessionPrefix+"abc", turns)
	svc.MemorizeIfNeeded(uuid.New(), "sess-1", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, summaries.upsertCount())

	svc.MemorizeIfNeeded(uuid.New(), "sess-1", turns)
	require.Eventually(t, func() bool { return summaries.upsertCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestConversation_MemoryCarriesAcrossSessions(t *testing.T) {
	provider := &mockProvider{
		streamChunks: replyChunks("Sounds fun!"),
		summaryText:  "User loves hiking in the mountains.",
		embedding:    []float32{1, 0, 0},
	}
	f := newConvFixture(t, provider)
	ctx := context.Background()

	// First conversation.
	stream, err := f.manager.SendMessage(ctx, "I love to go hiking in the mountains")
	require.NoError(t, err)
	drainStream(t, stream)
	firstSession := f.manager.SessionID()

	f.manager.Logout()
	waitForSummary(t, f.summaries, f.userID, firstSession)

	// Later visit, fresh conversation.
	f.manager.StartSession(ctx)

	stream, err = f.manager.SendMessage(ctx, "hi again")
	require.NoError(t, err)
	drainStream(t, stream)

	stream, err = f.manager.SendMessage(ctx, "what do I like to do on weekends?")
	require.NoError(t, err)
	drainStream(t, stream)

	req := f.provider.lastStreamRequest()
	require.NotEmpty(t, req.Messages)
	require.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "User loves hiking in the mountains.")
	assert.Contains(t, req.Messages[0].Content, contextFraming)

	// The memory context stays out of the durable transcript.
	for _, message := range f.messages.all() {
		assert.NotContains(t, message.Content, contextFraming)
	}
}

func TestConversationHub_OneManagerPerUser(t *testing.T) {
	registry := providers.NewRegistry()
	memoryService := NewMemoryService(registry, "openai", "gpt-4o-mini", newMemSummaryRepo(), testMemoryConfig())
	chatService := NewChatService(registry, "openai", "gpt-4o", newMemMessageRepo())
	hub := NewConversationHub(newMemSessionRepo(), newMemMessageRepo(), newMemClientStateRepo(), memoryService, chatService, "sys")

	alice := uuid.New()
	bob := uuid.New()

	assert.Same(t, hub.Get(alice), hub.Get(alice))
	assert.NotSame(t, hub.Get(alice), hub.Get(bob))
}
