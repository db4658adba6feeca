package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/recallchat/recall-backend/internal/config"
	"github.com/recallchat/recall-backend/internal/memory"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/repository"
)

const (
	summaryInstruction = "Summarize the following conversation in one or two sentences. " +
		"Capture the topics discussed and anything the user revealed about themselves. " +
		"Output only the summary text, nothing else."

	contextFraming = "Relevant context from past conversations: "

	transcriptTruncationMarker = "[earlier conversation truncated]\n"
	contextTruncationMarker    = "..."
)

// MemoryService turns finished sessions into retrievable memories: it
// condenses a transcript into a short summary with an embedding, stores it
// keyed by session id, and later ranks stored summaries against a new query.
type MemoryService struct {
	registry     *providers.Registry
	providerID   string
	summaryModel string
	summaries    repository.SummaryRepository
	cfg          config.MemoryConfig
	log          *logrus.Entry
}

// NewMemoryService creates a new memory service
func NewMemoryService(registry *providers.Registry, providerID, summaryModel string, summaries repository.SummaryRepository, cfg config.MemoryConfig) *MemoryService {
	return &MemoryService{
		registry:     registry,
		providerID:   providerID,
		summaryModel: summaryModel,
		summaries:    summaries,
		cfg:          cfg,
		log:          logrus.WithField("service", "memory"),
	}
}

// MemorizeIfNeeded dispatches summarization for a session being left. It
// no-ops when there is nothing durable to memorize yet, and never blocks
// the caller: the pipeline runs on its own goroutine with its own context,
// and its errors are logged, not surfaced.
func (s *MemoryService) MemorizeIfNeeded(userID uuid.UUID, sessionID string, turns []memory.Turn) {
	if sessionID == "" || repository.IsPendingSessionID(sessionID) || len(turns) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		_ = s.SummarizeAndStore(ctx, userID, sessionID, turns)
	}()
}

// SummarizeAndStore condenses the transcript into a summary with an
// embedding and upserts it keyed by (user, session). Unchanged transcripts
// are detected by fingerprint and skipped without any provider call, so
// duplicate triggers for the same session state are free. Failures leave
// any prior summary untouched.
func (s *MemoryService) SummarizeAndStore(ctx context.Context, userID uuid.UUID, sessionID string, turns []memory.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if repository.IsPendingSessionID(sessionID) {
		s.log.WithField("session_id", sessionID).Warn("refusing to summarize a pending session")
		return repository.ErrPendingSession
	}

	log := s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
	})

	hash := memory.Fingerprint(turns)

	existing, err := s.summaries.Get(ctx, userID, sessionID)
	if err != nil {
		log.WithError(err).Warn("failed to load existing summary")
		return fmt.Errorf("failed to load existing summary: %w", err)
	}
	if existing != nil && existing.ContentHash == hash {
		log.Debug("transcript unchanged since last summary, skipping")
		return nil
	}

	provider := s.registry.Get(s.providerID)
	if provider == nil {
		log.Debug("no completion provider configured, skipping summarization")
		return providers.ErrNotConfigured
	}

	transcript := joinTranscript(turns, s.cfg.TranscriptCharBudget)

	temperature := float32(0.3)
	maxTokens := 120
	resp, err := provider.Complete(ctx, providers.CompletionRequest{
		Messages: []providers.Message{
			{Role: "system", Content: summaryInstruction},
			{Role: "user", Content: transcript},
		},
		Model:       s.summaryModel,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		log.WithError(err).Warn("summary completion failed")
		return fmt.Errorf("summary completion failed: %w", err)
	}

	summaryText := ""
	if len(resp.Choices) > 0 {
		summaryText = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if summaryText == "" {
		log.Warn("completion returned an empty summary, nothing to store")
		return nil
	}

	embedding, err := provider.Embed(ctx, summaryText)
	if err != nil {
		log.WithError(err).Warn("summary embedding failed")
		return fmt.Errorf("summary embedding failed: %w", err)
	}
	if s.cfg.EmbeddingDimensions > 0 && len(embedding) != s.cfg.EmbeddingDimensions {
		log.WithField("dimensions", len(embedding)).Warn("embedding has unexpected dimensionality")
		return fmt.Errorf("embedding has unexpected dimensionality %d", len(embedding))
	}

	err = s.summaries.Upsert(ctx, repository.SessionSummary{
		UserID:      userID,
		SessionID:   sessionID,
		SummaryText: summaryText,
		Embedding:   embedding,
		ContentHash: hash,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		log.WithError(err).Warn("failed to store summary")
		return fmt.Errorf("failed to store summary: %w", err)
	}

	log.WithField("content_hash", hash).Info("memorized session")
	return nil
}

// RetrieveContext embeds the query, ranks the user's stored summaries by
// cosine similarity, and returns a bounded context string for prompt
// injection. Every failure path degrades to an empty string: memory is an
// enrichment, never a reason to block chat.
func (s *MemoryService) RetrieveContext(ctx context.Context, userID uuid.UUID, query string, firstTurn bool) string {
	// The first turn of a brand-new conversation has no prior turn to need
	// context for; skip the embedding call entirely.
	if firstTurn {
		return ""
	}

	log := s.log.WithField("user_id", userID)

	provider := s.registry.Get(s.providerID)
	if provider == nil {
		log.Debug("no embedding provider configured, skipping retrieval")
		return ""
	}

	queryEmbedding, err := provider.Embed(ctx, query)
	if err != nil {
		log.WithError(err).Warn("query embedding failed, continuing without memory")
		return ""
	}

	summaries, err := s.summaries.ListByUser(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("failed to load summaries, continuing without memory")
		return ""
	}
	if len(summaries) == 0 {
		return ""
	}

	candidates := make([][]float32, len(summaries))
	for i, summary := range summaries {
		candidates[i] = summary.Embedding
	}

	ranked := memory.RankBySimilarity(candidates, queryEmbedding)

	limit := s.cfg.RetrievalLimit
	if limit > len(ranked) {
		limit = len(ranked)
	}

	texts := make([]string, 0, limit)
	for _, r := range ranked[:limit] {
		texts = append(texts, summaries[r.Index].SummaryText)
	}

	joined := strings.Join(texts, "\n\n")
	if len(joined) > s.cfg.ContextCharBudget {
		joined = truncateBytes(joined, s.cfg.ContextCharBudget) + contextTruncationMarker
	}
	joined = strings.TrimSpace(joined)
	if joined == "" {
		return ""
	}

	return contextFraming + joined
}

// joinTranscript renders turns as "Role: text" lines within a character
// budget, dropping the oldest content first.
func joinTranscript(turns []memory.Turn, budget int) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(capitalizeRole(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n\n")
	}

	transcript := b.String()
	if budget > 0 && len(transcript) > budget {
		transcript = transcriptTruncationMarker + tailBytes(transcript, budget)
	}
	return transcript
}

func capitalizeRole(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailBytes keeps at most the last n bytes of s without splitting a rune.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
