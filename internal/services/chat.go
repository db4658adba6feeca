package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/repository"
)

// assistantFailureMessage replaces the assistant placeholder's visible text
// when a stream fails; the placeholder is never left blank or removed.
const assistantFailureMessage = "Sorry, something went wrong while generating a response. Please try again."

// ChatService is the streaming response accumulator: it creates a
// placeholder assistant turn before the first delta, concatenates deltas
// into one running buffer, and persists exactly one final assistant message
// once the stream has converged.
type ChatService struct {
	registry   *providers.Registry
	providerID string
	chatModel  string
	messages   repository.MessageRepository
	log        *logrus.Entry
}

// NewChatService creates a new chat service
func NewChatService(registry *providers.Registry, providerID, chatModel string, messages repository.MessageRepository) *ChatService {
	return &ChatService{
		registry:   registry,
		providerID: providerID,
		chatModel:  chatModel,
		messages:   messages,
		log:        logrus.WithField("service", "chat"),
	}
}

// StreamResponse starts the assistant stream for the conversation context
// and returns the chunk channel. If the request fails before any streaming
// begins, the channel yields a single terminal error-text delta. The stream
// is never cancelled by the caller going away: it runs to completion and
// still persists its result, since the message remains valid history.
func (s *ChatService) StreamResponse(ctx context.Context, conv *ConversationContext, memoryContext string) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)

	// Placeholder first, so there is something to update incrementally.
	placeholder := conv.appendTurn(Turn{Role: "assistant", Pending: true})

	provider := s.registry.Get(s.providerID)
	if provider == nil {
		s.log.Debug("no completion provider configured")
		return s.failStream(out, conv, placeholder)
	}

	req := providers.CompletionRequest{
		Messages: conv.promptMessages(memoryContext),
		Model:    s.chatModel,
		Stream:   true,
	}

	stream, err := provider.StreamComplete(ctx, req)
	if err != nil {
		s.log.WithError(err).Warn("failed to start completion stream")
		return s.failStream(out, conv, placeholder)
	}

	go func() {
		defer close(out)

		var contentBuilder strings.Builder
		failed := false

		for chunk := range stream {
			if chunk.Error != "" {
				s.log.WithField("error", chunk.Error).Warn("completion stream failed")
				failed = true
				conv.setTurn(placeholder, assistantFailureMessage, false)
				out <- providers.StreamChunk{Delta: assistantFailureMessage, FinishReason: "error"}
				break
			}

			if chunk.Delta != "" {
				contentBuilder.WriteString(chunk.Delta)
				conv.setTurn(placeholder, contentBuilder.String(), true)
			}

			out <- chunk
		}

		if failed {
			return
		}

		final := contentBuilder.String()
		conv.setTurn(placeholder, final, false)

		// Persist only the converged result, exactly once, and only for a
		// durable session.
		if strings.TrimSpace(final) == "" {
			return
		}
		sessionID := conv.SessionID()
		if sessionID == "" || repository.IsPendingSessionID(sessionID) {
			return
		}

		_, err := s.messages.Create(context.Background(), repository.Message{
			SessionID: sessionID,
			Role:      "assistant",
			Content:   final,
		})
		if err != nil {
			s.log.WithError(err).Warn("failed to persist assistant message")
		}
	}()

	return out
}

// failStream replaces the placeholder with the failure message and yields a
// single terminal error-text delta.
func (s *ChatService) failStream(out chan providers.StreamChunk, conv *ConversationContext, placeholder int) <-chan providers.StreamChunk {
	conv.setTurn(placeholder, assistantFailureMessage, false)
	go func() {
		out <- providers.StreamChunk{Delta: assistantFailureMessage, FinishReason: "error"}
		close(out)
	}()
	return out
}
