package services

import (
	"github.com/recallchat/recall-backend/internal/config"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/repository"
)

// Services aggregates all application services
type Services struct {
	Providers     *providers.Registry
	Sessions      repository.SessionRepository
	Messages      repository.MessageRepository
	Summaries     repository.SummaryRepository
	ClientState   repository.ClientStateRepository
	Memory        *MemoryService
	Chat          *ChatService
	Conversations *ConversationHub
	Config        *config.Config
}

// NewServices wires up all application services
func NewServices(
	cfg *config.Config,
	registry *providers.Registry,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	summaries repository.SummaryRepository,
	clientState repository.ClientStateRepository,
) *Services {
	providerID := cfg.DefaultProvider
	providerCfg := cfg.Providers[providerID]

	memoryService := NewMemoryService(registry, providerID, providerCfg.SummaryModel, summaries, cfg.Memory)
	chatService := NewChatService(registry, providerID, providerCfg.ChatModel, messages)
	hub := NewConversationHub(sessions, messages, clientState, memoryService, chatService, cfg.Memory.SystemPrompt)

	return &Services{
		Providers:     registry,
		Sessions:      sessions,
		Messages:      messages,
		Summaries:     summaries,
		ClientState:   clientState,
		Memory:        memoryService,
		Chat:          chatService,
		Conversations: hub,
		Config:        cfg,
	}
}
