package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"github.com/recallchat/recall-backend/internal/auth"
	"github.com/recallchat/recall-backend/internal/services"
)

// ChatHandler drives a conversation over a WebSocket connection
type ChatHandler struct {
	svc *services.Services
}

// NewChatHandler creates a new chat handler
func NewChatHandler(svc *services.Services) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type chatRequest struct {
	Type      string `json:"type"` // "start", "select", "message", "logout"
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type chatEvent struct {
	Type         string          `json:"type"` // "session", "history", "delta", "done", "error"
	SessionID    string          `json:"session_id,omitempty"`
	State        string          `json:"state,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Messages     []services.Turn `json:"messages,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Stream handles the /ws/chat connection
func (h *ChatHandler) Stream(c *websocket.Conn) {
	defer c.Close()

	userContext, ok := c.Locals("user").(*auth.UserContext)
	if !ok || userContext == nil {
		c.WriteJSON(chatEvent{Type: "error", Error: "Not authenticated"})
		return
	}

	manager := h.svc.Conversations.Get(userContext.UserID)
	log := logrus.WithField("user_id", userContext.UserID)

	for {
		var req chatRequest
		if err := c.ReadJSON(&req); err != nil {
			// Client went away; any in-flight memorization keeps running.
			return
		}

		ctx := context.Background()

		switch req.Type {
		case "start":
			manager.StartSession(ctx)
			c.WriteJSON(h.sessionEvent(manager))

		case "select":
			if err := manager.SelectSession(ctx, req.SessionID); err != nil {
				c.WriteJSON(chatEvent{Type: "error", Error: err.Error()})
				continue
			}
			c.WriteJSON(h.sessionEvent(manager))
			c.WriteJSON(chatEvent{Type: "history", Messages: manager.Context().Turns()})

		case "message":
			stream, err := manager.SendMessage(ctx, req.Content)
			if err != nil {
				c.WriteJSON(chatEvent{Type: "error", Error: err.Error()})
				continue
			}
			c.WriteJSON(h.sessionEvent(manager))

			for chunk := range stream {
				if chunk.Delta != "" {
					if err := c.WriteJSON(chatEvent{Type: "delta", Delta: chunk.Delta}); err != nil {
						// Keep draining: the stream runs to completion and
						// persists its result even when nobody is watching.
						for range stream {
						}
						return
					}
				}
				if chunk.FinishReason != "" {
					c.WriteJSON(chatEvent{Type: "done", FinishReason: chunk.FinishReason})
				}
			}

		case "logout":
			manager.Logout()
			c.WriteJSON(h.sessionEvent(manager))
			return

		default:
			log.WithField("type", req.Type).Debug("unknown chat request type")
			c.WriteJSON(chatEvent{Type: "error", Error: "Unknown request type"})
		}
	}
}

func (h *ChatHandler) sessionEvent(manager *services.ConversationManager) chatEvent {
	return chatEvent{
		Type:      "session",
		SessionID: manager.SessionID(),
		State:     manager.State().String(),
	}
}
