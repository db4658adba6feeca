package handlers

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/recallchat/recall-backend/internal/api/middleware"
	"github.com/recallchat/recall-backend/internal/services"
)

// SessionHandler exposes session and message management
type SessionHandler struct {
	svc *services.Services
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(svc *services.Services) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	sessions, err := h.svc.Sessions.List(c.Context(), userContext.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	return c.JSON(sessions)
}

// GetSession handles GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	session, err := h.svc.Sessions.Get(c.Context(), userContext.UserID, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	return c.JSON(session)
}

// UpdateSession handles PUT /api/v1/sessions/:id, renaming the session.
func (h *SessionHandler) UpdateSession(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	err := h.svc.Sessions.Update(c.Context(), userContext.UserID, c.Params("id"), map[string]interface{}{
		"title": req.Title,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update session",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteSession handles DELETE /api/v1/sessions/:id. Messages and the
// session's summary are removed with it.
func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	if err := h.svc.Sessions.Delete(c.Context(), userContext.UserID, c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete session",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetSessionMessages handles GET /api/v1/sessions/:id/messages
func (h *SessionHandler) GetSessionMessages(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	session, err := h.svc.Sessions.Get(c.Context(), userContext.UserID, c.Params("id"))
	if err != nil || session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	messages, err := h.svc.Messages.ListBySession(c.Context(), session.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}

	return c.JSON(messages)
}

// UpdateMessageFeedback handles PUT /api/v1/messages/:id/feedback
func (h *SessionHandler) UpdateMessageFeedback(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Feedback != "good" && req.Feedback != "bad" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Feedback must be good or bad",
		})
	}

	err := h.svc.Messages.UpdateFeedback(c.Context(), userContext.UserID, c.Params("id"), req.Feedback)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Message not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update feedback",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
