package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/recallchat/recall-backend/internal/api/middleware"
	"github.com/recallchat/recall-backend/internal/repository"
	"github.com/recallchat/recall-backend/internal/services"
)

// MemoryHandler receives session-handoff triggers from the client
type MemoryHandler struct {
	svc *services.Services
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(svc *services.Services) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

type handoffRequest struct {
	SessionID string `json:"session_id"`
}

// Handoff handles POST /api/v1/memory/handoff, the normal session-leaving
// trigger (switching sessions, logging out). Summarization is dispatched in
// the background; the caller never waits on it.
func (h *MemoryHandler) Handoff(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	var req handoffRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.SessionID == "" || repository.IsPendingSessionID(req.SessionID) {
		// Nothing durable to memorize yet.
		return c.SendStatus(fiber.StatusAccepted)
	}

	// The session must belong to the caller; anyone else's id is a silent
	// no-op, never a probe into another user's transcript.
	session, err := h.svc.Sessions.Get(c.Context(), userContext.UserID, req.SessionID)
	if err != nil || session == nil {
		return c.SendStatus(fiber.StatusAccepted)
	}

	messages, err := h.svc.Messages.ListBySession(c.Context(), req.SessionID)
	if err != nil {
		logrus.WithError(err).Warn("handoff: failed to load session messages")
		return c.SendStatus(fiber.StatusAccepted)
	}

	h.svc.Memory.MemorizeIfNeeded(userContext.UserID, req.SessionID, services.MessagesToTurns(messages))

	return c.SendStatus(fiber.StatusAccepted)
}

// Forget handles DELETE /api/v1/memory/:sessionId, dropping the stored
// summary for one session. The session and its messages stay; only the
// memory derived from them is removed.
func (h *MemoryHandler) Forget(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	if err := h.svc.Summaries.DeleteBySession(c.Context(), userContext.UserID, c.Params("sessionId")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete memory",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Beacon handles POST /api/v1/memory/beacon, the page-unload transport.
// The sending page is being torn down and cannot observe the outcome, so
// the acknowledgment and the processing are two independent phases: respond
// immediately, then do all the work, including the message load, in the
// background.
func (h *MemoryHandler) Beacon(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	var req handoffRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" || repository.IsPendingSessionID(req.SessionID) {
		return c.SendStatus(fiber.StatusAccepted)
	}

	userID := userContext.UserID
	sessionID := req.SessionID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		// Same ownership rule as Handoff; the 202 already went out, so a
		// foreign session id simply does nothing.
		session, err := h.svc.Sessions.Get(ctx, userID, sessionID)
		if err != nil || session == nil {
			return
		}

		messages, err := h.svc.Messages.ListBySession(ctx, sessionID)
		if err != nil {
			logrus.WithError(err).Warn("beacon: failed to load session messages")
			return
		}
		if len(messages) == 0 {
			return
		}

		_ = h.svc.Memory.SummarizeAndStore(ctx, userID, sessionID, services.MessagesToTurns(messages))
	}()

	return c.SendStatus(fiber.StatusAccepted)
}
