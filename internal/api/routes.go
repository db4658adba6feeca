package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/recallchat/recall-backend/internal/api/handlers"
	"github.com/recallchat/recall-backend/internal/api/middleware"
	"github.com/recallchat/recall-backend/internal/auth"
	"github.com/recallchat/recall-backend/internal/services"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, svc *services.Services, authService *auth.Service) {
	api := app.Group("/api/v1")

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "recall-backend",
		})
	})

	// Authentication endpoints
	authHandler := handlers.NewAuthHandler(authService)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)

	// Protected routes
	protected := api.Group("", middleware.AuthRequired(authService))

	protected.Get("/auth/me", authHandler.Me)

	// Session management
	sessionHandler := handlers.NewSessionHandler(svc)
	protected.Get("/sessions", sessionHandler.ListSessions)
	protected.Get("/sessions/:id", sessionHandler.GetSession)
	protected.Put("/sessions/:id", sessionHandler.UpdateSession)
	protected.Delete("/sessions/:id", sessionHandler.DeleteSession)
	protected.Get("/sessions/:id/messages", sessionHandler.GetSessionMessages)
	protected.Put("/messages/:id/feedback", sessionHandler.UpdateMessageFeedback)

	// Session handoff triggers
	memoryHandler := handlers.NewMemoryHandler(svc)
	protected.Post("/memory/handoff", memoryHandler.Handoff)
	protected.Post("/memory/beacon", memoryHandler.Beacon)
	protected.Delete("/memory/:sessionId", memoryHandler.Forget)

	// WebSocket chat. The upgrade request carries the access token as a
	// query parameter since browsers cannot set headers on WebSocket dials.
	chatHandler := handlers.NewChatHandler(svc)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			token = c.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}

		if token != "" {
			user, err := authService.ValidateAccessToken(token)
			if err == nil {
				c.Locals("user", user)
				c.Locals("allowed", true)
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required for WebSocket",
		})
	})
	app.Get("/ws/chat", websocket.New(chatHandler.Stream))
}
