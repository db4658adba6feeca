package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/recallchat/recall-backend/internal/auth"
)

// AuthRequired creates a middleware that requires a valid bearer token
func AuthRequired(authService *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c.Get("Authorization"))
		if token == "" {
			// WebSocket clients can't set headers, so fall back to a query
			// parameter for upgrade requests.
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		userContext, err := authService.ValidateAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user", userContext)
		return c.Next()
	}
}

// GetUserContext returns the authenticated user for the request, or nil
func GetUserContext(c *fiber.Ctx) *auth.UserContext {
	userContext, ok := c.Locals("user").(*auth.UserContext)
	if !ok {
		return nil
	}
	return userContext
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
