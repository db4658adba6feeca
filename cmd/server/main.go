package main

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/recallchat/recall-backend/internal/api"
	"github.com/recallchat/recall-backend/internal/auth"
	"github.com/recallchat/recall-backend/internal/config"
	"github.com/recallchat/recall-backend/internal/database"
	"github.com/recallchat/recall-backend/internal/providers"
	"github.com/recallchat/recall-backend/internal/providers/openai"
	"github.com/recallchat/recall-backend/internal/repository/postgres"
	"github.com/recallchat/recall-backend/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Connect to database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Recall Backend",
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     getOrigins(),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(db.DB)
	messageRepo := postgres.NewMessageRepository(db.DB)
	summaryRepo := postgres.NewSummaryRepository(db.DB)
	clientStateRepo := postgres.NewClientStateRepository(db.DB)
	userRepo := postgres.NewUserRepository(db.DB)

	// Initialize auth service
	jwtService := auth.NewJWTService(cfg.JWTSecret, "recall-backend")
	authService := auth.NewService(userRepo, jwtService)

	// Initialize provider registry. A provider with no credentials is left
	// unregistered; chat and memory degrade instead of failing at startup.
	providerRegistry := providers.NewRegistry()
	for id, providerCfg := range cfg.Providers {
		if providerCfg.Type != "openai" {
			continue
		}
		if providerCfg.APIKey == "" {
			logrus.WithField("provider", id).Warn("Provider has no API key, skipping registration")
			continue
		}
		provider, err := openai.NewProvider(id, providerCfg)
		if err != nil {
			logrus.WithError(err).WithField("provider", id).Warn("Failed to initialize provider")
			continue
		}
		providerRegistry.Register(id, provider)
	}

	// Initialize services
	svc := services.NewServices(
		cfg,
		providerRegistry,
		sessionRepo,
		messageRepo,
		summaryRepo,
		clientStateRepo,
	)

	// Setup routes
	api.SetupRoutes(app, svc, authService)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logrus.WithField("addr", addr).Info("Recall backend starting")
	if err := app.Listen(addr); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func getOrigins() string {
	origins := os.Getenv("RECALL_CORS_ORIGINS")
	if origins == "" {
		return "http://localhost:5173,http://localhost:3000"
	}
	return origins
}
