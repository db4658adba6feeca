package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/recallchat/recall-backend/internal/auth"
	"github.com/recallchat/recall-backend/internal/config"
	"github.com/recallchat/recall-backend/internal/database"
	"github.com/recallchat/recall-backend/internal/repository/postgres"
)

// Admin tool for seeding a user account without going through the API.
func main() {
	var (
		email    = flag.String("email", "test@example.com", "User email")
		password = flag.String("password", "Password123", "User password")
		username = flag.String("username", "testuser", "Username")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db.DB)
	jwtService := auth.NewJWTService(cfg.JWTSecret, "recall-backend")
	authService := auth.NewService(userRepo, jwtService)

	user, err := authService.Register(context.Background(), *email, *username, *password)
	if err != nil {
		log.Fatal("Failed to create user:", err)
	}

	fmt.Printf("Created user:\n")
	fmt.Printf("   Email: %s\n", user.Email)
	fmt.Printf("   Username: %s\n", user.Username)
	fmt.Printf("   ID: %s\n", user.ID)
	fmt.Printf("\nYou can now log in with these credentials.\n")
}
