package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/recallchat/recall-backend/internal/repository"
)

var (
	// ErrInvalidCredentials is returned when email or password is wrong
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when the email is already registered
	ErrEmailTaken = errors.New("email already registered")
)

// UserContext carries the authenticated user's identity through a request.
type UserContext struct {
	UserID   uuid.UUID
	Email    string
	Username string
}

// Service handles registration, login, and token validation
type Service struct {
	users repository.UserRepository
	jwt   *JWTService
}

// NewService creates a new auth service
func NewService(users repository.UserRepository, jwt *JWTService) *Service {
	return &Service{
		users: users,
		jwt:   jwt,
	}
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, email, username, password string) (*repository.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("valid email is required")
	}
	if username == "" {
		return nil, errors.New("username is required")
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &repository.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Login validates credentials and returns a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*repository.User, string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !CheckPassword(password, user.PasswordHash) {
		return nil, "", "", ErrInvalidCredentials
	}

	accessToken, refreshToken, err := s.jwt.GenerateTokenPair(user.ID.String(), user.Email, user.Username)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to generate tokens: %w", err)
	}

	return user, accessToken, refreshToken, nil
}

// GetUser loads a user record by id
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*repository.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ValidateAccessToken validates a bearer token and returns the user context
func (s *Service) ValidateAccessToken(tokenString string) (*UserContext, error) {
	claims, err := s.jwt.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "access" {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidClaims
	}

	return &UserContext{
		UserID:   userID,
		Email:    claims.Email,
		Username: claims.Username,
	}, nil
}
