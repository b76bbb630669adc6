package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/jason-s-yu/chessd/internal/persistence"
)

// ErrUsernameTooShort and friends are returned verbatim as the failure
// reason in registration_failure/login_failure events.
var (
	ErrUsernameTooShort  = errors.New("username must be at least 3 characters")
	ErrPasswordTooShort  = errors.New("password must be at least 4 characters")
	ErrUsernameTaken     = errors.New("username already taken")
	ErrInvalidCredential = errors.New("invalid username or password")
)

const (
	minUsernameLength = 3
	minPasswordLength = 4
)

// Service implements the registration/password-verification collaborator
// the session engine treats as external, concretely, on top of the
// Persistence Gateway's durable store.
type Service struct {
	store *persistence.Store
}

// NewService wires a Service to its backing store.
func NewService(store *persistence.Store) *Service {
	return &Service{store: store}
}

// Register validates and creates a new account, issuing a session token the
// same way Authenticate does so registration_success can log a player
// straight in without a follow-up login round trip.
func (s *Service) Register(ctx context.Context, username, password string) (models.User, string, error) {
	if len(username) < minUsernameLength {
		return models.User{}, "", ErrUsernameTooShort
	}
	if len(password) < minPasswordLength {
		return models.User{}, "", ErrPasswordTooShort
	}

	if _, exists, err := s.store.FindUserByName(ctx, username); err != nil {
		return models.User{}, "", fmt.Errorf("check existing username: %w", err)
	} else if exists {
		return models.User{}, "", ErrUsernameTaken
	}

	hash, err := CreateHash(password, Params)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.InsertUser(ctx, username, hash)
	if err != nil {
		return models.User{}, "", fmt.Errorf("insert user: %w", err)
	}

	token, err := CreateJWT(u.ID)
	if err != nil {
		return models.User{}, "", fmt.Errorf("issue session token: %w", err)
	}
	return u, token, nil
}

// Authenticate verifies credentials and, on success, touches last_login
// and returns the user plus a freshly issued session token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (models.User, string, error) {
	u, exists, err := s.store.FindUserByName(ctx, username)
	if err != nil {
		return models.User{}, "", fmt.Errorf("find user: %w", err)
	}
	if !exists {
		return models.User{}, "", ErrInvalidCredential
	}

	ok, err := ComparePasswordAndHash(password, u.PasswordHash)
	if err != nil {
		return models.User{}, "", fmt.Errorf("compare password hash: %w", err)
	}
	if !ok {
		return models.User{}, "", ErrInvalidCredential
	}

	if err := s.store.TouchLastLogin(ctx, u.ID); err != nil {
		return models.User{}, "", fmt.Errorf("touch last login: %w", err)
	}

	token, err := CreateJWT(u.ID)
	if err != nil {
		return models.User{}, "", fmt.Errorf("issue session token: %w", err)
	}
	return u, token, nil
}

// UserByID loads a user directly by id, used by the router to refresh a
// connection's rating before a matchmaking search.
func (s *Service) UserByID(ctx context.Context, id int64) (models.User, error) {
	u, exists, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return models.User{}, fmt.Errorf("find user by id: %w", err)
	}
	if !exists {
		return models.User{}, ErrInvalidCredential
	}
	return u, nil
}

// VerifyToken resolves a bearer token back to a user, used on reconnect_to_game.
func (s *Service) VerifyToken(ctx context.Context, token string) (models.User, error) {
	userID, err := AuthenticateJWT(token)
	if err != nil {
		return models.User{}, fmt.Errorf("verify token: %w", err)
	}
	u, exists, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("find user by id: %w", err)
	}
	if !exists {
		return models.User{}, ErrInvalidCredential
	}
	return u, nil
}
