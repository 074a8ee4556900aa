package core

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"gwi.com/chat-history/internal/auth"
	"gwi.com/chat-history/internal/store"
)

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
}

// AccountService covers registration, login and token resolution.
type AccountService struct {
	users  UserStore
	tokens *auth.TokenManager
	log    *logrus.Logger
}

func NewAccountService(users UserStore, tokens *auth.TokenManager, log *logrus.Logger) *AccountService {
	return &AccountService{users: users, tokens: tokens, log: log}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AccountService) Register(ctx context.Context, email, password string) (*store.User, error) {
	const op = "AccountService.Register"
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, E(CodeInternal, op, "Failed to process password.", err)
	}
	user, err := s.users.CreateUser(ctx, normalizeEmail(email), hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, E(CodeConflict, op, "A user with this email already exists.", err)
		}
		return nil, E(CodeInternal, op, "Failed to create user.", err)
	}
	s.log.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// Login checks the credentials and returns the user with a fresh access token.
func (s *AccountService) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	const op = "AccountService.Login"
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, "", E(CodeInternal, op, "Failed to load user.", err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", E(CodeUnauthorized, op, "Invalid credentials.", nil)
	}
	token, err := s.tokens.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", E(CodeInternal, op, "Failed to generate token.", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to its user.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*store.User, error) {
	const op = "AccountService.Authenticate"
	userID, err := s.tokens.ValidateJWT(token)
	if err != nil {
		return nil, E(CodeUnauthorized, op, "Invalid token.", err)
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, E(CodeInternal, op, "Failed to process user identity.", err)
	}
	if user == nil {
		return nil, E(CodeUnauthorized, op, "User not found.", nil)
	}
	return user, nil
}
