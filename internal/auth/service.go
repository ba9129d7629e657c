package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/christopherjohns/chatline/internal/user"
)

var (
	ErrInvalidCredentials = apperr.New(apperr.KindAuthentication, "INVALID_CREDENTIALS", "wrong username or password")
	ErrInvalidInput       = apperr.New(apperr.KindValidation, "INVALID_CREDENTIALS_FORMAT", "username or password does not meet the requirements")
)

// Session is what a successful register or login hands back to the client.
type Session struct {
	Token    string
	Identity user.Identity
}

// Service registers accounts and exchanges credentials for identity tokens.
type Service struct {
	users  user.Repository
	tokens *Tokens
}

// NewService creates an auth service.
func NewService(users user.Repository, tokens *Tokens) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register validates c, stores the account and issues its first token.
func (s *Service) Register(ctx context.Context, c Credentials) (Session, error) {
	if err := ValidateCredentials(c); err != nil {
		return Session{}, apperr.Wrap(ErrInvalidInput, err)
	}

	hash, err := HashPassword(c.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, c.Username, hash)
	if err != nil {
		return Session{}, err
	}
	return s.issue(u.Identity())
}

// Login checks c against the stored hash. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, c Credentials) (Session, error) {
	u, err := s.users.GetByUsername(ctx, c.Username)
	if errors.Is(err, user.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}

	ok, err := ComparePassword(c.Password, u.PasswordHash)
	if err != nil || !ok {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(u.Identity())
}

// Logout revokes token.
func (s *Service) Logout(token string) {
	s.tokens.Revoke(token)
}

func (s *Service) issue(id user.Identity) (Session, error) {
	token, err := s.tokens.Issue(id)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Identity: id}, nil
}
