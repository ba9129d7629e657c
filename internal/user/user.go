//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=mocks/mock_repository.go -package=mocks
package user

import (
	"context"
	"strings"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
)

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrAlreadyExists = apperr.New(apperr.KindConflict, "USERNAME_TAKEN", "username already taken")
	ErrStorage       = apperr.New(apperr.KindStorage, "USER_STORAGE", "user storage failure")
)

// Identity is the part of a user the hub and the presence list carry around.
type Identity struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
}

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity returns the public projection of u.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username}
}

// Repository persists accounts. Usernames are unique.
type Repository interface {
	Create(ctx context.Context, username, passwordHash string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context) ([]Identity, error)
}

// normalize folds a username into its storage key form.
func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
