package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryRepository keeps accounts in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]User),
	}
}

func (r *MemoryRepository) Create(_ context.Context, username, passwordHash string) (User, error) {
	key := normalize(username)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[key]; ok {
		return User{}, ErrAlreadyExists
	}
	u := User{
		ID:           uuid.New().String(),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[key] = u
	return u, nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[normalize(username)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Identity, error) {
	r.mu.RLock()
	out := lo.MapToSlice(r.users, func(_ string, u User) Identity {
		return u.Identity()
	})
	r.mu.RUnlock()
	sortIdentities(out)
	return out, nil
}
