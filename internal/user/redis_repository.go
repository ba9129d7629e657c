package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisUsersKey is the hash holding every account, keyed by normalized username.
const redisUsersKey = "users"

// RedisRepository stores accounts in a single Redis hash.
type RedisRepository struct {
	client redis.Cmdable
}

// NewRedisRepository creates a repository backed by client.
func NewRedisRepository(client redis.Cmdable) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Create(ctx context.Context, username, passwordHash string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	u := User{
		ID:           uuid.New().String(),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(u)
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}

	ok, err := r.client.HSetNX(ctx, redisUsersKey, normalize(username), data).Result()
	if err != nil {
		return User{}, apperr.Wrap(ErrStorage, err)
	}
	if !ok {
		return User{}, ErrAlreadyExists
	}
	return u, nil
}

func (r *RedisRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := r.client.HGet(ctx, redisUsersKey, normalize(username)).Result()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, apperr.Wrap(ErrStorage, err)
	}

	var u User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return User{}, apperr.Wrap(ErrStorage, err)
	}
	return u, nil
}

func (r *RedisRepository) List(ctx context.Context) ([]Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	vals, err := r.client.HVals(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}

	out := make([]Identity, 0, len(vals))
	for _, v := range vals {
		var u User
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			continue
		}
		out = append(out, u.Identity())
	}
	sortIdentities(out)
	return out, nil
}
