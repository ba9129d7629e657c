package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const userKeyPrefix = "user:"

// BadgerRepository stores accounts in BadgerDB under "user:<username>".
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates a repository backed by db.
func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db}
}

// Create persists a new account and returns it with a fresh ID.
func (r *BadgerRepository) Create(_ context.Context, username, passwordHash string) (User, error) {
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

	err = r.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + normalize(username))
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return User{}, err
		}
		return User{}, apperr.Wrap(ErrStorage, err)
	}
	return u, nil
}

// GetByUsername returns the account registered under username.
func (r *BadgerRepository) GetByUsername(_ context.Context, username string) (User, error) {
	var u User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKeyPrefix + normalize(username)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, apperr.Wrap(ErrStorage, err)
	}
	return u, nil
}

// List returns every account's identity ordered by username.
func (r *BadgerRepository) List(_ context.Context) ([]Identity, error) {
	var out []Identity
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var u User
				if err := json.Unmarshal(val, &u); err != nil {
					return err
				}
				out = append(out, u.Identity())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}
	sortIdentities(out)
	return out, nil
}

func sortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool {
		return normalize(ids[i].Username) < normalize(ids[j].Username)
	})
}
