package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

// conversationKey returns the Redis key for a conversation's sorted index.
func conversationKey(a, b string) string {
	return "conv:" + ConversationKey(a, b) + ":messages"
}

// messageKey returns the Redis key holding a single message body.
func messageKey(id string) string {
	return "msg:" + id
}

// RedisStore persists messages in Redis: one JSON string per message and a
// sorted set per conversation scored by creation time in microseconds.
type RedisStore struct {
	client redis.Cmdable
	clock  func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewRedisStore creates a RedisStore on top of client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

// now never goes backwards, so scores keep append order if the wall clock
// steps back. Scores only carry microseconds.
func (s *RedisStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.clock().Truncate(time.Microsecond)
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

// Append writes the message body and its index entry in one transaction.
func (s *RedisStore) Append(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	stamp(msg, s.now())
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, messageKey(msg.ID), data, 0)
	pipe.ZAdd(ctx, conversationKey(msg.Sender, msg.Recipient), redis.Z{
		Score:  float64(msg.CreatedAt.UnixMicro()),
		Member: msg.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(ErrStorage, err)
	}
	return nil
}

// Conversation returns the messages between a and b, oldest first.
func (s *RedisStore) Conversation(ctx context.Context, a, b string) ([]*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	ids, err := s.client.ZRange(ctx, conversationKey(a, b), 0, -1).Result()
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}
	if len(ids) == 0 {
		return []*Message{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}

	msgs := make([]*Message, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, apperr.Wrap(ErrStorage, fmt.Errorf("decode message %s: %w", ids[i], err))
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Message, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}
	return &m, nil
}

// Delete removes the message body and its index entry. Only the caller
// whose DEL actually removed the body sees success.
func (s *RedisStore) Delete(ctx context.Context, id string) (*Message, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	n, err := s.client.Del(ctx, messageKey(id)).Result()
	if err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	if err := s.client.ZRem(ctx, conversationKey(m.Sender, m.Recipient), id).Err(); err != nil {
		return nil, apperr.Wrap(ErrStorage, err)
	}
	return m, nil
}
