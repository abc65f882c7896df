package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/models"
)

const (
	sessionKeyPrefix = "poker:session:"
	tokenKeyPrefix   = "poker:token:"

	// Optimistic transactions retry on WATCH conflicts; beyond this the
	// contention is pathological for a handful of estimators.
	maxTxRetries = 8
)

// RedisStore persists session records in Redis with native TTL expiry.
// Update uses WATCH/MULTI optimistic transactions so concurrent
// commands against the same session serialize without a process-local
// lock, which keeps the contract valid across multiple gateway
// processes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewRedisStore creates a Redis-backed store. It does not ping; the
// caller decides whether to fall back to the in-memory store.
func NewRedisStore(client *redis.Client, ttl time.Duration, clock clockwork.Clock) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{client: client, ttl: ttl, clock: clock}
}

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }
func tokenKey(token string) string       { return tokenKeyPrefix + token }

func (s *RedisStore) Upsert(ctx context.Context, record *Record) error {
	stored := record.Clone()
	stored.ExpiresAt = s.clock.Now().Add(s.ttl)

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(stored.Session.SessionID), payload, s.ttl)
	if stored.JoinToken != "" {
		pipe.Set(ctx, tokenKey(stored.JoinToken), stored.Session.SessionID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert session %s: %w", stored.Session.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) Update(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*Record, error) {
	key := sessionKey(sessionID)
	var updated *Record

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session %s: %w", sessionID, err)
		}

		record, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := mutate(record.Session); err != nil {
			return err
		}
		record.ExpiresAt = s.clock.Now().Add(s.ttl)

		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal session record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			if record.JoinToken != "" {
				pipe.Set(ctx, tokenKey(record.JoinToken), sessionID, s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}

		updated = record
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().
				Str("session_id", sessionID).
				Int("attempt", attempt+1).
				Msg("session update conflicted, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update session %s: too many conflicting writers", sessionID)
}

func (s *RedisStore) GetByToken(ctx context.Context, token string) (*Record, error) {
	sessionID, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve join token: %w", err)
	}
	return s.Get(ctx, sessionID)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	record, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	if record.JoinToken != "" {
		pipe.Del(ctx, tokenKey(record.JoinToken))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.scanSessions(ctx, func([]byte) error {
		count++
		return nil
	})
	return count, err
}

func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	err := s.scanSessions(ctx, func(data []byte) error {
		record, err := decodeRecord(data)
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// scanSessions iterates live session keys. Redis drops expired keys
// itself, so unlike the in-memory store there is nothing to prune.
func (s *RedisStore) scanSessions(ctx context.Context, visit func([]byte) error) error {
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("scan sessions: %w", err)
		}
		if err := visit(data); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan sessions: %w", err)
	}
	return nil
}
