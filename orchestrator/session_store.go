// Copyright 2025 ProcureSense
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// sessionTTL bounds how long idle session context is retained.
const sessionTTL = 24 * time.Hour

// SessionStore persists per-session context material between requests so
// that follow-up requests in the same procurement conversation carry their
// history into the Session layer.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (SessionData, error)
	Save(ctx context.Context, sessionID string, data SessionData) error
	Delete(ctx context.Context, sessionID string) error
}

// MemorySessionStore is the default in-process store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionData
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionData)}
}

// Load returns the stored session data, or an empty SessionData for unknown
// sessions.
func (s *MemorySessionStore) Load(_ context.Context, sessionID string) (SessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID], nil
}

// Save stores the session data, replacing any previous value.
func (s *MemorySessionStore) Save(_ context.Context, sessionID string, data SessionData) error {
	s.mu.Lock()
	s.sessions[sessionID] = data
	s.mu.Unlock()
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// RedisSessionStore persists session data in Redis so that multiple service
// instances share conversation history.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore connects to Redis and verifies connectivity.
func NewRedisSessionStore(addr string) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisSessionStore{client: client, prefix: "session:"}, nil
}

// NewRedisSessionStoreWithClient wraps an existing client (enables testing).
func NewRedisSessionStoreWithClient(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: "session:"}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Load returns the stored session data; missing keys yield empty data.
func (s *RedisSessionStore) Load(ctx context.Context, sessionID string) (SessionData, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return SessionData{}, nil
	}
	if err != nil {
		return SessionData{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var data SessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return SessionData{}, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return data, nil
}

// Save stores the session data with the session TTL.
func (s *RedisSessionStore) Save(ctx context.Context, sessionID string, data SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sessionID, err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), raw, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
