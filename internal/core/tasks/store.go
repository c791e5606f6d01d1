// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/redis/go-redis/v9"
)

// Store keeps task status records.
type Store interface {
	Put(ctx context.Context, task *model.Task) error
	// Get returns model.ErrNotFound for unknown or expired tasks.
	Get(ctx context.Context, id string) (*model.Task, error)
}

// MemoryStore keeps tasks in process memory. Records are never expired.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]model.Task)}
}

func (m *MemoryStore) Put(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return &t, nil
}

// RedisStore keeps tasks as JSON values under "task:<id>" with a TTL, so
// several server replicas can answer status polls.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func taskKey(id string) string {
	return "task:" + id
}

func (r *RedisStore) Put(ctx context.Context, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task to JSON: %w", err)
	}
	if err := r.client.Set(ctx, taskKey(task.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("error storing task %s: %w", task.ID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*model.Task, error) {
	data, err := r.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading task %s: %w", id, err)
	}
	var t model.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
	}
	return &t, nil
}
