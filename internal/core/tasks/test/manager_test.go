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

package tasks_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := tasks.NewMemoryStore()
	task := model.NewTask("v1")
	require.NoError(t, s.Put(ctx, task))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusProcessing, got.Status)

	got.Status = model.TaskStatusFailed
	again, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusProcessing, again.Status, "stored copies are isolated")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestManagerReportsOutcome(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("decode failed")
	m := tasks.NewManager(tasks.NewMemoryStore(), tasks.ProcessorFunc(func(_ context.Context, v *model.Video) error {
		if v.FileName == "bad.mp4" {
			return boom
		}
		return nil
	}), 2)

	okTask, okVideo, err := m.Submit(ctx, "/uploads/good.mp4", "good.mp4")
	require.NoError(t, err)
	badTask, _, err := m.Submit(ctx, "/uploads/bad.mp4", "bad.mp4")
	require.NoError(t, err)
	assert.Equal(t, model.NewVideo("good.mp4", "/uploads/good.mp4").ID, okVideo)

	m.Wait()

	got, err := m.Status(ctx, okTask)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, okVideo, got.VideoID)

	got, err = m.Status(ctx, badTask)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, "decode failed", got.Error)
}

func TestManagerBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	m := tasks.NewManager(tasks.NewMemoryStore(), tasks.ProcessorFunc(func(_ context.Context, _ *model.Video) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}), 2)

	for i := 0; i < 5; i++ {
		_, _, err := m.Submit(context.Background(), fmt.Sprintf("/v%d.mp4", i), "v.mp4")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	m.Wait()
	assert.Equal(t, int32(2), peak.Load())
}

func TestManagerShutdownCancelsQueuedWork(t *testing.T) {
	started := make(chan struct{}, 1)
	m := tasks.NewManager(tasks.NewMemoryStore(), tasks.ProcessorFunc(func(ctx context.Context, _ *model.Video) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}), 1)

	first, _, err := m.Submit(context.Background(), "/a.mp4", "a.mp4")
	require.NoError(t, err)
	queued, _, err := m.Submit(context.Background(), "/b.mp4", "b.mp4")
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for _, id := range []string{first, queued} {
		got, err := m.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, got.Status)
	}
}

func TestManagerRunsOneTaskPerVideo(t *testing.T) {
	ctx := context.Background()
	var running, peak, runs atomic.Int32
	release := make(chan struct{})
	m := tasks.NewManager(tasks.NewMemoryStore(), tasks.ProcessorFunc(func(_ context.Context, _ *model.Video) error {
		n := running.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		runs.Add(1)
		<-release
		running.Add(-1)
		return nil
	}), 4)

	first, videoID, err := m.Submit(ctx, "/uploads/a.mp4", "a.mp4")
	require.NoError(t, err)
	active, ok := m.Active(videoID)
	assert.True(t, ok)
	assert.Equal(t, first, active)

	again, sameVideo, err := m.Submit(ctx, "/uploads/a.mp4", "a.mp4")
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, videoID, sameVideo)
	assert.Equal(t, first, again, "the conflict names the task already running")

	close(release)
	m.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, int32(1), runs.Load())
	_, ok = m.Active(videoID)
	assert.False(t, ok)

	// Once the first run is over the video can be indexed again.
	_, _, err = m.Submit(ctx, "/uploads/a.mp4", "a.mp4")
	require.NoError(t, err)
	m.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

func TestManagerSubmitStagedMovesFileIntoPlace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	release := make(chan struct{})
	m := tasks.NewManager(tasks.NewMemoryStore(), tasks.ProcessorFunc(func(_ context.Context, _ *model.Video) error {
		<-release
		return nil
	}), 1)

	final := filepath.Join(dir, "videos", "a.mp4")
	first := filepath.Join(dir, "a.mp4.part-1")
	require.NoError(t, os.WriteFile(first, []byte("first"), 0o644))
	_, videoID, err := m.SubmitStaged(ctx, first, final, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, model.NewVideo("a.mp4", final).ID, videoID)

	raw, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "first", string(raw))
	assert.NoFileExists(t, first)

	second := filepath.Join(dir, "a.mp4.part-2")
	require.NoError(t, os.WriteFile(second, []byte("second"), 0o644))
	_, _, err = m.SubmitStaged(ctx, second, final, "a.mp4")
	assert.ErrorIs(t, err, model.ErrConflict)

	raw, err = os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "first", string(raw), "a running video is not overwritten")
	assert.FileExists(t, second)

	close(release)
	m.Wait()
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run the redis task store test")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	s := tasks.NewRedisStore(client, time.Minute)
	task := model.NewTask("v1")
	task.Status = model.TaskStatusCompleted
	require.NoError(t, s.Put(ctx, task))
	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)

	_, err = s.Get(ctx, "missing-"+task.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
