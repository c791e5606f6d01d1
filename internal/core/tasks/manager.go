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

// Package tasks runs video processing asynchronously and tracks its status.
//
// Submit records a task in the "processing" state and returns at once. The
// work runs in the background; at most max_concurrent_videos videos are
// processed at the same time, the rest wait on a weighted semaphore. A video
// has at most one task queued or running; a second submission of the same
// video fails with model.ErrConflict until the first one finishes. When the
// processor returns, the task moves to "completed" or "failed" and clients see
// the change on their next status poll.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// Processor indexes one video end to end.
type Processor interface {
	Process(ctx context.Context, video *model.Video) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, video *model.Video) error

func (f ProcessorFunc) Process(ctx context.Context, video *model.Video) error {
	return f(ctx, video)
}

type Manager struct {
	store     Store
	processor Processor
	sem       *semaphore.Weighted
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.Mutex
	active map[string]string // video id -> task id
}

// NewManager runs at most maxConcurrent videos at once.
func NewManager(store Store, processor Processor, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		processor: processor,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]string),
	}
}

// NewStore builds the configured task store.
func NewStore(config *cloud.Config, redisClient *redis.Client) (Store, error) {
	switch config.Tasks.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis task store selected but no redis client is connected")
		}
		return NewRedisStore(redisClient, time.Duration(config.Tasks.TTLHours)*time.Hour), nil
	default:
		return nil, fmt.Errorf("unknown task backend %q", config.Tasks.Backend)
	}
}

// Submit starts processing videoPath in the background and returns the task
// and video ids. The video id is derived from the path, so submitting the same
// file again re-indexes the same video once the previous task has finished.
func (m *Manager) Submit(ctx context.Context, videoPath string, fileName string) (taskID string, videoID string, err error) {
	return m.SubmitStaged(ctx, "", videoPath, fileName)
}

// SubmitStaged is Submit for a file that was written somewhere else first.
// Once the video id is reserved, stagedPath is renamed to videoPath, so a file
// being indexed is never overwritten by a later upload of the same name.
//
// Inputs:
//   - stagedPath: the freshly written file, or "" when videoPath is already in place
//   - videoPath: the stable location the video id is derived from
//   - fileName: the display name of the video
//
// Outputs:
//   - the task and video ids. When the video is already queued or running the
//     error wraps model.ErrConflict, taskID is the running task and stagedPath
//     is left untouched for the caller to remove.
func (m *Manager) SubmitStaged(ctx context.Context, stagedPath string, videoPath string, fileName string) (taskID string, videoID string, err error) {
	video := model.NewVideo(fileName, videoPath)
	task := model.NewTask(video.ID)

	if running, ok := m.reserve(video.ID, task.ID); !ok {
		return running, video.ID, fmt.Errorf("video %s is processed by task %s: %w", video.ID, running, model.ErrConflict)
	}
	if stagedPath != "" {
		if err = stage(stagedPath, videoPath); err != nil {
			m.release(video.ID)
			return "", "", err
		}
	}
	if err = m.store.Put(ctx, task); err != nil {
		m.release(video.ID)
		return "", "", err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(video.ID)
		m.run(task, video)
	}()
	return task.ID, video.ID, nil
}

// Active reports the task currently queued or running for videoID.
func (m *Manager) Active(videoID string) (taskID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskID, ok = m.active[videoID]
	return taskID, ok
}

func (m *Manager) reserve(videoID string, taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running, ok := m.active[videoID]; ok {
		return running, false
	}
	m.active[videoID] = taskID
	return taskID, true
}

func (m *Manager) release(videoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, videoID)
}

func stage(stagedPath string, videoPath string) error {
	if err := os.MkdirAll(filepath.Dir(videoPath), 0o755); err != nil {
		return err
	}
	if err := os.Rename(stagedPath, videoPath); err != nil {
		return fmt.Errorf("moving %s into place: %w", stagedPath, err)
	}
	return nil
}

func (m *Manager) run(task *model.Task, video *model.Video) {
	ctx := m.ctx
	log := slog.With("task_id", task.ID, "video_id", video.ID)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(task, err)
		return
	}
	defer m.sem.Release(1)

	log.Info("processing video", "file", video.FileName)
	start := time.Now()
	err := m.processor.Process(ctx, video)
	if err != nil {
		log.Error("video processing failed", "error", err, "elapsed", time.Since(start))
	} else {
		log.Info("video processed", "elapsed", time.Since(start))
	}
	m.finish(task, err)
}

func (m *Manager) finish(task *model.Task, err error) {
	task.UpdatedAt = time.Now()
	task.Status = model.TaskStatusCompleted
	if err != nil {
		task.Status = model.TaskStatusFailed
		task.Error = err.Error()
	}
	// The manager context may already be cancelled; the final status must
	// still be written.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := m.store.Put(ctx, task); perr != nil {
		slog.Error("unable to store task status", "task_id", task.ID, "error", perr)
	}
}

// Status returns the current state of a task.
func (m *Manager) Status(ctx context.Context, taskID string) (*model.Task, error) {
	return m.store.Get(ctx, taskID)
}

// Wait blocks until every submitted task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running work and waits for it to stop or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
