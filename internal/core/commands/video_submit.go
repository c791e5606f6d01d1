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

package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// Submitter starts asynchronous processing of a stored video. Both methods
// fail with model.ErrConflict while the same video is still queued or running.
type Submitter interface {
	Submit(ctx goctx.Context, videoPath string, fileName string) (taskID string, videoID string, err error)
	SubmitStaged(ctx goctx.Context, stagedPath string, videoPath string, fileName string) (taskID string, videoID string, err error)
}

// StagedVideo is a downloaded file waiting to be moved to Path.
type StagedVideo struct {
	StagedPath string
	Path       string
}

// SubmittedTask is the output of VideoSubmit.
type SubmittedTask struct {
	TaskID  string `json:"task_id"`
	VideoID string `json:"video_id"`
	// InFlight is set when the video was already being processed and no new
	// task was started.
	InFlight bool `json:"in_flight,omitempty"`
}

// VideoSubmit hands a local video to the task manager.
type VideoSubmit struct {
	cor.BaseCommand
	submitter Submitter
}

// NewVideoSubmit creates the last step of the ingest chain.
//
// Inputs:
//   - name: the command name used for spans and counters
//   - submitter: the task manager
//
// Outputs:
//   - a command reading a *StagedVideo or a local path from its input and
//     writing a *SubmittedTask
func NewVideoSubmit(name string, submitter Submitter) *VideoSubmit {
	return &VideoSubmit{BaseCommand: *cor.NewBaseCommand(name), submitter: submitter}
}

func (c *VideoSubmit) Execute(context cor.Context) {
	ctx := context.GetContext()

	var staged, path string
	switch in := context.Get(c.GetInputParam()).(type) {
	case *StagedVideo:
		if in != nil {
			staged, path = in.StagedPath, in.Path
		}
	case string:
		path = in
	}
	if path == "" {
		c.Fail(context, fmt.Errorf("expected a video path in %s", c.GetInputParam()))
		return
	}
	fileName := filepath.Base(path)
	if obj, ok := context.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject); ok && obj != nil {
		fileName = obj.BaseName()
	}

	var taskID, videoID string
	var err error
	if staged != "" {
		taskID, videoID, err = c.submitter.SubmitStaged(ctx, staged, path, fileName)
	} else {
		taskID, videoID, err = c.submitter.Submit(ctx, path, fileName)
	}
	if errors.Is(err, model.ErrConflict) {
		// A redelivered notification for a video that is still being indexed.
		slog.InfoContext(ctx, "video already processing", "task_id", taskID, "video_id", videoID, "path", path)
		c.Complete(context, &SubmittedTask{TaskID: taskID, VideoID: videoID, InFlight: true})
		return
	}
	if err != nil {
		c.Fail(context, err)
		return
	}
	slog.InfoContext(ctx, "video submitted", "task_id", taskID, "video_id", videoID, "path", path)
	c.Complete(context, &SubmittedTask{TaskID: taskID, VideoID: videoID})
}
