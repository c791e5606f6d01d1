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

package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/stretchr/testify/assert"
)

func TestNewVideo(t *testing.T) {
	sourcePath := "/data/uploads/test-file.mp4"
	video := model.NewVideo("test-file.mp4", sourcePath)

	// The id is a UUIDv5 of the stored path so a resubmission maps to the same video.
	generatedID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourcePath))
	assert.Equal(t, generatedID.String(), video.ID)
	assert.Equal(t, model.VideoStatusUploaded, video.Status)
	assert.WithinDuration(t, time.Now(), video.CreatedAt, time.Second)
	assert.Equal(t, video.ID, model.NewVideo("other-name.mp4", sourcePath).ID)
}

func TestApplyProbe(t *testing.T) {
	video := model.NewVideo("a.mp4", "/tmp/a.mp4")
	video.ApplyProbe(&model.ProbeInfo{Duration: 60, FPS: 30, Width: 640, Height: 360, FrameCount: 1800, HasAudio: true})

	assert.Equal(t, 60.0, video.Duration)
	assert.Equal(t, 30.0, video.FPS)
	assert.Equal(t, 1800, video.FrameCount)
	assert.True(t, video.HasAudio)
}

func TestFrameCaptionOwnership(t *testing.T) {
	own := model.Frame{Caption: "a dog", CaptionSource: model.CaptionSourceModel}
	inherited := model.Frame{Caption: "a dog", CaptionSource: model.CaptionSourceInherited}
	placeholder := model.Frame{Caption: model.PlaceholderCaption(0), CaptionSource: model.CaptionSourcePlaceholder}

	assert.True(t, own.HasOwnCaption())
	assert.False(t, inherited.HasOwnCaption())
	assert.True(t, placeholder.HasOwnCaption())
	assert.Equal(t, "Frame 1", placeholder.Caption)
}

func TestNewTask(t *testing.T) {
	task := model.NewTask("video-1")

	assert.Equal(t, "video-1", task.VideoID)
	assert.Equal(t, model.TaskStatusProcessing, task.Status)
	_, err := uuid.Parse(task.ID)
	assert.NoError(t, err)
}

func TestClipIDIsStable(t *testing.T) {
	assert.Equal(t, model.ClipID("/clips/clip_1.mp4"), model.ClipID("/clips/clip_1.mp4"))
	assert.NotEqual(t, model.ClipID("/clips/clip_1.mp4"), model.ClipID("/clips/clip_2.mp4"))
}
