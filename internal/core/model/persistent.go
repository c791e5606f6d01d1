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

// Package model holds the entities shared by the indexing pipeline, the
// catalog and the search services.
//
// Persistent types (Video, Frame, TranscriptSegment, Clip, Task) carry both
// JSON and gorm tags because the same structs are returned by the HTTP API and
// stored by the catalog. Query-time types live in transient.go.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VideoStatus is the processing state of a Video.
type VideoStatus string

const (
	VideoStatusUploaded   VideoStatus = "uploaded"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusError      VideoStatus = "error"
)

// CaptionSource records where a frame's caption came from.
type CaptionSource string

const (
	// CaptionSourceModel is a caption produced by the captioning backend for this frame.
	CaptionSourceModel CaptionSource = "model"
	// CaptionSourceInherited is a caption copied from the nearest captioned neighbour.
	CaptionSourceInherited CaptionSource = "inherited"
	// CaptionSourcePlaceholder is the "Frame N" caption used when no backend caption exists at all.
	CaptionSourcePlaceholder CaptionSource = "placeholder"
)

// Video is an uploaded source file and the bookkeeping the pipeline keeps for it.
//
// A Video is created with status "uploaded" when it is submitted, moves to
// "processing" when the indexing workflow picks it up, and ends in either
// "ready" or "error". It is only removed by an explicit delete, which also
// removes every Frame, TranscriptSegment, Clip and embedding that belongs to it.
type Video struct {
	ID         string         `json:"id" gorm:"primaryKey;size:64"`
	FileName   string         `json:"file_name" gorm:"size:512"`
	SourcePath string         `json:"source_path" gorm:"size:1024"`
	Duration   float64        `json:"duration"`
	FPS        float64        `json:"fps"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	FrameCount int            `json:"frame_count"`
	HasAudio   bool           `json:"has_audio"`
	Status     VideoStatus    `json:"status" gorm:"size:16;index"`
	Error      string         `json:"error,omitempty" gorm:"size:2048"`
	Info       datatypes.JSON `json:"info,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewVideo creates a Video in the "uploaded" state. The identifier is a UUIDv5
// of the stored source path, so submitting the same stored file twice refers to
// the same Video and re-processing replaces its previous generation.
func NewVideo(fileName string, sourcePath string) *Video {
	now := time.Now()
	return &Video{
		ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourcePath)).String(),
		FileName:   fileName,
		SourcePath: sourcePath,
		Status:     VideoStatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ApplyProbe copies probed stream metadata onto the video.
func (v *Video) ApplyProbe(info *ProbeInfo) {
	v.Duration = info.Duration
	v.FPS = info.FPS
	v.Width = info.Width
	v.Height = info.Height
	v.FrameCount = info.FrameCount
	v.HasAudio = info.HasAudio
}

// Frame is one sampled frame of a Video.
type Frame struct {
	VideoID       string        `json:"video_id" gorm:"primaryKey;size:64"`
	Index         int           `json:"frame_index" gorm:"primaryKey;column:frame_index;autoIncrement:false"`
	Timestamp     float64       `json:"timestamp"`
	Path          string        `json:"frame_path" gorm:"size:1024"`
	Caption       string        `json:"caption,omitempty" gorm:"size:4096"`
	CaptionSource CaptionSource `json:"caption_source,omitempty" gorm:"size:16"`
}

// HasOwnCaption reports whether the caption was produced for this frame rather than copied.
func (f *Frame) HasOwnCaption() bool {
	return f.Caption != "" && f.CaptionSource != CaptionSourceInherited
}

// PlaceholderCaption is the caption assigned when no backend caption is available for a video.
func PlaceholderCaption(frameIndex int) string {
	return fmt.Sprintf("Frame %d", frameIndex+1)
}

// TranscriptSegment is a timed piece of recognised speech.
type TranscriptSegment struct {
	VideoID string  `json:"video_id" gorm:"primaryKey;size:64"`
	Index   int     `json:"segment_index" gorm:"primaryKey;column:segment_index;autoIncrement:false"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text" gorm:"size:8192"`
}

// Range returns the segment's own time range.
func (s *TranscriptSegment) Range() TimeRange {
	return TimeRange{Start: s.Start, End: s.End}
}

// Clip is a materialized cut of a source video.
type Clip struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	VideoID   string    `json:"video_id" gorm:"size:64;index"`
	Ordinal   int       `json:"ordinal"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Path      string    `json:"path" gorm:"size:1024"`
	URL       string    `json:"url,omitempty" gorm:"size:2048"`
	CreatedAt time.Time `json:"created_at"`
}

// ClipID derives a stable identifier from the output path. Re-materializing the
// same file name therefore updates the existing record.
func ClipID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// TaskStatus is the state of an asynchronous processing task.
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task tracks one asynchronous run of the indexing workflow.
type Task struct {
	ID        string     `json:"task_id"`
	VideoID   string     `json:"video_id"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewTask creates a task in the processing state.
func NewTask(videoID string) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		Status:    TaskStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
