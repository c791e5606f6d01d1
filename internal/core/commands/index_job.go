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

// Package commands provides the concrete Command implementations that the
// workflows assemble into chains.
//
// The indexing chain passes a single *IndexJob from command to command through
// the default CtxIn/CtxOut parameters. Each command fills in the part of the
// job it is responsible for, persists it to the catalog and the per-video
// artifact files, and hands the job on. A command that fails records the error
// on the chain context and the chain stops; whatever earlier commands stored
// stays in place.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// IndexJob is the state of one video moving through the indexing chain.
type IndexJob struct {
	Video     *model.Video
	Info      *model.ProbeInfo
	Frames    []model.Frame
	AudioPath string
	Segments  []model.TranscriptSegment
}

// NewIndexJob starts a job for video.
func NewIndexJob(video *model.Video) *IndexJob {
	return &IndexJob{Video: video}
}

// VideoID is a shortcut for Video.ID.
func (j *IndexJob) VideoID() string {
	return j.Video.ID
}

// GetIndexJobParam is the context key the workflow stores the job under, so
// that the job is still reachable after a command fails.
func GetIndexJobParam() string {
	return "__INDEX_JOB__"
}

func indexJob(context cor.Context, param string) (*IndexJob, error) {
	job, ok := context.Get(param).(*IndexJob)
	if !ok || job == nil || job.Video == nil {
		return nil, fmt.Errorf("context parameter %s does not hold an index job", param)
	}
	return job, nil
}

// writeArtifact stores v as indented JSON at path. The file is written to a
// temporary name first so a reader never sees a partial document.
func writeArtifact(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadArtifact loads a JSON artifact written by the indexing chain.
func ReadArtifact(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), model.ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, v)
}
