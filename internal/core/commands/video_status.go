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
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// VideoReady is the last command of the indexing chain.
type VideoReady struct {
	cor.BaseCommand
	repo *catalog.Repository
}

// NewVideoReady is the constructor for VideoReady.
//
// Inputs:
//   - name: The string name for this command.
//   - repo: The video catalog.
//
// Outputs:
//   - *VideoReady: A command reading and writing an *IndexJob.
func NewVideoReady(name string, repo *catalog.Repository) *VideoReady {
	return &VideoReady{BaseCommand: *cor.NewBaseCommand(name), repo: repo}
}

func (c *VideoReady) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	if err := c.repo.UpdateStatus(context.GetContext(), job.VideoID(), model.VideoStatusReady, ""); err != nil {
		c.Fail(context, err)
		return
	}
	job.Video.Status = model.VideoStatusReady
	job.Video.Error = ""
	c.Complete(context, job)
}
