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

package workflow

import (
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-video-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
)

// VideoIngestWorkflow reacts to a Cloud Storage upload notification: it
// downloads the new object to the upload directory and submits it for
// indexing. It is the command behind the upload topic's Pub/Sub listener.
type VideoIngestWorkflow struct {
	cor.BaseCommand
	storageClient *storage.Client
	uploadDir     string
	submitter     commands.Submitter
	chain         cor.Chain
}

func NewVideoIngestWorkflow(storageClient *storage.Client, uploadDir string, submitter commands.Submitter) *VideoIngestWorkflow {
	out := &VideoIngestWorkflow{
		BaseCommand:   *cor.NewBaseCommand("video-ingest-workflow"),
		storageClient: storageClient,
		uploadDir:     uploadDir,
		submitter:     submitter,
	}
	out.initializeChain()
	return out
}

func (w *VideoIngestWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewMediaTriggerToGCSObject("gcs-topic-listener"))
	out.AddCommand(commands.NewGCSDownload("gcs-download", w.storageClient, w.uploadDir))
	out.AddCommand(commands.NewVideoSubmit("video-submit", w.submitter))
	w.chain = out
}

func (w *VideoIngestWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}
