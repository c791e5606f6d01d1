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

package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-video-search/internal/core/workflow"
)

// VideoUploadsListener is the topic_subscriptions key of the subscription
// that receives finalize notifications for the upload bucket.
const VideoUploadsListener = "VideoUploads"

// SetupListeners binds the ingest workflow to the upload subscription and
// starts receiving. Without Google Cloud there is nothing to listen to.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, submitter commands.Submitter) {
	listener, ok := cloudClients.PubSubListeners[VideoUploadsListener]
	if !ok {
		slog.Info("no upload subscription configured, videos are only accepted over HTTP")
		return
	}
	ingest := workflow.NewVideoIngestWorkflow(cloudClients.StorageClient, config.Storage.UploadDir, submitter)
	listener.SetCommand(ingest)
	listener.Listen(ctx)
}
