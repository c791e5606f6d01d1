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
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/caption"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/embedding"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/services"
	"github.com/jaycherian/gcp-go-video-search/internal/core/tasks"
	"github.com/jaycherian/gcp-go-video-search/internal/core/transcribe"
	"github.com/jaycherian/gcp-go-video-search/internal/core/workflow"
)

// StateManager holds the process-wide dependencies shared by the HTTP
// handlers and the background listeners.
type StateManager struct {
	config        *cloud.Config
	cloud         *cloud.ServiceClients
	repo          *catalog.Repository
	tasks         *tasks.Manager
	searchService *services.SearchService
	clipService   *services.ClipService
	videoService  *services.VideoService
}

var state = &StateManager{}

// SetupOS points the configuration loader at configs/. The runtime defaults
// to "local" unless GCP_RUNTIME is already set.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig loads the configuration on first use.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os for configuration: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		state.config = config
	}
	return state.config
}

func dimension(e embedding.TextEmbedder) int {
	if e == nil {
		return 0
	}
	return e.Dimension()
}

// InitState opens every client and store, builds the services and starts the
// background work: the index rebuild timer and the Pub/Sub listeners.
func InitState(ctx context.Context) (err error) {
	config := GetConfig()
	for _, dir := range []string{config.Storage.DataDir, config.Storage.UploadDir, config.Storage.ClipDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if state.cloud, err = cloud.NewCloudServiceClients(ctx, config); err != nil {
		return err
	}
	if state.repo, err = catalog.Open(config.Catalog); err != nil {
		return err
	}
	if err := markInterrupted(ctx, state.repo); err != nil {
		return err
	}

	tools := media.NewFFmpeg(config.Media)
	if err := tools.AssertReady(ctx); err != nil {
		return err
	}
	transcriber, err := transcribe.New(config, state.cloud, tools)
	if err != nil {
		return err
	}
	captioner, err := caption.New(config, state.cloud)
	if err != nil {
		return err
	}
	textEmbedder, err := embedding.NewTextEmbedder(config, state.cloud)
	if err != nil {
		return err
	}
	imageEmbedder, err := embedding.NewImageEmbedder(config)
	if err != nil {
		return err
	}

	var visual index.VisualIndex
	if imageEmbedder != nil {
		if visual, err = index.NewVisualIndex(ctx, config, state.cloud, dimension(imageEmbedder)); err != nil {
			return err
		}
	}
	var text index.TextStore
	if textEmbedder != nil {
		if text, err = index.NewTextStore(ctx, config, state.cloud, dimension(textEmbedder)); err != nil {
			return err
		}
	}
	slog.Info("pipeline configured",
		"transcriber", config.Transcription.Provider,
		"captioning", config.Captioning.Provider,
		"text_embedding", config.Embedding.TextProvider,
		"image_embedding", config.Embedding.ImageProvider,
		"visual_index", visual != nil,
		"text_index", text != nil)

	indexWorkflow := workflow.NewVideoIndexWorkflow(workflow.Dependencies{
		Config:        config,
		Repo:          state.repo,
		Tools:         tools,
		Transcriber:   transcriber,
		Captioner:     captioner,
		ImageEmbedder: imageEmbedder,
		TextEmbedder:  textEmbedder,
		Visual:        visual,
		Text:          text,
	})
	store, err := tasks.NewStore(config, state.cloud.RedisClient)
	if err != nil {
		return err
	}
	state.tasks = tasks.NewManager(store, indexWorkflow, config.Application.MaxConcurrentVideos)

	state.searchService = &services.SearchService{
		Repo:          state.repo,
		Visual:        visual,
		Text:          text,
		TextEmbedder:  textEmbedder,
		ImageEmbedder: imageEmbedder,
		Transcriber:   transcriber,
		Config:        config.Search,
	}
	state.clipService = &services.ClipService{
		Repo:            state.repo,
		Tools:           tools,
		ClipDir:         config.Storage.ClipDir,
		Workers:         config.Clips.Workers,
		StorageClient:   state.cloud.StorageClient,
		IAMClient:       state.cloud.IAMClient,
		Bucket:          config.Storage.ClipBucket,
		SignerEmail:     config.Application.SignerServiceAccountEmail,
		SignedURLExpiry: time.Duration(config.Clips.SignedURLMinutes) * time.Minute,
	}
	state.videoService = services.NewVideoService(config, state.repo, visual, text, imageEmbedder, textEmbedder,
		state.cloud.AgentModels["summary"])

	rebuild := workflow.NewIndexRebuildWorkflow(state.repo, visual, text, state.videoService)
	if err := rebuild.RunOnce(ctx); err != nil {
		slog.Warn("initial index rebuild incomplete", "error", err)
	}
	if minutes := config.Application.IndexRebuildMinutes; minutes > 0 {
		rebuild.StartTimer(ctx, time.Duration(minutes)*time.Minute)
	}

	SetupListeners(ctx, config, state.cloud, state.tasks)
	return nil
}

// markInterrupted fails videos that were still processing when the previous
// process stopped; their tasks died with it.
func markInterrupted(ctx context.Context, repo *catalog.Repository) error {
	videos, err := repo.ListVideos(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, v := range videos {
		if v.Status != model.VideoStatusProcessing {
			continue
		}
		slog.Warn("marking interrupted video as failed", "video_id", v.ID)
		errs = append(errs, repo.UpdateStatus(ctx, v.ID, model.VideoStatusError, "processing was interrupted by a restart"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("recovering interrupted videos: %w", err)
	}
	return nil
}

// CloseState stops the task manager and releases every client.
func CloseState(ctx context.Context) {
	if state.tasks != nil {
		if err := state.tasks.Shutdown(ctx); err != nil {
			slog.Error("task manager did not stop cleanly", "error", err)
		}
	}
	if state.cloud != nil {
		state.cloud.Close()
	}
	if state.repo != nil {
		if err := state.repo.Close(); err != nil {
			slog.Error("failed to close catalog", "error", err)
		}
	}
}
