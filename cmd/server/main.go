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

// Package main is the video search server.
//
// It indexes uploaded videos (frames, captions, transcript and embeddings)
// in the background and serves search, summaries and clip generation over a
// REST API under /api/v1. Videos arrive either as multipart uploads or as
// Cloud Storage finalize notifications on the upload subscription.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/services"
	"github.com/jaycherian/gcp-go-video-search/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := GetConfig()
	telemetry.SetupLogging(config.Application.LogFile)
	slog.Info("logging initialized")

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("tracing initialized", "exporter", config.Telemetry.Exporter)

	if err := InitState(ctx); err != nil {
		slog.Error("failed to initialize state", "error", err)
		log.Fatal(err)
	}
	slog.Info("initialized state")

	r := gin.Default()
	r.MaxMultipartMemory = 32 << 20
	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		VideoRouter(apiV1)
		TaskRouter(apiV1)
		ClipRouter(apiV1)
		Dashboard(apiV1)
	}

	srv := &http.Server{
		Addr:              config.Application.ListenAddress,
		Handler:           r,
		ReadHeaderTimeout: 20 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	slog.Info("server ready", "address", config.Application.ListenAddress)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	cancel()
	CloseState(shutdownCtx)
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("failed to flush telemetry", "error", err)
	}
	log.Println("server exiting")
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRange), errors.Is(err, model.ErrNoSpeech):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrSearchDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func topK(c *gin.Context) (int, bool) {
	raw := c.Query("k")
	if raw == "" {
		return 0, true
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k <= 0 {
		badRequest(c, "k must be a positive integer")
		return 0, false
	}
	return k, true
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(filepath.Base(name), "_")
	if name == "" || name == "." || name == ".." || name == "_" {
		return "upload"
	}
	return name
}

// sniff reads the leading bytes of an uploaded file and reports whether one
// of accept recognises them.
func sniff(header *multipart.FileHeader, accept ...func([]byte) bool) (bool, error) {
	f, err := header.Open()
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 261)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	for _, fn := range accept {
		if fn(head[:n]) {
			return true, nil
		}
	}
	return false, nil
}

// saveQueryFile stores an uploaded query file in a temporary location. The
// returned cleanup removes it.
func saveQueryFile(c *gin.Context, field string, accept ...func([]byte) bool) (string, func(), bool) {
	header, err := c.FormFile(field)
	if err != nil {
		badRequest(c, "missing multipart field "+field)
		return "", nil, false
	}
	ok, err := sniff(header, accept...)
	if err != nil {
		abortWithError(c, err)
		return "", nil, false
	}
	if !ok {
		badRequest(c, "unsupported file type for "+field)
		return "", nil, false
	}
	dir := filepath.Join(state.config.Storage.UploadDir, "queries")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		abortWithError(c, err)
		return "", nil, false
	}
	path := filepath.Join(dir, uuid.NewString()+"_"+safeFileName(header.Filename))
	if err := c.SaveUploadedFile(header, path); err != nil {
		abortWithError(c, err)
		return "", nil, false
	}
	return path, func() { _ = os.Remove(path) }, true
}

type clipRequest struct {
	Ranges []model.TimeRange  `json:"ranges"`
	Hits   []*model.SearchHit `json:"hits"`
	Prefix string             `json:"prefix"`
}

// VideoRouter registers upload, lookup, deletion, summary, reindex, search
// and clip generation under /videos.
func VideoRouter(r *gin.RouterGroup) {
	videos := r.Group("/videos")
	{
		// POST /videos with a multipart "file" field. The video is stored in
		// the upload directory and indexed in the background.
		videos.POST("", func(c *gin.Context) {
			header, err := c.FormFile("file")
			if err != nil {
				badRequest(c, "missing multipart field file")
				return
			}
			ok, err := sniff(header, filetype.IsVideo)
			if err != nil {
				abortWithError(c, err)
				return
			}
			if !ok {
				badRequest(c, "file is not a recognised video container")
				return
			}
			name := safeFileName(header.Filename)
			incoming := filepath.Join(state.config.Storage.UploadDir, ".incoming")
			if err := os.MkdirAll(incoming, 0o755); err != nil {
				abortWithError(c, err)
				return
			}
			staged := filepath.Join(incoming, uuid.NewString()+"_"+name)
			if err := c.SaveUploadedFile(header, staged); err != nil {
				abortWithError(c, err)
				return
			}
			// The upload only replaces the stored file once no task is
			// reading it.
			path := filepath.Join(state.config.Storage.UploadDir, name)
			taskID, videoID, err := state.tasks.SubmitStaged(c.Request.Context(), staged, path, name)
			if err != nil {
				_ = os.Remove(staged)
				if errors.Is(err, model.ErrConflict) {
					c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "task_id": taskID, "video_id": videoID})
					return
				}
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "video_id": videoID, "status": model.TaskStatusProcessing})
		})

		videos.GET("", func(c *gin.Context) {
			out, err := state.videoService.List(c.Request.Context())
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		videos.GET("/:id", func(c *gin.Context) {
			out, err := state.videoService.Describe(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		videos.DELETE("/:id", func(c *gin.Context) {
			if err := state.videoService.Delete(c.Request.Context(), c.Param("id")); err != nil {
				abortWithError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		videos.GET("/:id/summary", func(c *gin.Context) {
			maxWords := 0
			if raw := c.Query("max_words"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					badRequest(c, "max_words must be a positive integer")
					return
				}
				maxWords = n
			}
			out, err := state.videoService.Summarize(c.Request.Context(), c.Param("id"), maxWords)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		videos.POST("/:id/reindex", func(c *gin.Context) {
			video, err := state.videoService.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			taskID, videoID, err := state.tasks.Submit(c.Request.Context(), video.SourcePath, video.FileName)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "video_id": videoID, "status": model.TaskStatusProcessing})
		})

		// GET /videos/:id/search/{transcript,captions,visual}?q=<text>&k=<n>
		videos.GET("/:id/search/:kind", func(c *gin.Context) {
			query := c.Query("q")
			if query == "" {
				badRequest(c, "missing query parameter q")
				return
			}
			k, ok := topK(c)
			if !ok {
				return
			}
			ctx, id := c.Request.Context(), c.Param("id")

			var hits []*model.SearchHit
			var err error
			switch c.Param("kind") {
			case "transcript":
				hits, err = state.searchService.SearchTranscript(ctx, query, id, k)
			case "captions":
				hits, err = state.searchService.SearchCaptions(ctx, query, id, k)
			case "visual":
				hits, err = state.searchService.SearchVisualByText(ctx, query, id, k)
			default:
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown search type " + c.Param("kind")})
				return
			}
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, hits)
		})

		videos.POST("/:id/search/image", func(c *gin.Context) {
			k, ok := topK(c)
			if !ok {
				return
			}
			path, cleanup, ok := saveQueryFile(c, "image", filetype.IsImage)
			if !ok {
				return
			}
			defer cleanup()
			hits, err := state.searchService.SearchByImage(c.Request.Context(), path, c.Param("id"), k)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, hits)
		})

		// Browsers record audio into webm, which sniffs as video.
		videos.POST("/:id/search/audio", func(c *gin.Context) {
			k, ok := topK(c)
			if !ok {
				return
			}
			path, cleanup, ok := saveQueryFile(c, "audio", filetype.IsAudio, filetype.IsVideo)
			if !ok {
				return
			}
			defer cleanup()
			hits, err := state.searchService.SearchAudio(c.Request.Context(), path, c.Param("id"), k)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, hits)
		})

		// POST /videos/:id/clips with {"ranges": [...]} or {"hits": [...]}.
		videos.POST("/:id/clips", func(c *gin.Context) {
			var req clipRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
			ranges := req.Ranges
			for _, h := range req.Hits {
				if h == nil {
					continue
				}
				if h.VideoID != "" && h.VideoID != c.Param("id") {
					badRequest(c, "hit belongs to video "+h.VideoID)
					return
				}
				ranges = append(ranges, h.Range)
			}
			if len(ranges) == 0 {
				badRequest(c, "no ranges or hits given")
				return
			}
			results, err := state.clipService.GenerateClips(c.Request.Context(), c.Param("id"), ranges, req.Prefix)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, results)
		})

		videos.GET("/:id/clips", func(c *gin.Context) {
			out, err := state.clipService.ListClips(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}

// TaskRouter exposes the status of background indexing tasks.
func TaskRouter(r *gin.RouterGroup) {
	tasks := r.Group("/tasks")
	{
		tasks.GET("/:id", func(c *gin.Context) {
			out, err := state.tasks.Status(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}

// ClipRouter serves generated clip files by video id and name.
func ClipRouter(r *gin.RouterGroup) {
	clips := r.Group("/clips")
	{
		clips.GET("/:video_id/:filename", func(c *gin.Context) {
			path, err := state.clipService.ClipPath(c.Param("video_id"), c.Param("filename"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.Header("Content-Type", "video/mp4")
			c.File(path)
		})
	}
}
