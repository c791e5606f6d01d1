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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
)

// GCSDownload copies the triggering object next to its final location in the
// upload directory. The final path mirrors bucket and object name, so a
// redelivered notification maps to the same video id; the task manager moves
// the download into place only when that video is not being processed. The
// file is kept after indexing because clips are cut from it.
type GCSDownload struct {
	cor.BaseCommand
	client    *storage.Client
	uploadDir string
}

// NewGCSDownload creates the download step of the ingest chain.
//
// Inputs:
//   - name: the command name used for spans and counters
//   - client: the Cloud Storage client
//   - uploadDir: the root the bucket directories are created under
//
// Outputs:
//   - a command reading a *cloud.GCSObject and writing a *StagedVideo
func NewGCSDownload(name string, client *storage.Client, uploadDir string) *GCSDownload {
	return &GCSDownload{BaseCommand: *cor.NewBaseCommand(name), client: client, uploadDir: uploadDir}
}

// LocalPath is where obj is stored under uploadDir. Object names that would
// resolve outside the bucket directory are rejected.
//
// Inputs:
//   - uploadDir: The root of the local upload directory.
//   - obj: The Cloud Storage object.
//
// Outputs:
//   - string: The local destination path.
//   - error: Set when the object name escapes uploadDir.
func LocalPath(uploadDir string, obj *cloud.GCSObject) (string, error) {
	root := filepath.Join(uploadDir, obj.Bucket)
	dst := filepath.Join(root, filepath.FromSlash(obj.Name))
	rel, err := filepath.Rel(root, dst)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object name %q escapes the upload directory", obj.Name)
	}
	return dst, nil
}

func (c *GCSDownload) Execute(context cor.Context) {
	obj, ok := context.Get(c.GetInputParam()).(*cloud.GCSObject)
	if !ok || obj == nil {
		c.Fail(context, fmt.Errorf("expected a GCS object in %s", c.GetInputParam()))
		return
	}
	ctx := context.GetContext()

	dst, err := LocalPath(c.uploadDir, obj)
	if err != nil {
		c.Fail(context, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		c.Fail(context, err)
		return
	}
	staged := fmt.Sprintf("%s.part-%s", dst, uuid.NewString())
	// Removed when the chain context closes unless it was moved into place.
	context.AddTempFile(staged)
	written, err := cloud.DownloadObject(ctx, c.client, obj, staged)
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to download %s: %w", obj.URI(), err))
		return
	}

	slog.InfoContext(ctx, "downloaded object", "object", obj.URI(), "path", dst, "bytes", written)
	c.Complete(context, &StagedVideo{StagedPath: staged, Path: dst})
}
