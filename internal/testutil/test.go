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

// Package test provides shared helpers for the test suites: loading the test
// configuration, deterministic fakes for the model backends, and generating
// small synthetic videos with ffmpeg.
package test

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
)

var (
	configOnce   sync.Once
	sharedConfig *cloud.Config
)

// HandleErr fails the test when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetTestUploadMessageText is a Cloud Storage finalize notification for a
// video dropped into the upload bucket.
func GetTestUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "video_uploads/lecture-001.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/video_uploads/o/lecture-001.mp4",
  "name": "incoming/lecture-001.mp4",
  "bucket": "video_uploads",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/video_uploads/o/lecture-001.mp4?generation=1728615848664286&alt=media",
  "metadata": { "touch": "18" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

// ModuleRoot walks up from the working directory to the directory holding go.mod.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory")
		}
		dir = parent
	}
}

// SetupOS points the configuration loader at configs/ with the "test" runtime.
// Tests run from their package directory, so the prefix is made absolute.
func SetupOS() (err error) {
	prefix := "configs"
	if root, err := ModuleRoot(); err == nil {
		prefix = filepath.Join(root, "configs")
	}
	if err = os.Setenv(cloud.EnvConfigFilePrefix, prefix); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and returns the shared copy.
// Tests that change settings should use NewTestConfig instead.
func GetConfig() *cloud.Config {
	configOnce.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		sharedConfig = config
	})
	return sharedConfig
}

// NewTestConfig returns a private copy of the test configuration whose
// storage directories live under t.TempDir().
func NewTestConfig(t *testing.T) *cloud.Config {
	t.Helper()
	c := *GetConfig()
	root := t.TempDir()
	c.Storage.DataDir = filepath.Join(root, "data")
	c.Storage.UploadDir = filepath.Join(root, "uploads")
	c.Storage.ClipDir = filepath.Join(root, "clips")
	c.Catalog.Driver = "sqlite"
	c.Catalog.DSN = filepath.Join(root, "catalog.db")
	return &c
}
