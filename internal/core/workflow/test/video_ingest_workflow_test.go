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

package workflow_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingSubmitter) Submit(ctx context.Context, videoPath string, fileName string) (string, string, error) {
	return r.SubmitStaged(ctx, "", videoPath, fileName)
}

func (r *recordingSubmitter) SubmitStaged(_ context.Context, _ string, videoPath string, _ string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, videoPath)
	return "task", "video", nil
}

func runIngest(t *testing.T, message string) (*recordingSubmitter, cor.Context) {
	t.Helper()
	submitter := &recordingSubmitter{}
	w := workflow.NewVideoIngestWorkflow(nil, t.TempDir(), submitter)

	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(ctx)
	chainCtx.Add(cor.CtxIn, message)
	w.Execute(chainCtx)
	t.Cleanup(chainCtx.Close)
	return submitter, chainCtx
}

func TestVideoIngestRejectsNonVideoObjects(t *testing.T) {
	message := strings.Replace(test.GetTestUploadMessageText(), `"contentType": "video/mp4"`, `"contentType": "image/png"`, 1)
	submitter, chainCtx := runIngest(t, message)

	assert.True(t, chainCtx.HasErrors())
	assert.Contains(t, chainCtx.GetErrors(), "gcs-topic-listener")
	assert.Empty(t, submitter.paths)
}

func TestVideoIngestRejectsFolderPlaceholders(t *testing.T) {
	message := strings.Replace(test.GetTestUploadMessageText(), `"name": "incoming/lecture-001.mp4"`, `"name": "incoming/"`, 1)
	submitter, chainCtx := runIngest(t, message)

	assert.True(t, chainCtx.HasErrors())
	assert.Empty(t, submitter.paths)
}

func TestVideoIngestRejectsMalformedMessages(t *testing.T) {
	submitter, chainCtx := runIngest(t, "{not json")

	assert.True(t, chainCtx.HasErrors())
	assert.Empty(t, submitter.paths)
}
