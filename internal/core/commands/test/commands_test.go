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

package commands_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/caption"
	"github.com/jaycherian/gcp-go-video-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRecordsIndexesEveryCaptionedFrame(t *testing.T) {
	frames := []model.Frame{
		{Index: 0, Timestamp: 0, Caption: "a dog", CaptionSource: model.CaptionSourceModel},
		{Index: 1, Timestamp: 0.33, Caption: "a dog", CaptionSource: model.CaptionSourceInherited},
		{Index: 2, Timestamp: 0.67, Caption: "Frame 3", CaptionSource: model.CaptionSourcePlaceholder},
		{Index: 3, Timestamp: 1.0, Caption: "", CaptionSource: model.CaptionSourceModel},
	}
	records := commands.TextRecords("v1", test.SampleSegments(), frames)
	require.Len(t, records, 7)

	for _, r := range records[:4] {
		assert.Equal(t, model.ContentTypeTranscript, r.ContentType)
		assert.Equal(t, "v1", r.VideoID)
	}
	assert.Equal(t, 2.0, records[1].Start)
	assert.Equal(t, 3.5, records[1].End)

	for i, r := range records[4:] {
		assert.Equal(t, model.ContentTypeCaption, r.ContentType)
		assert.Equal(t, i, r.ItemIndex)
		assert.Equal(t, frames[i].Timestamp, r.Start)
		assert.Equal(t, r.Start, r.End)
		assert.Equal(t, frames[i].Caption, r.Text)
	}
}

func TestTextRecordsAfterNearestFill(t *testing.T) {
	frames := make([]model.Frame, 20)
	for i := range frames {
		frames[i] = model.Frame{Index: i, Timestamp: float64(i) / 3}
	}
	frames[0].Caption, frames[0].CaptionSource = "a dog", model.CaptionSourceModel
	frames[10].Caption, frames[10].CaptionSource = "a cat", model.CaptionSourceModel
	caption.FillNearest(frames)

	records := commands.TextRecords("v1", nil, frames)
	assert.Len(t, records, 20)

	// With every backend call failed each frame still has its placeholder.
	failed := make([]model.Frame, 20)
	for i := range failed {
		failed[i] = model.Frame{Index: i, Timestamp: float64(i) / 3}
	}
	caption.FillNearest(failed)
	assert.Len(t, commands.TextRecords("v1", nil, failed), 20)
}

func TestEmbedRecords(t *testing.T) {
	embedder := test.NewHashEmbedder()
	records := commands.TextRecords("v1", test.SampleSegments(), nil)
	require.NoError(t, commands.EmbedRecords(context.Background(), embedder, records))
	for _, r := range records {
		assert.Len(t, r.Vector, embedder.Dim)
	}
}

func TestReadArtifactMissing(t *testing.T) {
	var out []commands.FrameTimestamp
	err := commands.ReadArtifact(filepath.Join(t.TempDir(), "frame_timestamps.json"), &out)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMediaTrigger(t *testing.T) {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, test.GetTestUploadMessageText())

	cmd := commands.NewMediaTriggerToGCSObject("trigger")
	cmd.Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())

	obj, ok := chainCtx.Get(cor.CtxOut).(*cloud.GCSObject)
	require.True(t, ok)
	assert.Equal(t, "video_uploads", obj.Bucket)
	assert.Equal(t, "incoming/lecture-001.mp4", obj.Name)
	assert.Equal(t, "lecture-001.mp4", obj.BaseName())
	assert.Same(t, obj, chainCtx.Get(cloud.GetGCSObjectName()))
}

func TestMediaTriggerRejectsImages(t *testing.T) {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, strings.Replace(test.GetTestUploadMessageText(), "video/mp4", "image/jpeg", 1))

	commands.NewMediaTriggerToGCSObject("trigger").Execute(chainCtx)
	assert.True(t, chainCtx.HasErrors())
	assert.Nil(t, chainCtx.Get(cor.CtxOut))
}

func TestLocalPath(t *testing.T) {
	path, err := commands.LocalPath("/uploads", &cloud.GCSObject{Bucket: "b", Name: "incoming/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/uploads", "b", "incoming", "a.mp4"), path)

	_, err = commands.LocalPath("/uploads", &cloud.GCSObject{Bucket: "b", Name: "../../etc/passwd"})
	assert.Error(t, err)
}

type fixedSubmitter struct {
	staged, path, name string
	busy               bool
}

func (f *fixedSubmitter) Submit(ctx context.Context, videoPath string, fileName string) (string, string, error) {
	return f.SubmitStaged(ctx, "", videoPath, fileName)
}

func (f *fixedSubmitter) SubmitStaged(_ context.Context, stagedPath string, videoPath string, fileName string) (string, string, error) {
	if f.busy {
		return "t0", "v1", fmt.Errorf("busy: %w", model.ErrConflict)
	}
	f.staged, f.path, f.name = stagedPath, videoPath, fileName
	return "t1", "v1", nil
}

func TestVideoSubmitUsesObjectName(t *testing.T) {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, "/uploads/b/incoming/x.mp4")
	chainCtx.Add(cloud.GetGCSObjectName(), &cloud.GCSObject{Bucket: "b", Name: "incoming/lecture.mp4"})

	submitter := &fixedSubmitter{}
	commands.NewVideoSubmit("submit", submitter).Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Equal(t, "lecture.mp4", submitter.name)
	assert.Equal(t, &commands.SubmittedTask{TaskID: "t1", VideoID: "v1"}, chainCtx.Get(cor.CtxOut))
}

func TestVideoSubmitMovesStagedDownload(t *testing.T) {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, &commands.StagedVideo{StagedPath: "/uploads/b/x.mp4.part-1", Path: "/uploads/b/x.mp4"})

	submitter := &fixedSubmitter{}
	commands.NewVideoSubmit("submit", submitter).Execute(chainCtx)
	require.False(t, chainCtx.HasErrors())
	assert.Equal(t, "/uploads/b/x.mp4.part-1", submitter.staged)
	assert.Equal(t, "/uploads/b/x.mp4", submitter.path)
	assert.Equal(t, "x.mp4", submitter.name)
}

func TestVideoSubmitAcceptsVideoAlreadyProcessing(t *testing.T) {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, &commands.StagedVideo{StagedPath: "/uploads/b/x.mp4.part-2", Path: "/uploads/b/x.mp4"})

	submitter := &fixedSubmitter{busy: true}
	commands.NewVideoSubmit("submit", submitter).Execute(chainCtx)
	require.False(t, chainCtx.HasErrors(), "a redelivery of a running video is acknowledged")
	assert.Equal(t, &commands.SubmittedTask{TaskID: "t0", VideoID: "v1", InFlight: true}, chainCtx.Get(cor.CtxOut))
	assert.Empty(t, submitter.path)
}
