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

package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusVideoID    = "video_id"
	milvusFrameIndex = "frame_index"
	milvusTimestamp  = "timestamp"
	milvusFramePath  = "frame_path"
	milvusVector     = "vector"
	milvusEfSearch   = 74
)

// MilvusVisualIndex keeps frame vectors in a single Milvus collection with an
// HNSW index and filters every query on video_id.
type MilvusVisualIndex struct {
	client     client.Client
	collection string
	dim        int
}

// NewMilvusVisualIndex creates the collection and index when missing and
// loads the collection.
func NewMilvusVisualIndex(ctx context.Context, c client.Client, collection string, dim int) (*MilvusVisualIndex, error) {
	m := &MilvusVisualIndex{client: c, collection: collection, dim: dim}
	if err := m.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MilvusVisualIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", m.collection, err)
	}
	if !has {
		schema := entity.NewSchema().WithName(m.collection).WithDescription("video frame embeddings")
		schema.WithField(entity.NewField().WithName("id").WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true))
		schema.WithField(entity.NewField().WithName(milvusVideoID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName(milvusFrameIndex).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName(milvusTimestamp).WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName(milvusFramePath).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName(milvusVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.dim)))
		if err := m.client.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("creating collection %s: %w", m.collection, err)
		}
		idx, err := entity.NewIndexHNSW(entity.L2, 8, 200)
		if err != nil {
			return err
		}
		if err := m.client.CreateIndex(ctx, m.collection, milvusVector, idx, false, client.WithIndexName("idx_frame_vector")); err != nil {
			return fmt.Errorf("creating index on %s: %w", m.collection, err)
		}
		slog.InfoContext(ctx, "created milvus collection", "collection", m.collection, "dim", m.dim)
	}
	return m.client.LoadCollection(ctx, m.collection, false)
}

func (m *MilvusVisualIndex) Add(ctx context.Context, videoID string, vectors [][]float32, refs []FrameRef) error {
	if len(vectors) != len(refs) {
		return fmt.Errorf("%d vectors for %d frames", len(vectors), len(refs))
	}
	if len(vectors) == 0 {
		return nil
	}
	ids := make([]string, len(refs))
	indexes := make([]int64, len(refs))
	timestamps := make([]float64, len(refs))
	paths := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = videoID
		indexes[i] = int64(r.FrameIndex)
		timestamps[i] = r.Timestamp
		paths[i] = r.Path
	}
	_, err := m.client.Insert(ctx, m.collection, "",
		entity.NewColumnVarChar(milvusVideoID, ids),
		entity.NewColumnInt64(milvusFrameIndex, indexes),
		entity.NewColumnDouble(milvusTimestamp, timestamps),
		entity.NewColumnVarChar(milvusFramePath, paths),
		entity.NewColumnFloatVector(milvusVector, m.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("inserting %d frames for %s: %w", len(refs), videoID, err)
	}
	return m.client.Flush(ctx, m.collection, false)
}

func (m *MilvusVisualIndex) Query(ctx context.Context, videoID string, vector []float32, k int) ([]VisualMatch, error) {
	sp, err := entity.NewIndexHNSWSearchParam(max(milvusEfSearch, k))
	if err != nil {
		return nil, err
	}
	results, err := m.client.Search(ctx, m.collection, []string{}, videoFilter(videoID),
		[]string{milvusVideoID, milvusFrameIndex, milvusTimestamp, milvusFramePath},
		[]entity.Vector{entity.FloatVector(vector)}, milvusVector, entity.L2, k, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, fmt.Errorf("searching frames of %s: %w", videoID, err)
	}

	var matches []VisualMatch
	for _, r := range results {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var ref FrameRef
			if c, ok := cols[milvusVideoID].(*entity.ColumnVarChar); ok && i < c.Len() {
				ref.VideoID = c.Data()[i]
			}
			if c, ok := cols[milvusFrameIndex].(*entity.ColumnInt64); ok && i < c.Len() {
				ref.FrameIndex = int(c.Data()[i])
			}
			if c, ok := cols[milvusTimestamp].(*entity.ColumnDouble); ok && i < c.Len() {
				ref.Timestamp = c.Data()[i]
			}
			if c, ok := cols[milvusFramePath].(*entity.ColumnVarChar); ok && i < c.Len() {
				ref.Path = c.Data()[i]
			}
			// Milvus reports squared L2 distances.
			matches = append(matches, VisualMatch{FrameRef: ref, Distance: math.Sqrt(float64(r.Scores[i]))})
		}
	}
	if len(matches) == 0 {
		has, err := m.Has(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, fmt.Errorf("visual index for %s: %w", videoID, model.ErrNotFound)
		}
	}
	return keepVisual(matches, videoID, k), nil
}

func (m *MilvusVisualIndex) Has(ctx context.Context, videoID string) (bool, error) {
	rs, err := m.client.Query(ctx, m.collection, []string{}, videoFilter(videoID), []string{milvusFrameIndex},
		client.WithLimit(1), client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return false, fmt.Errorf("querying frames of %s: %w", videoID, err)
	}
	for _, col := range rs {
		if col.Name() == milvusFrameIndex && col.Len() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *MilvusVisualIndex) Delete(ctx context.Context, videoID string) error {
	if err := m.client.Delete(ctx, m.collection, "", videoFilter(videoID)); err != nil {
		return fmt.Errorf("deleting frames of %s: %w", videoID, err)
	}
	return nil
}

func videoFilter(videoID string) string {
	return fmt.Sprintf("%s == \"%s\"", milvusVideoID, strings.ReplaceAll(videoID, "\"", "\\\""))
}
