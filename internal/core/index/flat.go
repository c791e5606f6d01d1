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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

type flatEntry struct {
	FrameRef
	Vector []float32 `json:"vector"`
}

// FlatVisualIndex is an exact search index kept in memory and mirrored to
// {data_dir}/{video_id}/visual.index.json, so it survives restarts. Indexes
// are loaded lazily on first use.
type FlatVisualIndex struct {
	mu      sync.RWMutex
	layout  media.Layout
	entries map[string][]flatEntry
}

func NewFlatVisualIndex(layout media.Layout) *FlatVisualIndex {
	return &FlatVisualIndex{layout: layout, entries: make(map[string][]flatEntry)}
}

func (f *FlatVisualIndex) Add(_ context.Context, videoID string, vectors [][]float32, refs []FrameRef) error {
	if len(vectors) != len(refs) {
		return fmt.Errorf("%d vectors for %d frames", len(vectors), len(refs))
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked(videoID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	next := make([]flatEntry, 0, len(current)+len(vectors))
	next = append(next, current...)
	for i, v := range vectors {
		if len(next) > 0 && len(next[0].Vector) != len(v) {
			return fmt.Errorf("vector %d has dimension %d, index has %d", i, len(v), len(next[0].Vector))
		}
		ref := refs[i]
		ref.VideoID = videoID
		next = append(next, flatEntry{FrameRef: ref, Vector: v})
	}
	if err := f.persist(videoID, next); err != nil {
		return err
	}
	f.entries[videoID] = next
	return nil
}

func (f *FlatVisualIndex) Query(_ context.Context, videoID string, vector []float32, k int) ([]VisualMatch, error) {
	entries, err := f.load(videoID)
	if err != nil {
		return nil, err
	}
	matches := make([]VisualMatch, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != len(vector) {
			return nil, fmt.Errorf("query has dimension %d, index has %d", len(vector), len(e.Vector))
		}
		matches = append(matches, VisualMatch{FrameRef: e.FrameRef, Distance: L2(vector, e.Vector)})
	}
	return keepVisual(matches, videoID, k), nil
}

func (f *FlatVisualIndex) Has(_ context.Context, videoID string) (bool, error) {
	entries, err := f.load(videoID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	return len(entries) > 0, err
}

func (f *FlatVisualIndex) Delete(_ context.Context, videoID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, videoID)
	err := os.Remove(f.path(videoID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FlatVisualIndex) load(videoID string) ([]flatEntry, error) {
	f.mu.RLock()
	entries, ok := f.entries[videoID]
	f.mu.RUnlock()
	if ok {
		return entries, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked(videoID)
}

func (f *FlatVisualIndex) loadLocked(videoID string) ([]flatEntry, error) {
	if entries, ok := f.entries[videoID]; ok {
		return entries, nil
	}
	raw, err := os.ReadFile(f.path(videoID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("visual index for %s: %w", videoID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var entries []flatEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("reading visual index for %s: %w", videoID, err)
	}
	f.entries[videoID] = entries
	return entries, nil
}

func (f *FlatVisualIndex) persist(videoID string, entries []flatEntry) error {
	path := f.path(videoID)
	if err := os.MkdirAll(f.layout.VideoDir(videoID), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FlatVisualIndex) path(videoID string) string {
	return f.layout.Artifact(videoID, media.VisualIndexFile)
}
