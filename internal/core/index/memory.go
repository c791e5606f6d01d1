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
	"sync"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// MemoryTextStore keeps text records in process memory, partitioned by video.
type MemoryTextStore struct {
	mu      sync.RWMutex
	records map[string][]TextRecord
}

func NewMemoryTextStore() *MemoryTextStore {
	return &MemoryTextStore{records: make(map[string][]TextRecord)}
}

func (m *MemoryTextStore) Add(_ context.Context, records []TextRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.VideoID == "" {
			return fmt.Errorf("text record %s/%d has no video id", r.ContentType, r.ItemIndex)
		}
		m.records[r.VideoID] = append(m.records[r.VideoID], r)
	}
	return nil
}

func (m *MemoryTextStore) Query(_ context.Context, videoID string, contentType model.ContentType, vector []float32, k int) ([]TextMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.records[videoID]
	if !ok {
		return nil, fmt.Errorf("text index for %s: %w", videoID, model.ErrNotFound)
	}
	matches := make([]TextMatch, 0, len(records))
	for _, r := range records {
		if r.ContentType != contentType {
			continue
		}
		if len(r.Vector) != len(vector) {
			return nil, fmt.Errorf("query has dimension %d, store has %d", len(vector), len(r.Vector))
		}
		matches = append(matches, TextMatch{TextRecord: r, Distance: L2(vector, r.Vector)})
	}
	return keepText(matches, videoID, contentType, k), nil
}

func (m *MemoryTextStore) Has(_ context.Context, videoID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[videoID]) > 0, nil
}

func (m *MemoryTextStore) Delete(_ context.Context, videoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, videoID)
	return nil
}
