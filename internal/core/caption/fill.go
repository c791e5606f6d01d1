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

package caption

import (
	"sort"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// FillNearest gives every frame without its own caption the caption of the
// nearest frame that has one, measured in frame index. When two captioned
// frames are equally near, the earlier one wins. When no frame has a caption
// every frame gets its placeholder. frames is sorted by index in place.
func FillNearest(frames []model.Frame) {
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })

	n := len(frames)
	prev := make([]int, n) // position of the nearest own caption at or before i, -1 if none
	next := make([]int, n) // position of the nearest own caption at or after i, -1 if none

	last := -1
	for i := 0; i < n; i++ {
		if anchor(&frames[i]) {
			last = i
		}
		prev[i] = last
	}
	last = -1
	for i := n - 1; i >= 0; i-- {
		if anchor(&frames[i]) {
			last = i
		}
		next[i] = last
	}

	for i := range frames {
		f := &frames[i]
		if anchor(f) {
			continue
		}
		src := -1
		switch p, q := prev[i], next[i]; {
		case p < 0 && q < 0:
		case p < 0:
			src = q
		case q < 0:
			src = p
		case f.Index-frames[p].Index <= frames[q].Index-f.Index:
			src = p
		default:
			src = q
		}

		if src < 0 {
			f.Caption = model.PlaceholderCaption(f.Index)
			f.CaptionSource = model.CaptionSourcePlaceholder
			continue
		}
		f.Caption = frames[src].Caption
		f.CaptionSource = model.CaptionSourceInherited
	}
}

// anchor reports whether f carries a caption produced for that frame.
// Placeholders never propagate.
func anchor(f *model.Frame) bool {
	return f.Caption != "" && (f.CaptionSource == model.CaptionSourceModel || f.CaptionSource == "")
}
