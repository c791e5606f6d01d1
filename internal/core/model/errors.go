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

package model

import "errors"

var (
	// ErrNotFound is returned when a video, task or index does not exist.
	// Searches against a video without a built index return it instead of an
	// empty result.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRange is returned for clip ranges that are inverted or fall
	// entirely outside the video.
	ErrInvalidRange = errors.New("invalid time range")
	// ErrDecode is returned when the source video cannot be probed or decoded.
	ErrDecode = errors.New("video could not be decoded")
	// ErrTransient marks backend failures that are worth retrying.
	ErrTransient = errors.New("transient backend error")
	// ErrNoSpeech is returned when an audio query contains no recognisable speech.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrConflict is returned when a video is submitted while an earlier
	// submission of the same video is still queued or running.
	ErrConflict = errors.New("video is already being processed")
)
