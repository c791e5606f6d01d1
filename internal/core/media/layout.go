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

package media

import "path/filepath"

const (
	FramesDirName         = "frames"
	AudioFileName         = "audio.wav"
	AudioChunksDirName    = "audio_chunks"
	FrameTimestampsFile   = "frame_timestamps.json"
	FrameCaptionsFile     = "frame_captions.json"
	VideoInfoFile         = "video_info.json"
	TranscriptFile        = "transcript.json"
	VisualIndexFile       = "visual.index.json"
	FrameFileNamePattern  = "frame_%04d.jpg"
	AudioChunkNamePattern = "chunk_%03d.wav"
)

// Layout maps a video id to its artifact paths under a data directory:
//
//	{root}/{video_id}/frames/frame_0001.jpg
//	{root}/{video_id}/audio.wav
//	{root}/{video_id}/audio_chunks/chunk_000.wav
//	{root}/{video_id}/*.json
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) VideoDir(videoID string) string {
	return filepath.Join(l.Root, videoID)
}

func (l Layout) FramesDir(videoID string) string {
	return filepath.Join(l.VideoDir(videoID), FramesDirName)
}

func (l Layout) AudioPath(videoID string) string {
	return filepath.Join(l.VideoDir(videoID), AudioFileName)
}

func (l Layout) AudioChunksDir(videoID string) string {
	return filepath.Join(l.VideoDir(videoID), AudioChunksDirName)
}

// Artifact returns the path of a per-video JSON file such as VideoInfoFile.
func (l Layout) Artifact(videoID string, name string) string {
	return filepath.Join(l.VideoDir(videoID), name)
}
