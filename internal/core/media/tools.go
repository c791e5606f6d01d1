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

// Package media wraps the ffmpeg and ffprobe executables used to probe videos,
// sample frames, extract and split audio, and cut clips.
//
// Every invocation runs through exec.CommandContext with a timeout, so a stuck
// decoder cannot hold a pipeline forever. Failures to read or decode the input
// are reported as model.ErrDecode with the tail of ffmpeg's stderr attached.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// AudioChunk is a slice of a longer audio file. Offset is the chunk start in
// the source, in seconds.
type AudioChunk struct {
	Path   string
	Offset float64
}

// Tools is the set of media operations the pipeline needs.
type Tools interface {
	AssertReady(ctx context.Context) error
	Probe(ctx context.Context, path string) (*model.ProbeInfo, error)
	ExtractFrames(ctx context.Context, path string, outDir string, stride int, fps float64) ([]model.Frame, error)
	ExtractAudio(ctx context.Context, path string, outPath string) error
	SplitAudio(ctx context.Context, path string, outDir string, chunkSeconds int) ([]AudioChunk, error)
	Cut(ctx context.Context, path string, outPath string, r model.TimeRange) error
}

// FFmpeg implements Tools with the ffmpeg and ffprobe command line tools.
type FFmpeg struct {
	config cloud.Media
}

func NewFFmpeg(config cloud.Media) *FFmpeg {
	return &FFmpeg{config: config}
}

// AssertReady verifies both executables can be started.
func (f *FFmpeg) AssertReady(ctx context.Context) error {
	for _, bin := range []string{f.config.FFmpeg, f.config.FFprobe} {
		if _, err := f.run(ctx, bin, "-version"); err != nil {
			return fmt.Errorf("%s is not installed or not in PATH: %w", bin, err)
		}
	}
	return nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// Probe reads duration, frame rate, size and audio presence. The frame rate
// comes from r_frame_rate, then avg_frame_rate, then media.default_fps.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*model.ProbeInfo, error) {
	out, err := f.run(ctx, f.config.FFprobe, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w: %w", path, model.ErrDecode, err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output for %s: %w: %w", path, model.ErrDecode, err)
	}

	info := &model.ProbeInfo{}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	hasVideo := false
	nbFrames := 0
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.Codec = stream.CodecName
			fps, ok := ParseRate(stream.RFrameRate)
			if !ok {
				fps, ok = ParseRate(stream.AvgFrameRate)
			}
			if !ok {
				fps = f.config.DefaultFPS
			}
			info.FPS = fps
			nbFrames, _ = strconv.Atoi(stream.NbFrames)
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if !hasVideo {
		return nil, fmt.Errorf("%s has no video stream: %w", path, model.ErrDecode)
	}
	if info.FPS <= 0 {
		info.FPS = 30.0
	}
	if nbFrames > 0 {
		info.FrameCount = nbFrames
	} else {
		info.FrameCount = int(math.Round(info.Duration * info.FPS))
	}
	return info, nil
}

// ExtractFrames keeps every stride-th frame of the video as a JPEG in outDir.
// Frame i is stamped FrameTimestamp(i, stride, fps). On any failure outDir is
// removed so no partial frame set is left behind.
func (f *FFmpeg) ExtractFrames(ctx context.Context, path string, outDir string, stride int, fps float64) (frames []model.Frame, err error) {
	if stride <= 0 {
		return nil, fmt.Errorf("frame stride must be positive, got %d", stride)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %f", fps)
	}
	if err := os.RemoveAll(outDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(outDir); rmErr != nil {
				slog.WarnContext(ctx, "unable to remove partial frames", "dir", outDir, "error", rmErr)
			}
		}
	}()

	quality := f.config.JPEGQuality
	if quality <= 0 {
		quality = 2
	}
	_, err = f.run(ctx, f.config.FFmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-vf", fmt.Sprintf("select='not(mod(n,%d))'", stride),
		"-vsync", "vfr",
		"-q:v", strconv.Itoa(quality),
		filepath.Join(outDir, FrameFileNamePattern))
	if err != nil {
		return nil, fmt.Errorf("extracting frames from %s: %w: %w", path, model.ErrDecode, err)
	}

	paths, err := listFrames(outDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames decoded from %s: %w", path, model.ErrDecode)
	}

	frames = make([]model.Frame, len(paths))
	for i, p := range paths {
		frames[i] = model.Frame{
			Index:     i,
			Timestamp: FrameTimestamp(i, stride, fps),
			Path:      p,
		}
	}
	return frames, nil
}

// listFrames returns the frame files in numeric order. Lexical order breaks
// once the counter outgrows the %04d padding.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    int
		path string
	}
	found := make([]numbered, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "frame_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame_"), ".jpg"))
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out, nil
}

// ExtractAudio writes the first audio stream as mono 16-bit PCM WAV at the
// configured sample rate.
func (f *FFmpeg) ExtractAudio(ctx context.Context, path string, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	_, err := f.run(ctx, f.config.FFmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-vn", "-map", "0:a:0",
		"-ar", strconv.Itoa(f.sampleRate()),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("extracting audio from %s: %w", path, err)
	}
	return nil
}

// SplitAudio cuts an audio file into consecutive chunkSeconds long WAV files.
func (f *FFmpeg) SplitAudio(ctx context.Context, path string, outDir string, chunkSeconds int) ([]AudioChunk, error) {
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk length must be positive, got %d", chunkSeconds)
	}
	duration, err := f.audioDuration(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(outDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	var chunks []AudioChunk
	for i := 0; float64(i*chunkSeconds) < duration; i++ {
		start := float64(i * chunkSeconds)
		out := filepath.Join(outDir, fmt.Sprintf(AudioChunkNamePattern, i))
		_, err := f.run(ctx, f.config.FFmpeg,
			"-hide_banner", "-loglevel", "error", "-y",
			"-ss", formatSeconds(start),
			"-t", strconv.Itoa(chunkSeconds),
			"-i", path,
			"-ar", strconv.Itoa(f.sampleRate()),
			"-ac", "1",
			"-c:a", "pcm_s16le",
			out)
		if err != nil {
			return nil, fmt.Errorf("splitting %s at %.0fs: %w", path, start, err)
		}
		chunks = append(chunks, AudioChunk{Path: out, Offset: start})
	}
	return chunks, nil
}

func (f *FFmpeg) audioDuration(ctx context.Context, path string) (float64, error) {
	out, err := f.run(ctx, f.config.FFprobe, "-v", "error", "-show_entries", "format=duration", "-of", "csv=p=0", path)
	if err != nil {
		return 0, fmt.Errorf("probing audio %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("reading audio duration of %s: %w", path, err)
	}
	return d, nil
}

// Cut copies r out of the source without re-encoding. Stream copy snaps to
// key frames, so the clip may start slightly before r.Start.
func (f *FFmpeg) Cut(ctx context.Context, path string, outPath string, r model.TimeRange) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	_, err := f.run(ctx, f.config.FFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(r.Start),
		"-i", path,
		"-t", formatSeconds(r.Duration()),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y", outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("cutting %s [%.3f, %.3f]: %w", path, r.Start, r.End, err)
	}
	return nil
}

func (f *FFmpeg) sampleRate() int {
	if f.config.AudioSampleRate <= 0 {
		return 16000
	}
	return f.config.AudioSampleRate
}

// run executes bin with args under the media timeout and returns stdout.
func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout())
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s: %w", filepath.Base(bin), f.config.Timeout(), ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
