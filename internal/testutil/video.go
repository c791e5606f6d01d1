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

package test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
)

// RequireFFmpeg skips the test when ffmpeg or ffprobe is not on PATH.
func RequireFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
	}
}

// MakeTestVideo renders a 320x240, 30 fps test pattern of the given length
// into dir and returns its path. withAudio adds a 440 Hz tone.
func MakeTestVideo(t *testing.T, dir string, seconds int, withAudio bool) string {
	t.Helper()
	RequireFFmpeg(t)

	out := filepath.Join(dir, fmt.Sprintf("testsrc_%ds.mp4", seconds))
	d := strconv.Itoa(seconds)
	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=" + d + ":size=320x240:rate=30"}
	if withAudio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:duration="+d)
	}
	args = append(args, "-c:v", "mpeg4", "-q:v", "5", "-pix_fmt", "yuv420p")
	if withAudio {
		args = append(args, "-c:a", "aac", "-shortest")
	}
	args = append(args, out)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("unable to render test video: %v: %s", err, output)
	}
	return out
}

// WriteGarbageVideo writes a file with a video extension that no decoder accepts.
func WriteGarbageVideo(t *testing.T, dir string) string {
	t.Helper()
	out := filepath.Join(dir, "broken.mp4")
	if err := os.WriteFile(out, []byte("this is not a video container"), 0o644); err != nil {
		t.Fatal(err)
	}
	return out
}
