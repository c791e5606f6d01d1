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

import (
	"strconv"
	"strings"
)

// FrameTimestamp is the presentation time in seconds of the i-th sampled frame
// when every stride-th source frame is kept. The result is computed in a single
// division so that the value is exact for the inputs (no accumulated drift).
func FrameTimestamp(i int, stride int, fps float64) float64 {
	return float64(i*stride) / fps
}

// ParseRate parses an ffprobe rate such as "30000/1001" or "25". It reports
// false for malformed, zero or negative rates.
func ParseRate(rate string) (float64, bool) {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0, false
	}
	num, den, isFraction := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	d := 1.0
	if isFraction {
		if d, err = strconv.ParseFloat(den, 64); err != nil || d == 0 {
			return 0, false
		}
	}
	fps := n / d
	if fps <= 0 {
		return 0, false
	}
	return fps, true
}
