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
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

const jpegMIME = "image/jpeg"

// PrepareImage reads a frame and, when its longest side exceeds maxDim,
// scales it down preserving the aspect ratio. Frames already within bounds are
// passed through untouched.
func PrepareImage(path string, maxDim int) ([]byte, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if maxDim <= 0 {
		return raw, jpegMIME, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return raw, jpegMIME, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}
	dst := image.NewRGBA(FitWithin(src.Bounds(), maxDim))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), jpegMIME, nil
}

// FitWithin returns the rectangle at the origin that fits r inside a maxDim
// square. Neither side drops below one pixel.
func FitWithin(r image.Rectangle, maxDim int) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w <= maxDim && h <= maxDim {
		return image.Rect(0, 0, w, h)
	}
	if w >= h {
		return image.Rect(0, 0, maxDim, max(1, h*maxDim/w))
	}
	return image.Rect(0, 0, max(1, w*maxDim/h), maxDim)
}
