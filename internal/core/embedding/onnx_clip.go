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

package embedding

import (
	"context"
	"fmt"

	"github.com/sugarme/tokenizer"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	clipDimension = 512
	clipMaxTokens = 77
)

// ONNXClipEmbedder runs the text and vision towers of a CLIP ViT-B/32 export
// (text_embeds and image_embeds outputs). Both towers project into the same
// 512-d space.
type ONNXClipEmbedder struct {
	tokenizer     *tokenizer.Tokenizer
	textSession   *ort.DynamicAdvancedSession
	visionSession *ort.DynamicAdvancedSession
}

func NewONNXClipEmbedder(textModelPath, visionModelPath, tokenizerPath string) (*ONNXClipEmbedder, error) {
	tok, err := loadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}
	text, err := newSession(textModelPath, []string{"input_ids", "attention_mask"}, []string{"text_embeds"})
	if err != nil {
		return nil, err
	}
	vision, err := newSession(visionModelPath, []string{"pixel_values"}, []string{"image_embeds"})
	if err != nil {
		_ = text.Destroy()
		return nil, err
	}
	return &ONNXClipEmbedder{tokenizer: tok, textSession: text, visionSession: vision}, nil
}

func (e *ONNXClipEmbedder) Dimension() int {
	return clipDimension
}

func (e *ONNXClipEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	batch, err := encodeTexts(e.tokenizer, texts, clipMaxTokens)
	if err != nil {
		return nil, err
	}
	idsTensor, err := ort.NewTensor(batch.shape(), batch.ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(batch.shape(), batch.mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	data, shape, err := runFloat(e.textSession, []ort.Value{idsTensor, maskTensor})
	if err != nil {
		return nil, err
	}
	return rows(data, shape)
}

func (e *ONNXClipEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return [][]float32{}, nil
	}
	plane := 3 * ClipImageSize * ClipImageSize
	pixels := make([]float32, 0, len(paths)*plane)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := LoadImage(p)
		if err != nil {
			return nil, err
		}
		pixels = append(pixels, ClipPixels(img, ClipImageSize)...)
	}

	input, err := ort.NewTensor(ort.NewShape(int64(len(paths)), 3, ClipImageSize, ClipImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	defer input.Destroy()

	data, shape, err := runFloat(e.visionSession, []ort.Value{input})
	if err != nil {
		return nil, err
	}
	return rows(data, shape)
}

func (e *ONNXClipEmbedder) Close() {
	if e.textSession != nil {
		_ = e.textSession.Destroy()
	}
	if e.visionSession != nil {
		_ = e.visionSession.Destroy()
	}
}
