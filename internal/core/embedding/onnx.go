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
	"fmt"
	"log/slog"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitONNXRuntime loads the onnxruntime shared library once per process.
// Later calls return the first call's result regardless of libraryPath.
func InitONNXRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if runtimeErr = ort.InitializeEnvironment(); runtimeErr != nil {
			runtimeErr = fmt.Errorf("failed to initialize ONNX environment: %w", runtimeErr)
			return
		}
		slog.Info("onnx runtime initialized", "library", libraryPath)
	})
	return runtimeErr
}

func newSession(modelPath string, inputs []string, outputs []string) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("failed to set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(0); err != nil {
		slog.Warn("failed to set onnx thread count", "error", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	return session, nil
}

func loadTokenizer(path string) (*tokenizer.Tokenizer, error) {
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	return tok, nil
}

// tokenBatch is a right-padded [batch, seqLen] token matrix.
type tokenBatch struct {
	ids    []int64
	mask   []int64
	types  []int64
	batch  int
	seqLen int
}

// encodeTexts tokenizes texts with special tokens. Sequences longer than
// maxLen keep their first maxLen-1 tokens plus their final special token.
func encodeTexts(tok *tokenizer.Tokenizer, texts []string, maxLen int) (*tokenBatch, error) {
	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}
	encodings, err := tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}

	ids := make([][]int, len(encodings))
	masks := make([][]int, len(encodings))
	seqLen := 0
	for i, enc := range encodings {
		id, am := enc.GetIds(), enc.GetAttentionMask()
		if maxLen > 1 && len(id) > maxLen {
			last := len(id) - 1
			id = append(append([]int{}, id[:maxLen-1]...), id[last])
			am = append(append([]int{}, am[:maxLen-1]...), am[last])
		}
		ids[i], masks[i] = id, am
		seqLen = max(seqLen, len(id))
	}

	b := &tokenBatch{
		ids:    make([]int64, len(texts)*seqLen),
		mask:   make([]int64, len(texts)*seqLen),
		types:  make([]int64, len(texts)*seqLen),
		batch:  len(texts),
		seqLen: seqLen,
	}
	for i := range ids {
		offset := i * seqLen
		for j := range ids[i] {
			b.ids[offset+j] = int64(ids[i][j])
			b.mask[offset+j] = int64(masks[i][j])
		}
	}
	return b, nil
}

func (b *tokenBatch) shape() ort.Shape {
	return ort.NewShape(int64(b.batch), int64(b.seqLen))
}

// runFloat runs session and copies the single float32 output out of the
// runtime's memory. It returns the data and the output shape.
func runFloat(session *ort.DynamicAdvancedSession, inputs []ort.Value) ([]float32, ort.Shape, error) {
	outputs := make([]ort.Value, 1)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("output tensor is not float32 type")
	}
	data := tensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, tensor.GetShape().Clone(), nil
}

// rows splits a [n, dim] matrix into n vectors.
func rows(data []float32, shape ort.Shape) ([][]float32, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected a 2-d output, got shape %v", shape)
	}
	n, dim := int(shape[0]), int(shape[1])
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = data[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return out, nil
}
