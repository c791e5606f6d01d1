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
	miniLMDimension = 384
	miniLMMaxTokens = 256
)

// ONNXTextEmbedder runs a sentence-transformers MiniLM export locally. The
// sentence vector is the attention-masked mean of the last hidden state.
type ONNXTextEmbedder struct {
	tokenizer *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
}

// NewONNXTextEmbedder loads model.onnx and tokenizer.json of an
// all-MiniLM-L6-v2 export. InitONNXRuntime must have succeeded.
func NewONNXTextEmbedder(modelPath string, tokenizerPath string) (*ONNXTextEmbedder, error) {
	tok, err := loadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}
	session, err := newSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"})
	if err != nil {
		return nil, err
	}
	return &ONNXTextEmbedder{tokenizer: tok, session: session}, nil
}

func (e *ONNXTextEmbedder) Dimension() int {
	return miniLMDimension
}

func (e *ONNXTextEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	batch, err := encodeTexts(e.tokenizer, texts, miniLMMaxTokens)
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
	typesTensor, err := ort.NewTensor(batch.shape(), batch.types)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	hidden, shape, err := runFloat(e.session, []ort.Value{idsTensor, maskTensor, typesTensor})
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected [batch, seq, hidden] output, got %v", shape)
	}
	return meanPool(hidden, batch.mask, int(shape[0]), int(shape[1]), int(shape[2])), nil
}

// meanPool averages the hidden states of the unmasked tokens of each sequence.
func meanPool(hidden []float32, mask []int64, batch, seqLen, dim int) [][]float32 {
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		v := make([]float32, dim)
		var count float32
		for t := 0; t < seqLen; t++ {
			if mask[b*seqLen+t] == 0 {
				continue
			}
			count++
			row := hidden[(b*seqLen+t)*dim : (b*seqLen+t+1)*dim]
			for d := range v {
				v[d] += row[d]
			}
		}
		if count > 0 {
			for d := range v {
				v[d] /= count
			}
		}
		out[b] = v
	}
	return out
}

func (e *ONNXTextEmbedder) Close() {
	if e.session != nil {
		_ = e.session.Destroy()
	}
}
