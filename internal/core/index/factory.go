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

package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
)

const (
	BackendFlat     = "flat"
	BackendMilvus   = "milvus"
	BackendMemory   = "memory"
	BackendPgVector = "pgvector"
	BackendBigQuery = "bigquery"
)

// NewVisualIndex builds the configured visual index. dim is the image
// embedding dimension and only matters for backends that declare a schema.
func NewVisualIndex(ctx context.Context, config *cloud.Config, clients *cloud.ServiceClients, dim int) (VisualIndex, error) {
	switch config.Index.VisualBackend {
	case BackendFlat, "":
		return NewFlatVisualIndex(media.NewLayout(config.Storage.DataDir)), nil
	case BackendMilvus:
		if clients.MilvusClient == nil {
			return nil, errors.New("milvus visual index selected but no milvus client is connected")
		}
		return NewMilvusVisualIndex(ctx, clients.MilvusClient, config.Index.Milvus.Collection, dim)
	default:
		return nil, fmt.Errorf("unknown visual index backend %q", config.Index.VisualBackend)
	}
}

// NewTextStore builds the configured text store. dim is the text embedding
// dimension.
func NewTextStore(ctx context.Context, config *cloud.Config, clients *cloud.ServiceClients, dim int) (TextStore, error) {
	switch config.Index.TextBackend {
	case BackendMemory, "":
		return NewMemoryTextStore(), nil
	case BackendPgVector:
		if clients.PgPool == nil {
			return nil, errors.New("pgvector text store selected but no postgres pool is connected")
		}
		return NewPgVectorTextStore(ctx, clients.PgPool, config.Index.PgVector.Table, dim)
	case BackendBigQuery:
		if clients.BigQueryClient == nil {
			return nil, errors.New("bigquery text store selected but no Google Cloud project is configured")
		}
		ds := config.BigQueryDataSource
		return NewBigQueryTextStore(ctx, clients.BigQueryClient, ds.DatasetName, ds.TextEmbeddingTable)
	default:
		return nil, fmt.Errorf("unknown text store backend %q", config.Index.TextBackend)
	}
}
