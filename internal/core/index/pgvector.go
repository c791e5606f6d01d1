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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/pgvector/pgvector-go"
)

// PgVectorTextStore keeps text embeddings in a Postgres table with a vector
// column and answers queries with the <-> (L2) operator.
type PgVectorTextStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgVectorTextStore creates the vector extension, the table and its
// indexes when missing.
func NewPgVectorTextStore(ctx context.Context, pool *pgxpool.Pool, table string, dim int) (*PgVectorTextStore, error) {
	s := &PgVectorTextStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			video_id     VARCHAR(64) NOT NULL,
			content_type VARCHAR(16) NOT NULL,
			item_index   INTEGER NOT NULL,
			start_sec    DOUBLE PRECISION NOT NULL,
			end_sec      DOUBLE PRECISION NOT NULL,
			text         TEXT NOT NULL,
			embedding    vector(%d) NOT NULL,
			PRIMARY KEY (video_id, content_type, item_index)
		)`, s.table, dim),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (video_id, content_type)", pgx.Identifier{table + "_video_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("preparing %s: %w", s.table, err)
		}
	}
	return s, nil
}

func (s *PgVectorTextStore) Add(ctx context.Context, records []TextRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (video_id, content_type, item_index, start_sec, end_sec, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (video_id, content_type, item_index)
		DO UPDATE SET start_sec = EXCLUDED.start_sec, end_sec = EXCLUDED.end_sec, text = EXCLUDED.text, embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(stmt, r.VideoID, string(r.ContentType), r.ItemIndex, r.Start, r.End, r.Text, pgvector.NewVector(r.Vector))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting text embeddings: %w", err)
		}
	}
	return nil
}

func (s *PgVectorTextStore) Query(ctx context.Context, videoID string, contentType model.ContentType, vector []float32, k int) ([]TextMatch, error) {
	q := fmt.Sprintf(`SELECT video_id, content_type, item_index, start_sec, end_sec, text, embedding <-> $1 AS distance
		FROM %s
		WHERE video_id = $2 AND content_type = $3
		ORDER BY distance ASC, start_sec ASC
		LIMIT $4`, s.table)
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), videoID, string(contentType), k)
	if err != nil {
		return nil, fmt.Errorf("searching text of %s: %w", videoID, err)
	}
	defer rows.Close()

	var matches []TextMatch
	for rows.Next() {
		var m TextMatch
		var ct string
		if err := rows.Scan(&m.VideoID, &ct, &m.ItemIndex, &m.Start, &m.End, &m.Text, &m.Distance); err != nil {
			return nil, err
		}
		m.ContentType = model.ContentType(ct)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		has, err := s.Has(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, fmt.Errorf("text index for %s: %w", videoID, model.ErrNotFound)
		}
	}
	return keepText(matches, videoID, contentType, k), nil
}

func (s *PgVectorTextStore) Has(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE video_id = $1)", s.table), videoID).Scan(&exists)
	return exists, err
}

func (s *PgVectorTextStore) Delete(ctx context.Context, videoID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE video_id = $1", s.table), videoID)
	return err
}
