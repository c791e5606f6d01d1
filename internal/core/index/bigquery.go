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
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"google.golang.org/api/iterator"
)

// BigQueryTextStore keeps text embeddings in a BigQuery table and searches
// them with VECTOR_SEARCH using the EUCLIDEAN distance.
type BigQueryTextStore struct {
	client *bigquery.Client
	table  *bigquery.Table
	fqn    string
}

// bigQueryTextRow is the streamed insert shape of a TextRecord.
type bigQueryTextRow struct {
	VideoID     string    `bigquery:"video_id"`
	ContentType string    `bigquery:"content_type"`
	ItemIndex   int       `bigquery:"item_index"`
	Start       float64   `bigquery:"start"`
	End         float64   `bigquery:"end"`
	Text        string    `bigquery:"text"`
	Embedding   []float64 `bigquery:"embedding"`
}

type bigQueryTextMatch struct {
	VideoID     string  `bigquery:"video_id"`
	ContentType string  `bigquery:"content_type"`
	ItemIndex   int     `bigquery:"item_index"`
	Start       float64 `bigquery:"start"`
	End         float64 `bigquery:"end"`
	Text        string  `bigquery:"text"`
	Distance    float64 `bigquery:"distance"`
}

func NewBigQueryTextStore(ctx context.Context, client *bigquery.Client, dataset string, table string) (*BigQueryTextStore, error) {
	t := client.Dataset(dataset).Table(table)
	s := &BigQueryTextStore{
		client: client,
		table:  t,
		fqn:    strings.Replace(t.FullyQualifiedName(), ":", ".", -1),
	}
	if err := s.run(ctx, fmt.Sprintf(QryCreateTextTable, s.fqn), nil); err != nil {
		return nil, fmt.Errorf("creating %s: %w", s.fqn, err)
	}
	return s, nil
}

func (s *BigQueryTextStore) Add(ctx context.Context, records []TextRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*bigQueryTextRow, len(records))
	for i, r := range records {
		rows[i] = &bigQueryTextRow{
			VideoID:     r.VideoID,
			ContentType: string(r.ContentType),
			ItemIndex:   r.ItemIndex,
			Start:       r.Start,
			End:         r.End,
			Text:        r.Text,
			Embedding:   toFloat64(r.Vector),
		}
	}
	if err := s.table.Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("bigquery insert of %d text embeddings failed: %w", len(rows), err)
	}
	return nil
}

func (s *BigQueryTextStore) Query(ctx context.Context, videoID string, contentType model.ContentType, vector []float32, k int) ([]TextMatch, error) {
	q := s.client.Query(fmt.Sprintf(QryTextKnn, s.fqn))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "video_id", Value: videoID},
		{Name: "content_type", Value: string(contentType)},
		{Name: "query", Value: toFloat64(vector)},
		{Name: "top_k", Value: k},
	}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from BigQuery: %w", err)
	}

	var matches []TextMatch
	for {
		var r bigQueryTextMatch
		err := itr.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate results: %w", err)
		}
		matches = append(matches, TextMatch{
			TextRecord: TextRecord{
				VideoID:     r.VideoID,
				ContentType: model.ContentType(r.ContentType),
				ItemIndex:   r.ItemIndex,
				Start:       r.Start,
				End:         r.End,
				Text:        r.Text,
			},
			Distance: r.Distance,
		})
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

func (s *BigQueryTextStore) Has(ctx context.Context, videoID string) (bool, error) {
	q := s.client.Query(fmt.Sprintf(QryTextCount, s.fqn))
	q.Parameters = []bigquery.QueryParameter{{Name: "video_id", Value: videoID}}
	itr, err := q.Read(ctx)
	if err != nil {
		return false, err
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := itr.Next(&row); err != nil && err != iterator.Done {
		return false, err
	}
	return row.N > 0, nil
}

func (s *BigQueryTextStore) Delete(ctx context.Context, videoID string) error {
	return s.run(ctx, fmt.Sprintf(QryTextDelete, s.fqn), []bigquery.QueryParameter{{Name: "video_id", Value: videoID}})
}

func (s *BigQueryTextStore) run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}
