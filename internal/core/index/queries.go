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

// BigQuery statements used by BigQueryTextStore. The single %s placeholder is
// the fully qualified table name; everything else is a named query parameter.
const (
	// QryCreateTextTable creates the embedding table if it does not exist.
	QryCreateTextTable = "CREATE TABLE IF NOT EXISTS `%s` (video_id STRING NOT NULL, content_type STRING NOT NULL, item_index INT64 NOT NULL, start FLOAT64, `end` FLOAT64, text STRING, embedding ARRAY<FLOAT64>) CLUSTER BY video_id, content_type"

	// QryTextKnn runs VECTOR_SEARCH over the rows of one video and content type
	// only, so the filter is applied before the top_k cut.
	//
	// Parameters: @video_id, @content_type, @query (ARRAY<FLOAT64>), @top_k.
	QryTextKnn = "SELECT base.video_id, base.content_type, base.item_index, base.start, base.`end`, base.text, distance " +
		"FROM VECTOR_SEARCH((SELECT * FROM `%s` WHERE video_id = @video_id AND content_type = @content_type), 'embedding', " +
		"(SELECT @query AS embedding), top_k => @top_k, distance_type => 'EUCLIDEAN') " +
		"ORDER BY distance ASC, base.start ASC"

	// QryTextCount counts the rows stored for @video_id.
	QryTextCount = "SELECT COUNT(*) AS n FROM `%s` WHERE video_id = @video_id"

	// QryTextDelete removes every row stored for @video_id.
	QryTextDelete = "DELETE FROM `%s` WHERE video_id = @video_id"
)
