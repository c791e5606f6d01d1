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

// Package catalog is the relational record of what has been indexed: videos
// and their status, sampled frames with captions, transcript segments and
// generated clips. It is backed by gorm on SQLite (single node) or Postgres.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

const batchSize = 200

// Stats counts catalog rows for the dashboard.
type Stats struct {
	Videos     int64 `json:"videos"`
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Frames     int64 `json:"frames"`
	Segments   int64 `json:"segments"`
	Clips      int64 `json:"clips"`
}

type Repository struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(config cloud.Catalog) (*Repository, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case "sqlite", "":
		if dir := filepath.Dir(config.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(config.DSN)
	case "postgres":
		dialector = postgres.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", config.Driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&model.Video{}, &model.Frame{}, &model.TranscriptSegment{}, &model.Clip{}); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return err
}

// SaveVideo inserts or fully updates a video row.
func (r *Repository) SaveVideo(ctx context.Context, v *model.Video) error {
	v.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(v).Error
}

func (r *Repository) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	var v model.Video
	if err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "video", id)
	}
	return &v, nil
}

// ListVideos returns every video, newest first.
func (r *Repository) ListVideos(ctx context.Context) ([]*model.Video, error) {
	var out []*model.Video
	err := r.db.WithContext(ctx).Order("created_at desc").Find(&out).Error
	return out, err
}

// UpdateStatus sets a video's status and error message.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status model.VideoStatus, message string) error {
	res := r.db.WithContext(ctx).Model(&model.Video{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "error": message, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("video %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ReplaceFrames swaps the stored frames of a video for frames.
func (r *Repository) ReplaceFrames(ctx context.Context, videoID string, frames []model.Frame) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", videoID).Delete(&model.Frame{}).Error; err != nil {
			return err
		}
		if len(frames) == 0 {
			return nil
		}
		for i := range frames {
			frames[i].VideoID = videoID
		}
		return tx.CreateInBatches(frames, batchSize).Error
	})
}

// UpdateCaptions writes the caption columns of frames that already exist.
func (r *Repository) UpdateCaptions(ctx context.Context, frames []model.Frame) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range frames {
			err := tx.Model(&model.Frame{}).
				Where("video_id = ? AND frame_index = ?", f.VideoID, f.Index).
				Updates(map[string]any{"caption": f.Caption, "caption_source": f.CaptionSource}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Frames returns a video's frames ordered by index.
func (r *Repository) Frames(ctx context.Context, videoID string) ([]model.Frame, error) {
	var out []model.Frame
	err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Order("frame_index asc").Find(&out).Error
	return out, err
}

// ReplaceSegments swaps the stored transcript of a video for segments.
func (r *Repository) ReplaceSegments(ctx context.Context, videoID string, segments []model.TranscriptSegment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", videoID).Delete(&model.TranscriptSegment{}).Error; err != nil {
			return err
		}
		if len(segments) == 0 {
			return nil
		}
		for i := range segments {
			segments[i].VideoID = videoID
		}
		return tx.CreateInBatches(segments, batchSize).Error
	})
}

// Segments returns a video's transcript ordered by start time.
func (r *Repository) Segments(ctx context.Context, videoID string) ([]model.TranscriptSegment, error) {
	var out []model.TranscriptSegment
	err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Order("start asc, segment_index asc").Find(&out).Error
	return out, err
}

// SaveClip upserts a clip by id; regenerating the same file replaces the row.
func (r *Repository) SaveClip(ctx context.Context, c *model.Clip) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error
}

func (r *Repository) Clips(ctx context.Context, videoID string) ([]model.Clip, error) {
	var out []model.Clip
	err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Order("created_at asc, ordinal asc").Find(&out).Error
	return out, err
}

// PurgeDerived removes frames and segments of a video, keeping the video row
// and its clips.
func (r *Repository) PurgeDerived(ctx context.Context, videoID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", videoID).Delete(&model.Frame{}).Error; err != nil {
			return err
		}
		return tx.Where("video_id = ?", videoID).Delete(&model.TranscriptSegment{}).Error
	})
}

// DeleteVideo removes a video and everything recorded for it.
func (r *Repository) DeleteVideo(ctx context.Context, videoID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.Frame{}, &model.TranscriptSegment{}, &model.Clip{}} {
			if err := tx.Where("video_id = ?", videoID).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", videoID).Delete(&model.Video{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("video %s: %w", videoID, model.ErrNotFound)
		}
		return nil
	})
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	db := r.db.WithContext(ctx)
	s := &Stats{}
	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&s.Videos, db.Model(&model.Video{})},
		{&s.Ready, db.Model(&model.Video{}).Where("status = ?", model.VideoStatusReady)},
		{&s.Processing, db.Model(&model.Video{}).Where("status = ?", model.VideoStatusProcessing)},
		{&s.Failed, db.Model(&model.Video{}).Where("status = ?", model.VideoStatusError)},
		{&s.Frames, db.Model(&model.Frame{})},
		{&s.Segments, db.Model(&model.TranscriptSegment{})},
		{&s.Clips, db.Model(&model.Clip{})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}
	return s, nil
}
