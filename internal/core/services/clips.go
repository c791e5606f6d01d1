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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"golang.org/x/sync/errgroup"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ClipResult reports the outcome for one requested range. Exactly one of
// Clip and Err is set.
type ClipResult struct {
	Ordinal   int             `json:"ordinal"`
	Requested model.TimeRange `json:"requested"`
	Clip      *model.Clip     `json:"clip,omitempty"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
}

// ClipService cuts ranges of a source video into standalone files named
// {prefix}_{ordinal}.mp4 in the video's own directory under ClipDir, so the
// same prefix used on two videos names two different files. Ordinals are
// 1-based positions in the request; cutting the same request again overwrites
// the same files.
//
// When Bucket is set, clips are also uploaded and returned with a V4 signed
// URL. With an IAM client and SignerEmail the URL is signed through the IAM
// SignBlob API, which works without a private key on the host.
type ClipService struct {
	Repo            *catalog.Repository
	Tools           media.Tools
	ClipDir         string
	Workers         int
	StorageClient   *storage.Client
	IAMClient       *credentials.IamCredentialsClient
	Bucket          string
	SignerEmail     string
	SignedURLExpiry time.Duration
}

// VideoClipDir is the directory holding the clips of one video.
func (s *ClipService) VideoClipDir(videoID string) string {
	return filepath.Join(s.ClipDir, videoID)
}

// ClipFileName is the file name of the ordinal-th clip of a request.
func ClipFileName(prefix string, ordinal int) string {
	return fmt.Sprintf("%s_%d.mp4", prefix, ordinal)
}

func sanitizePrefix(prefix string, videoID string) string {
	prefix = unsafeName.ReplaceAllString(prefix, "_")
	if prefix == "" || prefix == "." || prefix == ".." {
		short := videoID
		if len(short) > 8 {
			short = short[:8]
		}
		return "clip_" + short
	}
	return prefix
}

// GenerateClips cuts every range of ranges out of the video. Ranges are
// clamped to the video; a range with nothing left after clamping gets a
// model.ErrInvalidRange result and no file. The returned error is reserved
// for failures of the whole request, such as an unknown video.
func (s *ClipService) GenerateClips(ctx context.Context, videoID string, ranges []model.TimeRange, prefix string) ([]*ClipResult, error) {
	video, err := s.Repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	dir := s.VideoClipDir(video.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix = sanitizePrefix(prefix, videoID)

	results := make([]*ClipResult, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))

	for i, r := range ranges {
		result := &ClipResult{Ordinal: i + 1, Requested: r}
		results[i] = result
		out := filepath.Join(dir, ClipFileName(prefix, result.Ordinal))

		clamped, ok := r.Clamp(video.Duration)
		if !ok {
			// A stale file from an earlier request must not look like a result.
			_ = os.Remove(out)
			result.Err = fmt.Errorf("range [%.3f, %.3f] of a %.3fs video: %w", r.Start, r.End, video.Duration, model.ErrInvalidRange)
			result.Error = result.Err.Error()
			continue
		}

		g.Go(func() error {
			clip, err := s.materialize(gctx, video, result.Ordinal, clamped, out)
			if err != nil {
				result.Err = err
				result.Error = err.Error()
				return nil
			}
			result.Clip = clip
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// GenerateClipsFromHits cuts the range of every hit. All hits must belong to
// the same video.
func (s *ClipService) GenerateClipsFromHits(ctx context.Context, hits []*model.SearchHit, prefix string) ([]*ClipResult, error) {
	if len(hits) == 0 {
		return []*ClipResult{}, nil
	}
	videoID := hits[0].VideoID
	ranges := make([]model.TimeRange, len(hits))
	for i, h := range hits {
		if h.VideoID != videoID {
			return nil, fmt.Errorf("hits span videos %s and %s", videoID, h.VideoID)
		}
		ranges[i] = h.Range
	}
	return s.GenerateClips(ctx, videoID, ranges, prefix)
}

func (s *ClipService) materialize(ctx context.Context, video *model.Video, ordinal int, r model.TimeRange, out string) (*model.Clip, error) {
	if err := s.Tools.Cut(ctx, video.SourcePath, out, r); err != nil {
		_ = os.Remove(out)
		return nil, err
	}
	clip := &model.Clip{
		ID:        model.ClipID(out),
		VideoID:   video.ID,
		Ordinal:   ordinal,
		Start:     r.Start,
		End:       r.End,
		Path:      out,
		CreatedAt: time.Now(),
	}
	if s.StorageClient != nil && s.Bucket != "" {
		url, err := s.publish(ctx, video.ID, out)
		if err != nil {
			slog.WarnContext(ctx, "clip kept local only", "clip", out, "error", err)
		} else {
			clip.URL = url
		}
	}
	if err := s.Repo.SaveClip(ctx, clip); err != nil {
		return nil, err
	}
	return clip, nil
}

func (s *ClipService) publish(ctx context.Context, videoID string, path string) (string, error) {
	name := "clips/" + videoID + "/" + filepath.Base(path)
	if err := cloud.UploadFile(ctx, s.StorageClient, path, s.Bucket, name, "video/mp4"); err != nil {
		return "", err
	}
	expiry := s.SignedURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	}
	if s.IAMClient != nil && s.SignerEmail != "" {
		opts.GoogleAccessID = s.SignerEmail
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			resp, err := s.IAMClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    "projects/-/serviceAccounts/" + s.SignerEmail,
				Payload: payload,
			})
			if err != nil {
				return nil, err
			}
			return resp.SignedBlob, nil
		}
	}
	u, err := s.StorageClient.Bucket(s.Bucket).SignedURL(name, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", s.Bucket, name, err)
	}
	return u, nil
}

// ListClips returns the clips recorded for a video.
func (s *ClipService) ListClips(ctx context.Context, videoID string) ([]model.Clip, error) {
	if _, err := s.Repo.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}
	return s.Repo.Clips(ctx, videoID)
}

// ClipPath resolves a clip file name inside the clip directory of videoID.
func (s *ClipService) ClipPath(videoID string, fileName string) (string, error) {
	for _, part := range []string{videoID, fileName} {
		if part == "" || part == "." || part == ".." || filepath.Base(part) != part {
			return "", fmt.Errorf("clip %q of %q: %w", fileName, videoID, model.ErrNotFound)
		}
	}
	path := filepath.Join(s.VideoClipDir(videoID), fileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("clip %q of %q: %w", fileName, videoID, model.ErrNotFound)
		}
		return "", err
	}
	return path, nil
}
