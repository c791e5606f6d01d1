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

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
)

// GetGCSObjectName is the chain context key holding the triggering *GCSObject.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// GCSPubSubNotification is the JSON payload of a Cloud Storage object
// notification delivered over Pub/Sub.
type GCSPubSubNotification struct {
	Kind           string                 `json:"kind"`
	ID             string                 `json:"id"`
	SelfLink       string                 `json:"selfLink"`
	Name           string                 `json:"name"`
	Bucket         string                 `json:"bucket"`
	Generation     string                 `json:"generation"`
	MetaGeneration string                 `json:"metageneration"`
	ContentType    string                 `json:"contentType"`
	TimeCreated    string                 `json:"timeCreated"`
	Updated        string                 `json:"updated"`
	StorageClass   string                 `json:"storageClass"`
	Size           string                 `json:"size"`
	MD5Hash        string                 `json:"md5Hash"`
	MediaLink      string                 `json:"mediaLink"`
	MetaData       map[string]interface{} `json:"metadata"`
	Crc32c         string                 `json:"crc32c"`
	ETag           string                 `json:"etag"`
}

// GCSObject identifies a single object in a bucket.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI renders the object as gs://bucket/name.
func (o *GCSObject) URI() string {
	return ObjectURI(o.Bucket, o.Name)
}

// BaseName is the last path element of the object name.
func (o *GCSObject) BaseName() string {
	if i := strings.LastIndex(o.Name, "/"); i >= 0 {
		return o.Name[i+1:]
	}
	return o.Name
}

func ObjectURI(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, name)
}

// DownloadObject streams an object into dst, creating or truncating it.
//
// Inputs:
//   - ctx: Bounds the read.
//   - client: The Cloud Storage client.
//   - obj: The object to read.
//   - dst: The local file to write.
//
// Outputs:
//   - written: The number of bytes copied.
//   - err: Any read, create or copy error.
func DownloadObject(ctx context.Context, client *storage.Client, obj *GCSObject, dst string) (written int64, err error) {
	reader, err := client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", obj.URI(), err)
	}
	defer reader.Close()

	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return io.Copy(f, reader)
}

// UploadFile copies a local file into bucket/name.
//
// Inputs:
//   - ctx: Bounds the write.
//   - client: The Cloud Storage client.
//   - src: The local file to read.
//   - bucket: The destination bucket.
//   - name: The destination object name.
//   - contentType: The MIME type stored on the object.
//
// Outputs:
//   - err: Any open, copy or close error.
func UploadFile(ctx context.Context, client *storage.Client, src string, bucket string, name string, contentType string) (err error) {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := client.Bucket(bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err = io.Copy(writer, f); err != nil {
		_ = writer.Close()
		return fmt.Errorf("uploading %s to %s: %w", src, ObjectURI(bucket, name), err)
	}
	return writer.Close()
}

// DeleteObject removes bucket/name, treating a missing object as success.
func DeleteObject(ctx context.Context, client *storage.Client, bucket string, name string) error {
	err := client.Bucket(bucket).Object(name).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return nil
	}
	return err
}
