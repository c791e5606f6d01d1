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

package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
)

// MediaTriggerToGCSObject parses a Cloud Storage finalize notification into a
// *cloud.GCSObject. Objects that are not videos, and "folder" placeholders,
// fail the command; the listener nacks them and Pub/Sub moves them to the
// dead letter topic.
type MediaTriggerToGCSObject struct {
	cor.BaseCommand
}

// NewMediaTriggerToGCSObject is the constructor for MediaTriggerToGCSObject.
//
// Inputs:
//   - name: The string name for this command.
//
// Outputs:
//   - *MediaTriggerToGCSObject: A command reading the raw message string and
//     writing a *cloud.GCSObject.
func NewMediaTriggerToGCSObject(name string) *MediaTriggerToGCSObject {
	return &MediaTriggerToGCSObject{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *MediaTriggerToGCSObject) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.Fail(context, fmt.Errorf("expected a notification payload in %s", c.GetInputParam()))
		return
	}

	var notification cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &notification); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}
	if notification.Bucket == "" || notification.Name == "" || strings.HasSuffix(notification.Name, "/") {
		c.Fail(context, fmt.Errorf("notification does not name an object: %q", notification.Name))
		return
	}
	if notification.ContentType != "" && !strings.HasPrefix(notification.ContentType, "video/") {
		c.Fail(context, fmt.Errorf("object %s has content type %s, not a video", notification.Name, notification.ContentType))
		return
	}

	msg := &cloud.GCSObject{Bucket: notification.Bucket, Name: notification.Name, MIMEType: notification.ContentType}
	context.Add(cloud.GetGCSObjectName(), msg)
	c.Complete(context, msg)
}
