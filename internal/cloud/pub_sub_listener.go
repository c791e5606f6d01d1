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
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PubSubListener feeds every message of a subscription into a command. The
// message payload is placed under cor.CtxIn as a string. A message is acked
// only when the command finishes without errors, so failed messages are
// redelivered (and eventually dead-lettered by the subscription policy).
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
}

// NewPubSubListener binds a subscription to the command that handles its
// messages.
//
// Inputs:
//   - pubsubClient: The Pub/Sub client.
//   - subscriptionID: The subscription to receive from.
//   - command: Runs once per message with the payload under the message key.
//
// Outputs:
//   - *PubSubListener: The listener, not yet started.
//   - error: Always nil today.
func NewPubSubListener(pubsubClient *pubsub.Client, subscriptionID string, command cor.Command) (*PubSubListener, error) {
	return &PubSubListener{
		client:       pubsubClient,
		subscription: pubsubClient.Subscription(subscriptionID),
		command:      command,
	}, nil
}

// SetCommand sets the command once; later calls are ignored.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// Listen starts receiving in the background until ctx is cancelled.
func (m *PubSubListener) Listen(ctx context.Context) {
	slog.Info("listening for messages", "subscription", m.subscription.String())

	go func() {
		tracer := otel.Tracer("message-listener")

		err := m.subscription.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
			spanCtx, span := tracer.Start(ctx, "receive-message")
			defer span.End()
			span.SetAttributes(attribute.String("message_id", msg.ID))

			if m.command == nil {
				slog.WarnContext(spanCtx, "no command bound to listener, nacking", "subscription", m.subscription.String())
				msg.Nack()
				return
			}

			chainCtx := cor.NewBaseContext()
			chainCtx.SetContext(spanCtx)
			chainCtx.Add(cor.CtxIn, string(msg.Data))
			defer chainCtx.Close()

			m.command.Execute(chainCtx)

			if err := chainCtx.Err(); err != nil {
				span.SetStatus(codes.Error, "failed")
				slog.ErrorContext(spanCtx, "message handling failed", "message_id", msg.ID, "error", err)
				msg.Nack()
				return
			}
			span.SetStatus(codes.Ok, "success")
			msg.Ack()
		})

		if err != nil {
			slog.Error("error receiving messages", "subscription", m.subscription.String(), "error", err)
		}
	}()
}
