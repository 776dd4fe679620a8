// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/logger"
)

// EventRestoreCompleted is the S3 event name of a finished restore.
const EventRestoreCompleted = "ObjectRestore:Completed"

// ErrMalformedEvent is returned for notification bodies that are not S3 events.
var ErrMalformedEvent = errors.New("malformed S3 event notification")

// ObjectRestored identifies one restored object.
type ObjectRestored struct {
	Bucket string
	Key    string
	Size   int64
}

type s3Event struct {
	Records []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// snsEnvelope is the wrapper added when notifications fan out through SNS.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseS3Event decodes an S3 event notification and returns its completed
// restores. Keys are URL-decoded. Other event types are skipped, and a test
// event yields no records.
func ParseS3Event(body string) ([]ObjectRestored, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = env.Message
	}

	var ev s3Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	var restored []ObjectRestored
	for _, r := range ev.Records {
		name := strings.TrimPrefix(r.EventName, "s3:")
		if name != EventRestoreCompleted {
			logger.Debug().Str("event_name", r.EventName).Msg("restore: skipping event")
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrMalformedEvent, r.S3.Object.Key, err)
		}
		if r.S3.Bucket.Name == "" || key == "" {
			return nil, fmt.Errorf("%w: record without bucket or key", ErrMalformedEvent)
		}
		restored = append(restored, ObjectRestored{
			Bucket: r.S3.Bucket.Name,
			Key:    key,
			Size:   r.S3.Object.Size,
		})
	}
	return restored, nil
}

// EventHandler consumes S3 restore notifications from a queue.
type EventHandler struct {
	handler  *Handler
	receiver dispatch.Receiver
}

// NewEventHandler creates a dispatch handler that acknowledges notifications
// on receiver.
func NewEventHandler(handler *Handler, receiver dispatch.Receiver) *EventHandler {
	return &EventHandler{handler: handler, receiver: receiver}
}

// Handle processes every restore in d and deletes d once all succeeded.
// Malformed notifications are deleted since redelivery cannot fix them.
func (e *EventHandler) Handle(ctx context.Context, d *dispatch.Delivery) error {
	events, err := ParseS3Event(d.Body)
	if err != nil {
		EventsReceived.WithLabelValues("malformed").Inc()
		logger.Error().
			Err(err).
			Str("message_id", d.ID).
			Msg("restore: dropping malformed notification")
		return e.receiver.Delete(ctx, d)
	}
	EventsReceived.WithLabelValues("ok").Inc()

	var errs []error
	for _, ev := range events {
		if err := e.handler.Handle(ctx, ev.Bucket, ev.Key, ev.Size); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return e.receiver.Delete(ctx, d)
}
