// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package restore moves archived objects back into the copy pipeline once
// their restore has completed.
package restore

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/dustin/go-humanize"
)

// Tracker reads and writes tracked copy requests.
type Tracker interface {
	Get(ctx context.Context, bucket, path string) (*record.CopyRequest, bool)
	Put(ctx context.Context, rec *record.CopyRequest) error
}

// Enqueuer publishes copy requests for the copier.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec *record.CopyRequest) error
}

// Handler requeues restored objects for copy.
type Handler struct {
	tracker Tracker
	queue   Enqueuer
}

// NewHandler creates a restore completion handler.
func NewHandler(tracker Tracker, queue Enqueuer) *Handler {
	return &Handler{tracker: tracker, queue: queue}
}

// Handle requeues the tracked request for bucket/path with the restored size.
// An untracked object is logged and ignored. A failed enqueue is returned so
// the triggering event can be redelivered.
func (h *Handler) Handle(ctx context.Context, bucket, path string, size int64) error {
	prev, ok := h.tracker.Get(ctx, bucket, path)
	if !ok {
		RestoresHandled.WithLabelValues("untracked").Inc()
		logger.Error().
			Str("source_bucket", bucket).
			Str("source_object_path", path).
			Msg("restore: no tracked copy request for restored object")
		return nil
	}

	rec := record.Requeue(prev, size)
	if err := h.tracker.Put(ctx, rec); err != nil {
		RestoresHandled.WithLabelValues("failed").Inc()
		return fmt.Errorf("persist requeued copy request %s: %w", rec.Key(), err)
	}
	if err := h.queue.Enqueue(ctx, rec); err != nil {
		RestoresHandled.WithLabelValues("failed").Inc()
		return fmt.Errorf("enqueue restored object %s: %w", rec.Key(), err)
	}

	RestoresHandled.WithLabelValues("requeued").Inc()
	logger.Info().
		Str("manifest_file", rec.ManifestFile).
		Str("source_bucket", bucket).
		Str("source_object_path", path).
		Str("size", humanize.IBytes(uint64(max(size, 0)))).
		Str("status", string(rec.ProcessingStatus)).
		Msg("restore: object requeued for copy")
	return nil
}
