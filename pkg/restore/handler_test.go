// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/record"
	"github.com/LeeDigitalWorks/datapump/pkg/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingQueue struct{ err error }

func (f failingQueue) Enqueue(context.Context, *record.CopyRequest) error { return f.err }

func newTracker() *tracking.Client {
	return tracking.NewClient(tracking.NewMemoryStore(), tracking.Config{MaxRetries: tracking.DefaultMaxRetries, RetryUnit: time.Millisecond})
}

func restoringRecord(t *testing.T) *record.CopyRequest {
	t.Helper()
	rec := record.New(record.Params{
		ManifestFile:       "run-1.csv",
		SourceBucket:       "src",
		SourceObjectPath:   "cold/a b.bin",
		SourceTags:         "k=v",
		Size:               1,
		StorageClass:       "DEEP_ARCHIVE",
		TargetBucket:       "dst",
		TargetObjectPath:   "out/a.bin",
		TargetStorageClass: "STANDARD_IA",
		TargetTags:         "x=y",
	})
	require.NoError(t, rec.Transition(record.StatusRestoring))
	rec.CreationTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return rec
}

func TestHandler_Requeues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tracker := newTracker()
	queue := dispatch.NewMemoryQueue(dispatch.MemoryQueueConfig{})
	prev := restoringRecord(t)
	require.NoError(t, tracker.Put(ctx, prev))

	require.NoError(t, NewHandler(tracker, queue).Handle(ctx, "src", "cold/a b.bin", 4096))

	got, ok := tracker.Get(ctx, "src", "cold/a b.bin")
	require.True(t, ok)
	assert.Equal(t, record.StatusQueuedForCopy, got.ProcessingStatus)
	assert.Equal(t, int64(4096), got.Size)
	assert.Equal(t, prev.CreationTime, got.CreationTime)

	want := prev.Params()
	want.Size = 4096
	assert.Equal(t, want, got.Params())

	deliveries, err := queue.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	attrs, err := dispatch.ParseAttributes(deliveries[0].Attributes)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), attrs.Size)
	assert.Equal(t, "out/a.bin", attrs.TargetObjectPath)
}

func TestHandler_UntrackedObject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tracker := newTracker()
	queue := dispatch.NewMemoryQueue(dispatch.MemoryQueueConfig{})

	require.NoError(t, NewHandler(tracker, queue).Handle(ctx, "src", "unknown", 10))
	assert.Equal(t, 0, queue.Len())
	_, ok := tracker.Get(ctx, "src", "unknown")
	assert.False(t, ok, "nothing is fabricated for untracked objects")
}

func TestHandler_EnqueueFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tracker := newTracker()
	require.NoError(t, tracker.Put(ctx, restoringRecord(t)))

	boom := errors.New("queue unavailable")
	err := NewHandler(tracker, failingQueue{err: boom}).Handle(ctx, "src", "cold/a b.bin", 1)
	assert.ErrorIs(t, err, boom)
}
