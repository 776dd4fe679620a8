// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package copier

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/objectstore"
	"github.com/LeeDigitalWorks/datapump/pkg/record"
	"github.com/LeeDigitalWorks/datapump/pkg/tracking"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu sync.Mutex

	tags     map[string]record.TagSet
	details  *objectstore.ObjectDetails
	copyErr  error
	putErr   error
	failPart int32

	copies    []objectstore.CopyInput
	multipart []objectstore.MultipartInput
	partCopy  []objectstore.PartCopyInput
	completed [][]objectstore.CompletedPart
	aborted   []string
	putTags   map[string]record.TagSet
}

func (f *fakeStore) Tags(_ context.Context, bucket, key string) (record.TagSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tags[bucket+"/"+key]), nil
}

func (f *fakeStore) PutTags(_ context.Context, bucket, key string, tags record.TagSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	if f.putTags == nil {
		f.putTags = make(map[string]record.TagSet)
	}
	f.putTags[bucket+"/"+key] = tags
	return nil
}

func (f *fakeStore) Details(context.Context, string, string) (*objectstore.ObjectDetails, error) {
	if f.details == nil {
		return nil, objectstore.ErrObjectNotFound
	}
	d := *f.details
	d.Metadata = maps.Clone(f.details.Metadata)
	return &d, nil
}

func (f *fakeStore) Copy(_ context.Context, in objectstore.CopyInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, in)
	return f.copyErr
}

func (f *fakeStore) CreateMultipart(_ context.Context, in objectstore.MultipartInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multipart = append(f.multipart, in)
	return "upload-1", nil
}

func (f *fakeStore) CopyPart(_ context.Context, in objectstore.PartCopyInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partCopy = append(f.partCopy, in)
	if in.PartNumber == f.failPart {
		return "", errors.New("slow down")
	}
	return "etag-" + string(rune('0'+in.PartNumber)), nil
}

func (f *fakeStore) CompleteMultipart(_ context.Context, _, _, _ string, parts []objectstore.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, parts)
	return nil
}

func (f *fakeStore) AbortMultipart(_ context.Context, _, _, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, uploadID)
	return nil
}

type harness struct {
	store   *fakeStore
	tracker *tracking.Client
	queue   *dispatch.MemoryQueue
	dlq     *dispatch.MemoryQueue
	copier  *Copier
}

func newHarness(t *testing.T, store *fakeStore, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:   store,
		tracker: tracking.NewClient(tracking.NewMemoryStore(), tracking.Config{MaxRetries: tracking.DefaultMaxRetries, RetryUnit: time.Millisecond}),
		queue:   dispatch.NewMemoryQueue(dispatch.MemoryQueueConfig{}),
		dlq:     dispatch.NewMemoryQueue(dispatch.MemoryQueueConfig{}),
	}
	h.copier = New(store, h.tracker, h.queue, h.dlq, cfg)
	return h
}

func (h *harness) deliver(t *testing.T, attrs map[string]string) *dispatch.Delivery {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.queue.Send(ctx, dispatch.MessageBody, attrs))
	ds, err := h.queue.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	return ds[0]
}

func (h *harness) tracked(t *testing.T, path string) *record.CopyRequest {
	t.Helper()
	rec, ok := h.tracker.Get(context.Background(), "src", path)
	require.True(t, ok, "record %s is tracked", path)
	return rec
}

func queuedRecord(path string, size int64) *record.CopyRequest {
	return record.NewQueued(record.Params{
		ManifestFile:       "run-1.csv",
		SourceBucket:       "src",
		SourceObjectPath:   path,
		SourceTags:         "copied=true",
		Size:               size,
		StorageClass:       "STANDARD",
		TargetBucket:       "dst",
		TargetObjectPath:   "out/" + path,
		TargetStorageClass: "GLACIER",
		TargetTags:         "team=data&a=9",
	})
}

func TestHandle_RegularCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &fakeStore{tags: map[string]record.TagSet{"src/obj": {{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}}}
	h := newHarness(t, store, Config{})
	rec := queuedRecord("obj", 4096)
	require.NoError(t, h.tracker.Put(ctx, rec))

	require.NoError(t, h.copier.Handle(ctx, h.deliver(t, dispatch.AttributesFromRecord(rec).Map())))

	require.Len(t, store.copies, 1)
	in := store.copies[0]
	assert.Equal(t, "dst", in.TargetBucket)
	assert.Equal(t, "out/obj", in.TargetKey)
	assert.Equal(t, "GLACIER", in.StorageClass)
	want := record.TagSet{{Key: "a", Value: "9"}, {Key: "b", Value: "2"}, {Key: "team", Value: "data"}}
	if diff := cmp.Diff(want, in.Tags); diff != "" {
		t.Errorf("copy tags mismatch (-want +got):\n%s", diff)
	}

	wantSource := record.TagSet{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "copied", Value: "true"}}
	if diff := cmp.Diff(wantSource, store.putTags["src/obj"]); diff != "" {
		t.Errorf("source tags mismatch (-want +got):\n%s", diff)
	}

	got := h.tracked(t, "obj")
	assert.Equal(t, record.StatusCopyCompleted, got.ProcessingStatus)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 0, h.queue.Len(), "delivery deleted")
	assert.Empty(t, h.dlq.DeadLetters())
	assert.Empty(t, store.multipart)
}

func TestHandle_ThresholdBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &fakeStore{details: &objectstore.ObjectDetails{ContentLength: 101}}
	h := newHarness(t, store, Config{MultipartThreshold: 100, ChunkSize: 50})

	atThreshold := queuedRecord("at", 100)
	require.NoError(t, h.copier.Handle(ctx, h.deliver(t, dispatch.AttributesFromRecord(atThreshold).Map())))
	assert.Len(t, store.copies, 1, "size equal to the threshold is a regular copy")

	above := queuedRecord("above", 101)
	require.NoError(t, h.copier.Handle(ctx, h.deliver(t, dispatch.AttributesFromRecord(above).Map())))
	assert.Len(t, store.multipart, 1, "size above the threshold is chunked")
}

func TestHandle_ChunkedCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &fakeStore{details: &objectstore.ObjectDetails{
		ContentType:   "application/x-tar",
		ContentLength: 250,
		Metadata:      map[string]string{"owner": "team"},
		Tags:          record.TagSet{{Key: "a", Value: "1"}},
	}}
	h := newHarness(t, store, Config{MultipartThreshold: 100, ChunkSize: 100, PartConcurrency: 2})
	// The message size is stale; the copy uses the source content length.
	rec := queuedRecord("big", 200)

	require.NoError(t, h.copier.Handle(ctx, h.deliver(t, dispatch.AttributesFromRecord(rec).Map())))

	require.Len(t, store.multipart, 1)
	mp := store.multipart[0]
	assert.Equal(t, "application/x-tar", mp.ContentType)
	assert.Equal(t, map[string]string{"owner": "team"}, mp.Metadata)
	assert.Equal(t, "GLACIER", mp.StorageClass)
	assert.Equal(t, record.TagSet{{Key: "a", Value: "9"}, {Key: "team", Value: "data"}}, mp.Tags)

	ranges := make(map[int32]objectstore.ByteRange)
	for _, p := range store.partCopy {
		ranges[p.PartNumber] = p.Range
		assert.Equal(t, "upload-1", p.UploadID)
	}
	assert.Equal(t, map[int32]objectstore.ByteRange{
		1: {Start: 0, End: 99},
		2: {Start: 100, End: 199},
		3: {Start: 200, End: 249},
	}, ranges)

	require.Len(t, store.completed, 1)
	assert.Equal(t, []objectstore.CompletedPart{
		{PartNumber: 1, ETag: "etag-1"},
		{PartNumber: 2, ETag: "etag-2"},
		{PartNumber: 3, ETag: "etag-3"},
	}, store.completed[0])

	got := h.tracked(t, "big")
	assert.Equal(t, record.StatusCopyCompleted, got.ProcessingStatus)
	assert.Equal(t, int64(250), got.Size)
	assert.Empty(t, store.aborted)
}

func TestHandle_PartFailureAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &fakeStore{
		details:  &objectstore.ObjectDetails{ContentLength: 300},
		failPart: 2,
	}
	h := newHarness(t, store, Config{MultipartThreshold: 100, ChunkSize: 100, PartConcurrency: 1})
	rec := queuedRecord("big", 300)

	d := h.deliver(t, dispatch.AttributesFromRecord(rec).Map())
	require.NoError(t, h.copier.Handle(ctx, d))

	assert.Equal(t, []string{"upload-1"}, store.aborted)
	assert.Empty(t, store.completed)

	got := h.tracked(t, "big")
	assert.Equal(t, record.StatusError, got.ProcessingStatus)
	assert.Contains(t, got.ErrorMessage, ErrPartFailed.Error())
	assert.Contains(t, got.ErrorMessage, "part 2")

	dead := h.dlq.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, d.Body, dead[0].Body)
	assert.Equal(t, d.Attributes, dead[0].Attributes)
	assert.Equal(t, 0, h.queue.Len())
	assert.Empty(t, store.putTags, "failed copies never tag the source")
}

func TestHandle_CopyError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &fakeStore{copyErr: errors.New("access denied")}
	h := newHarness(t, store, Config{})
	rec := queuedRecord("obj", 10)

	require.NoError(t, h.copier.Handle(ctx, h.deliver(t, dispatch.AttributesFromRecord(rec).Map())))

	got := h.tracked(t, "obj")
	assert.Equal(t, record.StatusError, got.ProcessingStatus)
	assert.Contains(t, got.ErrorMessage, "access denied")
	assert.Len(t, h.dlq.DeadLetters(), 1)
	assert.Equal(t, 0, h.queue.Len())
}

func TestHandle_SourceTagFailureIsLogged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &fakeStore{putErr: errors.New("tagging denied")}
	h := newHarness(t, store, Config{})
	rec := queuedRecord("obj", 10)

	require.NoError(t, h.copier.Handle(ctx, h.deliver(t, dispatch.AttributesFromRecord(rec).Map())))

	assert.Equal(t, record.StatusCopyCompleted, h.tracked(t, "obj").ProcessingStatus)
	assert.Empty(t, h.dlq.DeadLetters())
}

func TestHandle_Rejections(t *testing.T) {
	t.Parallel()

	valid := dispatch.AttributesFromRecord(queuedRecord("obj", 10)).Map()

	tests := []struct {
		name        string
		mutate      func(m map[string]string)
		tracked     bool
		wantTracked bool
		wantMessage string
	}{
		{
			name:        "missing size with tracked record",
			mutate:      func(m map[string]string) { delete(m, dispatch.AttrSize) },
			tracked:     true,
			wantTracked: true,
			wantMessage: dispatch.AttrSize,
		},
		{
			name:        "malformed size untracked",
			mutate:      func(m map[string]string) { m[dispatch.AttrSize] = "big" },
			wantTracked: true,
			wantMessage: dispatch.AttrSize,
		},
		{
			name:        "invalid storage class",
			mutate:      func(m map[string]string) { m[dispatch.AttrTargetStorageClass] = "WARM" },
			wantTracked: true,
			wantMessage: record.ReasonTargetStorageClassFormat,
		},
		{
			name: "unknown identity",
			mutate: func(m map[string]string) {
				delete(m, dispatch.AttrSourceBucket)
				delete(m, dispatch.AttrSourceObjectPath)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &fakeStore{}
			h := newHarness(t, store, Config{})
			if tt.tracked {
				require.NoError(t, h.tracker.Put(ctx, queuedRecord("obj", 10)))
			}

			attrs := maps.Clone(valid)
			tt.mutate(attrs)
			require.NoError(t, h.copier.Handle(ctx, h.deliver(t, attrs)))

			assert.Empty(t, store.copies)
			assert.Empty(t, store.multipart)
			assert.Len(t, h.dlq.DeadLetters(), 1)
			assert.Equal(t, 0, h.queue.Len())

			rec, ok := h.tracker.Get(ctx, "src", "obj")
			assert.Equal(t, tt.wantTracked, ok)
			if tt.wantTracked {
				assert.Equal(t, record.StatusError, rec.ProcessingStatus)
				assert.Contains(t, rec.ErrorMessage, tt.wantMessage)
			}
		})
	}
}
