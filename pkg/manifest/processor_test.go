// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/LeeDigitalWorks/datapump/pkg/objectstore"
	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "source_bucket,source_object_path,source_tags,target_bucket,target_object_path,target_storage_class,target_tags\n"

type fakeStore struct {
	manifest    string
	downloadErr error

	mu         sync.Mutex
	objects    map[string]objectstore.ObjectInfo
	restore    map[string]int
	lookups    atomic.Int64
	restores   []string
	inFlight   atomic.Int64
	maxFlight  atomic.Int64
	lookupHook func()
}

func (f *fakeStore) Download(_ context.Context, _, _ string, w io.Writer) (int64, error) {
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	n, err := io.WriteString(w, f.manifest)
	return int64(n), err
}

func (f *fakeStore) Lookup(_ context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	f.lookups.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.lookupHook != nil {
		f.lookupHook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.objects[bucket+"/"+key]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrObjectNotFound
	}
	return info, nil
}

func (f *fakeStore) Restore(_ context.Context, bucket, key string, days int32, tier string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores = append(f.restores, bucket+"/"+key)
	status, ok := f.restore[bucket+"/"+key]
	if !ok {
		status = http.StatusAccepted
	}
	if status >= 300 {
		return status, errors.New("restore refused")
	}
	return status, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	records map[string]*record.CopyRequest
	history map[string][]record.Status
	puts    int
}

func (f *fakeTracker) Put(_ context.Context, rec *record.CopyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = make(map[string]*record.CopyRequest)
		f.history = make(map[string][]record.Status)
	}
	f.records[rec.Key()] = rec.Clone()
	f.history[rec.Key()] = append(f.history[rec.Key()], rec.ProcessingStatus)
	f.puts++
	return nil
}

func (f *fakeTracker) get(key string) *record.CopyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[key]
}

// statuses returns every status persisted for key, oldest first.
func (f *fakeTracker) statuses(key string) []record.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Status(nil), f.history[key]...)
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []*record.CopyRequest
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, rec *record.CopyRequest) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, rec.Clone())
	return nil
}

func TestProcess_Routing(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		manifest: header +
			"src,warm/a.bin,,dst,,,\n" +
			"src,cold/b.bin,k=v,dst,out/b.bin,DEEP_ARCHIVE,\n" +
			"src,cold/c.bin,,dst,,GLACIER,\n" +
			"src,cold/d.bin,,dst,,,\n" +
			"src,missing.bin,,dst,,,\n" +
			"src,warm/bad-tags.bin,,dst,,,nope\n",
		objects: map[string]objectstore.ObjectInfo{
			"src/warm/a.bin":        {Size: 10, StorageClass: "STANDARD"},
			"src/cold/b.bin":        {Size: 20, StorageClass: "GLACIER"},
			"src/cold/c.bin":        {Size: 30, StorageClass: "DEEP_ARCHIVE"},
			"src/cold/d.bin":        {Size: 40, StorageClass: "GLACIER"},
			"src/warm/bad-tags.bin": {Size: 50, StorageClass: "STANDARD"},
		},
		restore: map[string]int{
			"src/cold/c.bin": http.StatusOK,
			"src/cold/d.bin": http.StatusConflict,
		},
	}
	tracker := &fakeTracker{}
	queue := &fakeQueue{}
	p := NewProcessor(store, tracker, queue, Config{ParallelTasks: 4})

	res, err := p.Process(context.Background(), "manifests", "run-1.csv")
	require.NoError(t, err)
	assert.Equal(t, Result{Rows: 6, Queued: 2, Restoring: 1, Failed: 3}, res)

	a := tracker.get("src/warm/a.bin")
	require.NotNil(t, a)
	assert.Equal(t, record.StatusQueuedForCopy, a.ProcessingStatus)
	assert.Equal(t, "run-1.csv", a.ManifestFile)
	assert.Equal(t, int64(10), a.Size)
	assert.Equal(t, "warm/a.bin", a.TargetObjectPath, "target path defaults to source path")
	assert.Equal(t, "GLACIER", a.TargetStorageClass, "target class defaults to GLACIER")

	b := tracker.get("src/cold/b.bin")
	require.NotNil(t, b)
	assert.Equal(t, record.StatusRestoring, b.ProcessingStatus)
	assert.Equal(t, "out/b.bin", b.TargetObjectPath)

	c := tracker.get("src/cold/c.bin")
	require.NotNil(t, c)
	assert.Equal(t, record.StatusQueuedForCopy, c.ProcessingStatus, "already restored objects are queued")
	assert.NotContains(t, tracker.statuses("src/cold/c.bin"), record.StatusRestoring, "restored objects never pass through RESTORING")
	assert.Contains(t, tracker.statuses("src/cold/b.bin"), record.StatusRestoring)

	d := tracker.get("src/cold/d.bin")
	require.NotNil(t, d)
	assert.Equal(t, record.StatusError, d.ProcessingStatus)
	assert.Contains(t, d.ErrorMessage, ErrUnexpectedRestoreStatus.Error())
	assert.Contains(t, d.ErrorMessage, "409")

	missing := tracker.get("src/missing.bin")
	require.NotNil(t, missing)
	assert.Equal(t, record.StatusError, missing.ProcessingStatus)
	assert.Contains(t, missing.ErrorMessage, "Unable to read object metadata")

	bad := tracker.get("src/warm/bad-tags.bin")
	require.NotNil(t, bad)
	assert.Equal(t, record.StatusError, bad.ProcessingStatus)
	assert.Equal(t, record.ReasonTargetTagsFormat, bad.ErrorMessage)

	var queued []string
	for _, rec := range queue.enqueued {
		queued = append(queued, rec.Key())
	}
	assert.ElementsMatch(t, []string{"src/warm/a.bin", "src/cold/c.bin"}, queued)
	assert.ElementsMatch(t, []string{"src/cold/b.bin", "src/cold/c.bin", "src/cold/d.bin"}, store.restores)
}

func TestProcess_ValidationReasonsJoined(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		manifest: header + "src,empty.bin,bad,,,WARM,\n",
		objects:  map[string]objectstore.ObjectInfo{"src/empty.bin": {Size: 0, StorageClass: "STANDARD"}},
	}
	tracker := &fakeTracker{}
	queue := &fakeQueue{}

	res, err := NewProcessor(store, tracker, queue, Config{}).Process(context.Background(), "b", "m.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Failed)

	rec := tracker.get("src/empty.bin")
	require.NotNil(t, rec)
	want := strings.Join([]string{
		record.ReasonSourceTagsFormat,
		record.ReasonSizeNotPositive,
		record.ReasonTargetBucketEmpty,
		record.ReasonTargetStorageClassFormat,
	}, " ")
	assert.Equal(t, want, rec.ErrorMessage)
	assert.Empty(t, queue.enqueued)
}

func TestProcess_EnqueueFailureMarksError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		manifest: header + "src,a,,dst,,,\n",
		objects:  map[string]objectstore.ObjectInfo{"src/a": {Size: 1, StorageClass: "STANDARD"}},
	}
	tracker := &fakeTracker{}
	queue := &fakeQueue{err: errors.New("queue down")}

	res, err := NewProcessor(store, tracker, queue, Config{}).Process(context.Background(), "b", "m.csv")
	require.NoError(t, err)
	assert.Equal(t, Result{Rows: 1, Failed: 1}, res)

	rec := tracker.get("src/a")
	require.NotNil(t, rec)
	assert.Equal(t, record.StatusError, rec.ProcessingStatus)
	assert.Contains(t, rec.ErrorMessage, "queue down")
	assert.Equal(t, 2, tracker.puts, "queued state then error state")
}

func TestProcess_DryRun(t *testing.T) {
	t.Parallel()

	store := &fakeStore{manifest: header + "src,a,,dst,,,\nsrc,b,,dst,,,\n"}
	tracker := &fakeTracker{}
	queue := &fakeQueue{}

	res, err := NewProcessor(store, tracker, queue, Config{DryRun: true}).Process(context.Background(), "b", "m.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.Zero(t, store.lookups.Load())
	assert.Zero(t, tracker.puts)
	assert.Empty(t, queue.enqueued)
}

func TestProcess_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString(header)
	objects := make(map[string]objectstore.ObjectInfo)
	for i := range 50 {
		key := "obj-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		sb.WriteString("src," + key + ",,dst,,,\n")
		objects["src/"+key] = objectstore.ObjectInfo{Size: 1, StorageClass: "STANDARD"}
	}

	release := make(chan struct{})
	var waiting atomic.Int64
	store := &fakeStore{
		manifest: sb.String(),
		objects:  objects,
		lookupHook: func() {
			if waiting.Add(1) <= 3 {
				<-release
			}
		},
	}
	tracker := &fakeTracker{}
	queue := &fakeQueue{}

	done := make(chan Result)
	go func() {
		res, _ := NewProcessor(store, tracker, queue, Config{ParallelTasks: 3}).Process(context.Background(), "b", "m.csv")
		done <- res
	}()

	require.Eventually(t, func() bool { return store.inFlight.Load() == 3 }, defaultWait, tick)
	close(release)
	res := <-done

	assert.Equal(t, int64(50), res.Queued)
	assert.LessOrEqual(t, store.maxFlight.Load(), int64(3))
}

func TestProcess_ManifestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store *fakeStore
	}{
		{name: "download fails", store: &fakeStore{downloadErr: objectstore.ErrObjectNotFound}},
		{name: "empty manifest", store: &fakeStore{manifest: ""}},
		{name: "missing column", store: &fakeStore{manifest: "source_bucket,source_object_path\nsrc,a\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &fakeTracker{}
			_, err := NewProcessor(tt.store, tracker, &fakeQueue{}, Config{}).Process(context.Background(), "b", "m.csv")
			assert.ErrorIs(t, err, ErrManifestRead)
			assert.Zero(t, tracker.puts)
		})
	}
}
