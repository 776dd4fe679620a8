// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend fails the first failures calls of each operation.
type flakyBackend struct {
	mu       sync.Mutex
	inner    *MemoryStore
	failures int
	calls    map[string]int
	err      error
}

func newFlakyBackend(failures int) *flakyBackend {
	return &flakyBackend{
		inner:    NewMemoryStore(),
		failures: failures,
		calls:    make(map[string]int),
		err:      errors.New("throttled"),
	}
}

func (b *flakyBackend) fail(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	if b.calls[op] <= b.failures {
		return b.err
	}
	return nil
}

func (b *flakyBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *flakyBackend) Put(ctx context.Context, rec *record.CopyRequest) error {
	if err := b.fail("put"); err != nil {
		return err
	}
	return b.inner.Put(ctx, rec)
}

func (b *flakyBackend) Get(ctx context.Context, bucket, path string) (*record.CopyRequest, error) {
	if err := b.fail("get"); err != nil {
		return nil, err
	}
	return b.inner.Get(ctx, bucket, path)
}

func (b *flakyBackend) List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error) {
	if err := b.fail("list"); err != nil {
		return nil, err
	}
	return b.inner.List(ctx, manifest, status)
}

func testRecord(path string) *record.CopyRequest {
	return record.New(record.Params{
		ManifestFile:     "m.csv",
		SourceBucket:     "src",
		SourceObjectPath: path,
		Size:             10,
		StorageClass:     "STANDARD",
		TargetBucket:     "dst",
	})
}

func TestClient_PutRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(2)
	client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, RetryUnit: time.Millisecond})

	rec := testRecord("a")
	require.NoError(t, client.Put(context.Background(), rec))
	assert.Equal(t, 3, backend.count("put"))

	got, ok := client.Get(context.Background(), "src", "a")
	require.True(t, ok)
	assert.Equal(t, rec.SourceObjectPath, got.SourceObjectPath)
}

func TestClient_PutDropPolicy(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(10)
	client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, RetryUnit: time.Millisecond})

	err := client.Put(context.Background(), testRecord("a"))
	assert.NoError(t, err)
	assert.Equal(t, 3, backend.count("put"), "one attempt plus two retries")
	assert.Equal(t, 0, backend.inner.Len())
}

func TestClient_PutEscalatePolicy(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(10)
	client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, RetryUnit: time.Millisecond, WriteFailure: WriteFailureEscalate})

	err := client.Put(context.Background(), testRecord("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteExhausted)
	assert.ErrorIs(t, err, backend.err)
}

func TestClient_ZeroRetriesMakesOneAttempt(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(1)
	client := NewClient(backend, Config{MaxRetries: 0, RetryUnit: time.Millisecond, WriteFailure: WriteFailureEscalate})
	ctx := context.Background()

	err := client.Put(ctx, testRecord("a"))
	assert.ErrorIs(t, err, ErrWriteExhausted)
	assert.Equal(t, 1, backend.count("put"))

	_, ok := client.Get(ctx, "src", "a")
	assert.False(t, ok)
	assert.Equal(t, 1, backend.count("get"))
}

func TestClient_GetExhaustedReturnsAbsent(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(10)
	client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, RetryUnit: time.Millisecond})

	rec, ok := client.Get(context.Background(), "src", "a")
	assert.False(t, ok)
	assert.Nil(t, rec)
	assert.Equal(t, 3, backend.count("get"))
}

func TestClient_GetNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(0)
	client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, RetryUnit: time.Millisecond})

	_, ok := client.Get(context.Background(), "src", "missing")
	assert.False(t, ok)
	assert.Equal(t, 1, backend.count("get"))
}

func TestClient_List(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(1)
	client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, RetryUnit: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, backend.inner.Put(ctx, testRecord("b")))
	require.NoError(t, backend.inner.Put(ctx, testRecord("a")))

	recs, err := client.List(ctx, "m.csv", record.StatusInitiating)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].SourceObjectPath)
}

// TestClient_RetryBackoff_Synctest checks the linear backoff with a controlled clock.
func TestClient_RetryBackoff_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		backend := newFlakyBackend(10)
		client := NewClient(backend, Config{MaxRetries: DefaultMaxRetries, WriteFailure: WriteFailureEscalate})

		start := time.Now()
		err := client.Put(context.Background(), testRecord("a"))
		elapsed := time.Since(start)

		require.Error(t, err)
		// 1*10ms before the first retry, 2*10ms before the second.
		assert.Equal(t, 30*time.Millisecond, elapsed)
	})
}

func TestClient_RetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	backend := newFlakyBackend(10)
	client := NewClient(backend, Config{RetryUnit: time.Hour, WriteFailure: WriteFailureEscalate})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Put(ctx, testRecord("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.count("put"))
}

func TestParseWriteFailurePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseWriteFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, WriteFailureDrop, p)

	p, err = ParseWriteFailurePolicy("escalate")
	require.NoError(t, err)
	assert.Equal(t, WriteFailureEscalate, p)

	_, err = ParseWriteFailurePolicy("panic")
	assert.Error(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	rec := testRecord("a")
	require.NoError(t, s.Put(ctx, rec))

	rec.ProcessingStatus = record.StatusError
	got, err := s.Get(ctx, "src", "a")
	require.NoError(t, err)
	assert.Equal(t, record.StatusInitiating, got.ProcessingStatus)

	_, err = s.Get(ctx, "src", "b")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
