// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"context"
	"sort"
	"sync"

	"github.com/LeeDigitalWorks/datapump/pkg/record"
)

// Compile-time interface verification
var _ Backend = (*MemoryStore)(nil)

// MemoryStore is an in-memory Backend for tests and local runs.
// Records are not persisted.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record.CopyRequest
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record.CopyRequest)}
}

func memoryKey(bucket, path string) string {
	return bucket + "\x00" + path
}

func (s *MemoryStore) Put(ctx context.Context, rec *record.CopyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memoryKey(rec.SourceBucket, rec.SourceObjectPath)] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, bucket, path string) (*record.CopyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memoryKey(bucket, path)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*record.CopyRequest
	for _, rec := range s.records {
		if rec.ManifestFile == manifest && rec.ProcessingStatus == status {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
