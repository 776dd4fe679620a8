// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface verification
var _ Backend = (*RedisStore)(nil)

// RedisStore keeps each record in a hash and maintains one set per
// (manifest, status) pair as the secondary index.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // Defaults to "datapump"
}

// NewRedisStore connects to Redis and returns a store.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.KeyPrefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "datapump"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(bucket, path string) string {
	return fmt.Sprintf("%s:record:%s/%s", s.prefix, bucket, path)
}

func (s *RedisStore) indexKey(manifest string, status record.Status) string {
	return fmt.Sprintf("%s:index:%s:%s", s.prefix, manifest, status)
}

// putScript writes the record and moves its key between index sets in one step.
//
// KEYS[1] = record hash, KEYS[2] = new index set
// ARGV[1] = record JSON
var putScript = redis.NewScript(`
local prev = redis.call("HGET", KEYS[1], "index")
if prev and prev ~= KEYS[2] then
	redis.call("SREM", prev, KEYS[1])
end
redis.call("HSET", KEYS[1], "data", ARGV[1], "index", KEYS[2])
redis.call("SADD", KEYS[2], KEYS[1])
return 1
`)

func (s *RedisStore) Put(ctx context.Context, rec *record.CopyRequest) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal copy request: %w", err)
	}
	keys := []string{
		s.recordKey(rec.SourceBucket, rec.SourceObjectPath),
		s.indexKey(rec.ManifestFile, rec.ProcessingStatus),
	}
	return putScript.Run(ctx, s.client, keys, string(data)).Err()
}

func (s *RedisStore) Get(ctx context.Context, bucket, path string) (*record.CopyRequest, error) {
	data, err := s.client.HGet(ctx, s.recordKey(bucket, path), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (s *RedisStore) List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey(manifest, status)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGet(ctx, key, "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]*record.CopyRequest, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecord(data string) (*record.CopyRequest, error) {
	var rec record.CopyRequest
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal copy request: %w", err)
	}
	return &rec, nil
}
