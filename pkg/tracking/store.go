// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracking persists copy request records keyed by their source
// location. A Client wraps any Backend with a small fixed retry policy so a
// transient failure of the store never aborts the caller's work.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/record"
)

// Common errors
var (
	ErrRecordNotFound = errors.New("copy request not found")
	ErrWriteExhausted = errors.New("tracking store write retries exhausted")
)

// Backend is a durable keyed store of copy requests.
type Backend interface {
	// Put upserts rec keyed by (SourceBucket, SourceObjectPath). Last writer wins.
	Put(ctx context.Context, rec *record.CopyRequest) error

	// Get returns ErrRecordNotFound when no record exists for the key.
	Get(ctx context.Context, bucket, path string) (*record.CopyRequest, error)

	// List returns records of a manifest run in the given status.
	List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error)
}

// WriteFailurePolicy decides what Put does once every retry has failed.
type WriteFailurePolicy string

const (
	// WriteFailureDrop logs the failure and reports success to the caller.
	WriteFailureDrop WriteFailurePolicy = "drop"
	// WriteFailureEscalate returns ErrWriteExhausted to the caller.
	WriteFailureEscalate WriteFailurePolicy = "escalate"
)

// ParseWriteFailurePolicy maps a configured name to a policy.
func ParseWriteFailurePolicy(s string) (WriteFailurePolicy, error) {
	switch WriteFailurePolicy(s) {
	case "", WriteFailureDrop:
		return WriteFailureDrop, nil
	case WriteFailureEscalate:
		return WriteFailureEscalate, nil
	}
	return "", fmt.Errorf("unknown write failure policy %q", s)
}

// DefaultMaxRetries is the number of extra attempts callers normally allow.
const DefaultMaxRetries = 2

// Config configures the retrying client.
type Config struct {
	MaxRetries   int           // Extra attempts after the first; 0 makes a single attempt
	RetryUnit    time.Duration // Retry n sleeps n*RetryUnit first (default: 10ms)
	WriteFailure WriteFailurePolicy
}

// Client is the tracking store facade used by every pipeline stage.
type Client struct {
	backend      Backend
	maxRetries   int
	retryUnit    time.Duration
	writeFailure WriteFailurePolicy
}

// NewClient wraps backend with the retry policy in cfg.
func NewClient(backend Backend, cfg Config) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryUnit == 0 {
		cfg.RetryUnit = 10 * time.Millisecond
	}
	if cfg.WriteFailure == "" {
		cfg.WriteFailure = WriteFailureDrop
	}
	return &Client{
		backend:      backend,
		maxRetries:   cfg.MaxRetries,
		retryUnit:    cfg.RetryUnit,
		writeFailure: cfg.WriteFailure,
	}
}

// Put persists rec. With the drop policy an exhausted write is logged and nil
// is returned.
func (c *Client) Put(ctx context.Context, rec *record.CopyRequest) error {
	err := c.retry(ctx, "put", func() error {
		return c.backend.Put(ctx, rec)
	})
	if err == nil {
		return nil
	}

	logger.Error().
		Err(err).
		Str("source_bucket", rec.SourceBucket).
		Str("source_object_path", rec.SourceObjectPath).
		Str("status", string(rec.ProcessingStatus)).
		Msg("tracking: unable to persist copy request")

	if c.writeFailure == WriteFailureEscalate {
		return fmt.Errorf("%w: %w", ErrWriteExhausted, err)
	}
	DroppedWrites.Inc()
	return nil
}

// Get returns the tracked record for (bucket, path). The second result is
// false when the record is absent or could not be read.
func (c *Client) Get(ctx context.Context, bucket, path string) (*record.CopyRequest, bool) {
	var rec *record.CopyRequest
	err := c.retry(ctx, "get", func() error {
		var err error
		rec, err = c.backend.Get(ctx, bucket, path)
		return err
	})
	if errors.Is(err, ErrRecordNotFound) {
		ReadMisses.WithLabelValues("not_found").Inc()
		return nil, false
	}
	if err != nil {
		ReadMisses.WithLabelValues("error").Inc()
		logger.Error().
			Err(err).
			Str("source_bucket", bucket).
			Str("source_object_path", path).
			Msg("tracking: unable to read copy request")
		return nil, false
	}
	return rec, true
}

// List returns the records of a manifest run in status.
func (c *Client) List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error) {
	var recs []*record.CopyRequest
	err := c.retry(ctx, "list", func() error {
		var err error
		recs, err = c.backend.List(ctx, manifest, status)
		return err
	})
	return recs, err
}

// retry runs fn once plus up to maxRetries more times. Retry n waits
// n*retryUnit before running. ErrRecordNotFound is never retried.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			Retries.WithLabelValues(op).Inc()
			timer := time.NewTimer(time.Duration(attempt) * c.retryUnit)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), err)
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || errors.Is(err, ErrRecordNotFound) {
			return err
		}

		logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt+1).
			Msg("tracking: store call failed")
	}
	return err
}
