// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package copier performs the server-side copies requested on the copy
// dispatch queue.
//
// Objects up to MultipartThreshold bytes are copied with a single request.
// Larger objects are split into ChunkSize ranges that are copied in parallel
// as parts of a multipart upload. Every delivery is acknowledged once it has
// been handled; failures are recorded on the tracked copy request and the
// original message is forwarded to the dead-letter channel.
package copier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/objectstore"
	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrPartFailed is returned when any part of a chunked copy fails. The
// multipart upload has been aborted by then.
var ErrPartFailed = errors.New("multipart part copy failed")

const (
	DefaultMultipartThreshold = int64(5) << 30
	DefaultChunkSize          = int64(1) << 30
	DefaultPartConcurrency    = 10
)

// ObjectStore is the object storage surface used by the copier.
type ObjectStore interface {
	Tags(ctx context.Context, bucket, key string) (record.TagSet, error)
	PutTags(ctx context.Context, bucket, key string, tags record.TagSet) error
	Details(ctx context.Context, bucket, key string) (*objectstore.ObjectDetails, error)
	Copy(ctx context.Context, in objectstore.CopyInput) error
	CreateMultipart(ctx context.Context, in objectstore.MultipartInput) (string, error)
	CopyPart(ctx context.Context, in objectstore.PartCopyInput) (string, error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []objectstore.CompletedPart) error
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
}

// Tracker reads and writes tracked copy requests.
type Tracker interface {
	Get(ctx context.Context, bucket, path string) (*record.CopyRequest, bool)
	Put(ctx context.Context, rec *record.CopyRequest) error
}

// Config tunes a Copier.
type Config struct {
	MultipartThreshold int64 // objects above this size use a chunked copy
	ChunkSize          int64
	PartConcurrency    int
}

// Copier is a dispatch.Handler for copy dispatch messages.
type Copier struct {
	store      ObjectStore
	tracker    Tracker
	queue      dispatch.Receiver
	deadLetter dispatch.DeadLetter
	cfg        Config
}

// New creates a copier acknowledging deliveries on queue and forwarding
// failures to deadLetter.
func New(store ObjectStore, tracker Tracker, queue dispatch.Receiver, deadLetter dispatch.DeadLetter, cfg Config) *Copier {
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = DefaultMultipartThreshold
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PartConcurrency <= 0 {
		cfg.PartConcurrency = DefaultPartConcurrency
	}
	return &Copier{
		store:      store,
		tracker:    tracker,
		queue:      queue,
		deadLetter: deadLetter,
		cfg:        cfg,
	}
}

// Handle copies the object described by d. It always returns nil: outcomes
// are persisted on the tracked record and d is deleted in every case.
func (c *Copier) Handle(ctx context.Context, d *dispatch.Delivery) error {
	defer c.ack(ctx, d)

	attrs, err := dispatch.ParseAttributes(d.Attributes)
	var rec *record.CopyRequest
	if err == nil {
		rec = attrs.Record()
		err = rec.Check()
	}
	if err != nil {
		c.reject(ctx, d, attrs, err)
		return nil
	}

	base := logger.ForObject(rec.ManifestFile, rec.SourceBucket, rec.SourceObjectPath)
	log := base.With().
		Str("message_id", d.ID).
		Str("target_bucket", rec.TargetBucket).
		Str("target_object_path", rec.TargetObjectPath).
		Logger()

	start := time.Now()
	strategy, err := c.copy(ctx, rec)
	CopyDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	if err != nil {
		CopiesTotal.WithLabelValues(strategy, "error").Inc()
		log.Error().Err(err).Str("strategy", strategy).Msg("copier: copy failed")
		c.fail(ctx, d, rec, err)
		return nil
	}
	CopiesTotal.WithLabelValues(strategy, "ok").Inc()
	BytesCopiedTotal.Add(float64(rec.Size))

	c.tagSource(ctx, &log, rec)

	if err := rec.Transition(record.StatusCopyCompleted); err != nil {
		c.fail(ctx, d, rec, err)
		return nil
	}
	if err := c.tracker.Put(ctx, rec); err != nil {
		log.Error().Err(err).Msg("copier: unable to record completed copy")
	}

	log.Info().
		Str("strategy", strategy).
		Str("size", humanize.IBytes(uint64(rec.Size))).
		Dur("elapsed", time.Since(start)).
		Msg("copier: copy completed")
	return nil
}

// copy runs the strategy chosen for rec and returns its name.
func (c *Copier) copy(ctx context.Context, rec *record.CopyRequest) (string, error) {
	if rec.Size <= c.cfg.MultipartThreshold {
		return "regular", c.regularCopy(ctx, rec)
	}
	return "chunked", c.chunkedCopy(ctx, rec)
}

func (c *Copier) regularCopy(ctx context.Context, rec *record.CopyRequest) error {
	existing, err := c.store.Tags(ctx, rec.SourceBucket, rec.SourceObjectPath)
	if err != nil {
		return fmt.Errorf("read source tags: %w", err)
	}
	return c.store.Copy(ctx, objectstore.CopyInput{
		SourceBucket: rec.SourceBucket,
		SourceKey:    rec.SourceObjectPath,
		TargetBucket: rec.TargetBucket,
		TargetKey:    rec.TargetObjectPath,
		StorageClass: rec.TargetStorageClass,
		Tags:         record.MergeTags(existing, rec.TargetTags),
	})
}

func (c *Copier) chunkedCopy(ctx context.Context, rec *record.CopyRequest) error {
	details, err := c.store.Details(ctx, rec.SourceBucket, rec.SourceObjectPath)
	if err != nil {
		return fmt.Errorf("read source details: %w", err)
	}
	rec.Size = details.ContentLength
	ranges := objectstore.Chunks(rec.Size, c.cfg.ChunkSize)
	if len(ranges) == 0 {
		return fmt.Errorf("%w: source reports no content", record.ErrInvalidRecord)
	}

	uploadID, err := c.store.CreateMultipart(ctx, objectstore.MultipartInput{
		TargetBucket: rec.TargetBucket,
		TargetKey:    rec.TargetObjectPath,
		StorageClass: rec.TargetStorageClass,
		ContentType:  details.ContentType,
		Metadata:     details.Metadata,
		Tags:         record.MergeTags(details.Tags, rec.TargetTags),
	})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}

	logger.Debug().
		Str("source_bucket", rec.SourceBucket).
		Str("source_object_path", rec.SourceObjectPath).
		Str("upload_id", uploadID).
		Int("parts", len(ranges)).
		Str("chunk_size", humanize.IBytes(uint64(c.cfg.ChunkSize))).
		Msg("copier: multipart upload started")

	parts := make([]objectstore.CompletedPart, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PartConcurrency)
	for i, r := range ranges {
		partNumber := int32(i + 1)
		g.Go(func() error {
			etag, err := c.store.CopyPart(gctx, objectstore.PartCopyInput{
				TargetBucket: rec.TargetBucket,
				TargetKey:    rec.TargetObjectPath,
				UploadID:     uploadID,
				PartNumber:   partNumber,
				SourceBucket: rec.SourceBucket,
				SourceKey:    rec.SourceObjectPath,
				Range:        r,
			})
			if err != nil {
				return fmt.Errorf("%w: part %d (%s): %w", ErrPartFailed, partNumber, r.Header(), err)
			}
			parts[i] = objectstore.CompletedPart{PartNumber: partNumber, ETag: etag}
			PartsCopiedTotal.Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if abortErr := c.store.AbortMultipart(context.WithoutCancel(ctx), rec.TargetBucket, rec.TargetObjectPath, uploadID); abortErr != nil {
			logger.Error().
				Err(abortErr).
				Str("upload_id", uploadID).
				Msg("copier: unable to abort multipart upload")
		}
		return err
	}

	if err := c.store.CompleteMultipart(ctx, rec.TargetBucket, rec.TargetObjectPath, uploadID, parts); err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

// tagSource merges the requested source tags into the source object's tags.
// Failures are logged only.
func (c *Copier) tagSource(ctx context.Context, log *zerolog.Logger, rec *record.CopyRequest) {
	if rec.SourceTags == "" {
		return
	}
	existing, err := c.store.Tags(ctx, rec.SourceBucket, rec.SourceObjectPath)
	if err == nil {
		err = c.store.PutTags(ctx, rec.SourceBucket, rec.SourceObjectPath, record.MergeTags(existing, rec.SourceTags))
	}
	if err != nil {
		SourceTagFailures.Inc()
		log.Warn().Err(err).Msg("copier: unable to tag source object")
	}
}

// reject handles a delivery that does not describe a valid copy request.
func (c *Copier) reject(ctx context.Context, d *dispatch.Delivery, attrs dispatch.Attributes, cause error) {
	RejectedTotal.Inc()
	logger.Error().
		Err(cause).
		Str("message_id", d.ID).
		Str("source_bucket", attrs.SourceBucket).
		Str("source_object_path", attrs.SourceObjectPath).
		Msg("copier: rejecting copy request")

	c.forward(ctx, d)

	if attrs.SourceBucket == "" || attrs.SourceObjectPath == "" {
		return
	}
	rec, ok := c.tracker.Get(ctx, attrs.SourceBucket, attrs.SourceObjectPath)
	if !ok {
		rec = attrs.Record()
	}
	rec.Fail(cause.Error())
	c.tracker.Put(ctx, rec)
}

// fail records cause on rec and dead-letters d. Both complete even when ctx
// was cancelled mid-copy, since d is deleted afterwards regardless.
func (c *Copier) fail(ctx context.Context, d *dispatch.Delivery, rec *record.CopyRequest, cause error) {
	ctx = context.WithoutCancel(ctx)
	rec.Fail(cause.Error())
	if err := c.tracker.Put(ctx, rec); err != nil {
		logger.Error().Err(err).Str("source_object_path", rec.SourceObjectPath).Msg("copier: unable to record failed copy")
	}
	c.forward(ctx, d)
}

func (c *Copier) forward(ctx context.Context, d *dispatch.Delivery) {
	if err := c.deadLetter.Forward(ctx, d); err != nil {
		logger.Error().Err(err).Str("message_id", d.ID).Msg("copier: unable to dead-letter message")
	}
}

func (c *Copier) ack(ctx context.Context, d *dispatch.Delivery) {
	if err := c.queue.Delete(context.WithoutCancel(ctx), d); err != nil {
		logger.Error().Err(err).Str("message_id", d.ID).Msg("copier: unable to delete message")
	}
}
