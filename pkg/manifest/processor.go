// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest turns a CSV manifest of objects into tracked copy requests.
//
// Each row is looked up in object storage, validated, and then either queued
// for copy directly or, for archival storage classes, sent through a restore
// request first. Rows are processed concurrently and failures are isolated to
// the row that caused them.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/objectstore"
	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnexpectedRestoreStatus is recorded when a restore request answers with
// anything other than 200 or 202.
var ErrUnexpectedRestoreStatus = errors.New("unexpected restore status")

const (
	DefaultParallelTasks = 100
	DefaultRestoreDays   = 1
	DefaultRestoreTier   = "Bulk"
)

// ObjectStore is the object storage surface used while processing a manifest.
type ObjectStore interface {
	Downloader
	Lookup(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error)
	Restore(ctx context.Context, bucket, key string, days int32, tier string) (int, error)
}

// Tracker persists copy requests.
type Tracker interface {
	Put(ctx context.Context, rec *record.CopyRequest) error
}

// Enqueuer publishes copy requests for the copier.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec *record.CopyRequest) error
}

// Config tunes a Processor.
type Config struct {
	ParallelTasks int
	LookupRPS     float64 // 0 disables rate limiting
	RestoreDays   int32
	RestoreTier   string
	DryRun        bool
	TempDir       string
}

// Result summarises one manifest run.
type Result struct {
	Rows      int64
	Queued    int64
	Restoring int64
	Failed    int64
}

// Processor streams manifests into the tracking store and copy queue.
type Processor struct {
	store   ObjectStore
	tracker Tracker
	queue   Enqueuer
	cfg     Config
	limiter *rate.Limiter
}

// NewProcessor creates a manifest processor.
func NewProcessor(store ObjectStore, tracker Tracker, queue Enqueuer, cfg Config) *Processor {
	if cfg.ParallelTasks <= 0 {
		cfg.ParallelTasks = DefaultParallelTasks
	}
	if cfg.RestoreDays <= 0 {
		cfg.RestoreDays = DefaultRestoreDays
	}
	if cfg.RestoreTier == "" {
		cfg.RestoreTier = DefaultRestoreTier
	}

	var limiter *rate.Limiter
	if cfg.LookupRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LookupRPS), max(1, int(cfg.LookupRPS)))
	}

	return &Processor{
		store:   store,
		tracker: tracker,
		queue:   queue,
		cfg:     cfg,
		limiter: limiter,
	}
}

// Process reads the manifest at bucket/key and handles every row. The only
// error returned wraps ErrManifestRead; row failures are recorded on the
// rows themselves and counted in Result.Failed.
func (p *Processor) Process(ctx context.Context, bucket, key string) (Result, error) {
	start := time.Now()

	r, err := Open(ctx, p.store, bucket, key, p.cfg.TempDir)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	var (
		rows, queued, restoring, failed atomic.Int64
		readErr                         error
	)

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.ParallelTasks)

	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if ctx.Err() != nil {
			readErr = fmt.Errorf("%w: %w", ErrManifestRead, ctx.Err())
			break
		}

		rows.Add(1)
		g.Go(func() error {
			switch p.processRow(ctx, key, row) {
			case outcomeQueued:
				queued.Add(1)
			case outcomeRestoring:
				restoring.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	res := Result{
		Rows:      rows.Load(),
		Queued:    queued.Load(),
		Restoring: restoring.Load(),
		Failed:    failed.Load(),
	}
	ManifestDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Str("manifest_file", key).
		Int64("rows", res.Rows).
		Int64("queued", res.Queued).
		Int64("restoring", res.Restoring).
		Int64("failed", res.Failed).
		Bool("dry_run", p.cfg.DryRun).
		Dur("elapsed", time.Since(start)).
		Msg("manifest: processing finished")

	return res, readErr
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeQueued
	outcomeRestoring
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeQueued:
		return "queued"
	case outcomeRestoring:
		return "restoring"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

func (p *Processor) processRow(ctx context.Context, manifestFile string, row Row) outcome {
	rec := record.New(record.Params{
		ManifestFile:       manifestFile,
		SourceBucket:       row.SourceBucket,
		SourceObjectPath:   row.SourceObjectPath,
		SourceTags:         row.SourceTags,
		TargetBucket:       row.TargetBucket,
		TargetObjectPath:   row.TargetObjectPath,
		TargetStorageClass: row.TargetStorageClass,
		TargetTags:         row.TargetTags,
	})

	base := logger.ForObject(manifestFile, rec.SourceBucket, rec.SourceObjectPath)
	log := base.With().Int("line", row.Line).Logger()

	if p.cfg.DryRun {
		log.Info().
			Str("target_bucket", rec.TargetBucket).
			Str("target_object_path", rec.TargetObjectPath).
			Str("target_storage_class", rec.TargetStorageClass).
			Msg("manifest: dry run row")
		RowsProcessed.WithLabelValues(outcomeSkipped.String()).Inc()
		return outcomeSkipped
	}

	o := p.route(ctx, rec)
	RowsProcessed.WithLabelValues(o.String()).Inc()

	ev := log.Debug()
	if o == outcomeFailed {
		ev = log.Warn().Str("error_message", rec.ErrorMessage)
	}
	ev.Str("status", string(rec.ProcessingStatus)).
		Str("size", humanize.IBytes(uint64(max(rec.Size, 0)))).
		Str("storage_class", rec.StorageClass).
		Msg("manifest: row processed")
	return o
}

// route looks the object up, validates it, and moves rec to its next state.
func (p *Processor) route(ctx context.Context, rec *record.CopyRequest) outcome {
	if rec.SourceBucket != "" && rec.SourceObjectPath != "" {
		info, err := p.lookup(ctx, rec.SourceBucket, rec.SourceObjectPath)
		if err != nil {
			return p.fail(ctx, rec, fmt.Sprintf("Unable to read object metadata: %v", err))
		}
		rec.Size = info.Size
		rec.StorageClass = info.StorageClass
	}

	if reasons := rec.Validate(); len(reasons) > 0 {
		return p.fail(ctx, rec, strings.Join(reasons, " "))
	}

	if record.IsArchival(rec.StorageClass) {
		status, err := p.store.Restore(ctx, rec.SourceBucket, rec.SourceObjectPath, p.cfg.RestoreDays, p.cfg.RestoreTier)
		RestoreRequests.WithLabelValues(fmt.Sprint(status)).Inc()
		switch status {
		case http.StatusOK:
			// Already restored: copy straight away.
		case http.StatusAccepted:
			if err := rec.Transition(record.StatusRestoring); err != nil {
				return p.fail(ctx, rec, err.Error())
			}
			if err := p.tracker.Put(ctx, rec); err != nil {
				return outcomeFailed
			}
			return outcomeRestoring
		default:
			msg := fmt.Sprintf("%v: %d", ErrUnexpectedRestoreStatus, status)
			if err != nil {
				msg = fmt.Sprintf("%s: %v", msg, err)
			}
			return p.fail(ctx, rec, msg)
		}
	}

	if err := rec.Transition(record.StatusQueuedForCopy); err != nil {
		return p.fail(ctx, rec, err.Error())
	}
	if err := p.tracker.Put(ctx, rec); err != nil {
		return outcomeFailed
	}
	if err := p.queue.Enqueue(ctx, rec); err != nil {
		return p.fail(ctx, rec, fmt.Sprintf("Unable to enqueue copy request: %v", err))
	}
	return outcomeQueued
}

func (p *Processor) lookup(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return objectstore.ObjectInfo{}, err
		}
	}
	return p.store.Lookup(ctx, bucket, key)
}

// fail marks rec as ERROR with msg and persists it.
func (p *Processor) fail(ctx context.Context, rec *record.CopyRequest, msg string) outcome {
	rec.Fail(msg)
	p.tracker.Put(ctx, rec)
	return outcomeFailed
}
