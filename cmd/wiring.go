// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/debug"
	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/objectstore"
	"github.com/LeeDigitalWorks/datapump/pkg/tracking"
	"github.com/LeeDigitalWorks/datapump/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// services are the collaborators built from Options for one command run.
type services struct {
	opts Options

	awsCfg  aws.Config
	store   *objectstore.Client
	tracker *tracking.Client

	copyQueue     dispatch.Queue
	deadLetter    dispatch.DeadLetter
	restoreEvents dispatch.Receiver

	db      *sql.DB
	closers []func() error
}

// newServices connects every backend the command needs.
func newServices(ctx context.Context, opts Options, roles queueRole) (*services, error) {
	result := opts.Validate(roles)
	for _, w := range result.Warnings {
		logger.Warn().Msg(w)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	s := &services{opts: opts}

	awsCfg, err := objectstore.LoadAWSConfig(ctx, objectstore.Config{
		Region:          opts.Region,
		AccessKeyID:     opts.AccessKeyID,
		SecretAccessKey: opts.SecretAccessKey,
		Timeout:         opts.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	s.awsCfg = awsCfg
	s.store = objectstore.NewClient(objectstore.NewS3Client(awsCfg, objectstore.Config{
		Endpoint:  opts.S3Endpoint,
		PathStyle: opts.S3PathStyle,
	}))

	if opts.TrackingBackend == backendSQL || opts.QueueBackend == backendSQL {
		if err := s.openDB(); err != nil {
			return nil, err
		}
	}

	backend, err := s.trackingBackend()
	if err != nil {
		s.Close()
		return nil, err
	}
	policy, _ := tracking.ParseWriteFailurePolicy(opts.TrackingWriteFailure)
	s.tracker = tracking.NewClient(backend, tracking.Config{
		MaxRetries:   opts.TrackingRetries,
		RetryUnit:    opts.TrackingRetryUnit,
		WriteFailure: policy,
	})

	if err := s.queues(roles); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *services) openDB() error {
	driver, err := utils.ParseDriver(s.opts.DBDriver)
	if err != nil {
		return err
	}
	db, err := utils.OpenDB(driver, s.opts.DBDSN)
	if err != nil {
		return err
	}
	s.db = db
	s.closers = append(s.closers, db.Close)
	debug.RegisterReadyCheck("database", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	})
	return nil
}

func (s *services) dbDriver() utils.Driver {
	driver, _ := utils.ParseDriver(s.opts.DBDriver)
	return driver
}

func (s *services) trackingBackend() (tracking.Backend, error) {
	switch s.opts.TrackingBackend {
	case backendDynamoDB:
		return tracking.NewDynamoDBStore(tracking.DynamoDBConfig{
			API:       dynamodb.NewFromConfig(s.awsCfg),
			TableName: s.opts.TrackingTableName,
		})
	case backendSQL:
		return tracking.NewSQLStore(tracking.SQLConfig{
			DB:        s.db,
			Driver:    s.dbDriver(),
			TableName: s.opts.TrackingTableName,
		})
	case backendRedis:
		store := tracking.NewRedisStore(tracking.RedisConfig{
			Addr:     s.opts.RedisAddr,
			Password: s.opts.RedisPassword,
			DB:       s.opts.RedisDB,
		})
		s.closers = append(s.closers, store.Close)
		debug.RegisterReadyCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		})
		return store, nil
	case backendMemory:
		return tracking.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported tracking backend %q", s.opts.TrackingBackend)
}

func (s *services) queues(roles queueRole) error {
	switch s.opts.QueueBackend {
	case backendSQS:
		api := sqs.NewFromConfig(s.awsCfg)
		newQueue := func(url string, wait time.Duration) (*dispatch.SQSQueue, error) {
			return dispatch.NewSQSQueue(dispatch.SQSQueueConfig{
				API:               api,
				QueueURL:          url,
				WaitTime:          wait,
				VisibilityTimeout: s.opts.VisibilityTimeout,
			})
		}
		if roles&needCopyQueue != 0 {
			q, err := newQueue(s.opts.CopyQueueURL, s.opts.ReceiveWait)
			if err != nil {
				return fmt.Errorf("copy queue: %w", err)
			}
			s.copyQueue = q
		}
		if roles&needDeadLetter != 0 {
			q, err := newQueue(s.opts.DeadLetterQueueURL, 0)
			if err != nil {
				return fmt.Errorf("dead-letter queue: %w", err)
			}
			s.deadLetter = q
		}
		if roles&needRestoreEvents != 0 {
			q, err := newQueue(s.opts.RestoreEventsQueueURL, s.opts.ReceiveWait)
			if err != nil {
				return fmt.Errorf("restore events queue: %w", err)
			}
			s.restoreEvents = q
		}

	case backendSQL:
		newQueue := func(table string) (*dispatch.DBQueue, error) {
			return dispatch.NewDBQueue(dispatch.DBQueueConfig{
				DB:                s.db,
				Driver:            s.dbDriver(),
				TableName:         table,
				VisibilityTimeout: s.opts.VisibilityTimeout,
				MaxReceiveCount:   s.opts.MaxReceiveCount,
			})
		}
		q, err := newQueue("copy_dispatch")
		if err != nil {
			return err
		}
		s.copyQueue, s.deadLetter = q, q
		if roles&needRestoreEvents != 0 {
			events, err := newQueue("restore_events")
			if err != nil {
				return err
			}
			s.restoreEvents = events
		}

	case backendMemory:
		newQueue := func() *dispatch.MemoryQueue {
			q := dispatch.NewMemoryQueue(dispatch.MemoryQueueConfig{
				VisibilityTimeout: s.opts.VisibilityTimeout,
				MaxReceiveCount:   s.opts.MaxReceiveCount,
			})
			s.closers = append(s.closers, q.Close)
			return q
		}
		// Forwarded copy messages land on the copy queue's own dead-letter list.
		q := newQueue()
		s.copyQueue, s.deadLetter = q, q
		if roles&needRestoreEvents != 0 {
			s.restoreEvents = newQueue()
		}

	default:
		return fmt.Errorf("unsupported queue backend %q", s.opts.QueueBackend)
	}
	return nil
}

// Close releases every backend connection.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
