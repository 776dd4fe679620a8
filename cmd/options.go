// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/tracking"
	"github.com/LeeDigitalWorks/datapump/pkg/utils"
)

// Backend names accepted by tracking_backend and queue_backend.
const (
	backendDynamoDB = "dynamodb"
	backendSQL      = "sql"
	backendRedis    = "redis"
	backendSQS      = "sqs"
	backendMemory   = "memory"
)

// Options holds the configuration shared by the pipeline commands.
type Options struct {
	LogLevel  string
	DebugPort int

	Region          string
	S3Endpoint      string
	S3PathStyle     bool
	AccessKeyID     string
	SecretAccessKey string
	RequestTimeout  time.Duration

	TrackingBackend      string
	TrackingTableName    string
	TrackingRetries      int
	TrackingRetryUnit    time.Duration
	TrackingWriteFailure string

	QueueBackend          string
	CopyQueueURL          string
	DeadLetterQueueURL    string
	RestoreEventsQueueURL string
	VisibilityTimeout     time.Duration
	MaxReceiveCount       int
	ReceiveWait           time.Duration // SQS long-poll window, from copy_batch_window

	DBDriver      string
	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func loadOptions(f *FlagLoader) Options {
	return Options{
		LogLevel:  f.String("log_level"),
		DebugPort: f.Int("debug_port"),

		Region:          f.String("aws_region"),
		S3Endpoint:      f.String("s3_endpoint"),
		S3PathStyle:     f.Bool("s3_path_style"),
		AccessKeyID:     f.String("aws_access_key_id"),
		SecretAccessKey: f.String("aws_secret_access_key"),
		RequestTimeout:  f.Duration("request_timeout"),

		TrackingBackend:      strings.ToLower(f.String("tracking_backend")),
		TrackingTableName:    f.String("tracking_table_name"),
		TrackingRetries:      f.Int("tracking_retries"),
		TrackingRetryUnit:    f.Duration("tracking_retry_unit"),
		TrackingWriteFailure: f.String("tracking_write_failure"),

		QueueBackend:          strings.ToLower(f.String("queue_backend")),
		CopyQueueURL:          f.String("copy_queue_url"),
		DeadLetterQueueURL:    f.String("dead_letter_queue_url"),
		RestoreEventsQueueURL: f.String("restore_events_queue_url"),
		VisibilityTimeout:     f.Duration("visibility_timeout"),
		MaxReceiveCount:       f.Int("max_receive_count"),
		ReceiveWait:           f.Duration("copy_batch_window"),

		DBDriver:      f.String("db_driver"),
		DBDSN:         f.String("db_dsn"),
		RedisAddr:     f.String("redis_addr"),
		RedisPassword: f.String("redis_password"),
		RedisDB:       f.Int("redis_db"),
	}
}

// ConfigValidationError is one invalid setting.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigValidationResult collects every problem found in a configuration.
type ConfigValidationResult struct {
	Valid    bool
	Errors   []ConfigValidationError
	Warnings []string
}

// AddError adds an error to the result
func (r *ConfigValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ConfigValidationError{Field: field, Message: message})
}

// AddWarning adds a warning to the result
func (r *ConfigValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// Err joins the validation errors, or returns nil when the result is valid.
func (r *ConfigValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// queueRole names which queues a command needs.
type queueRole int

const (
	needCopyQueue queueRole = 1 << iota
	needDeadLetter
	needRestoreEvents
)

// Validate checks the options for a command that uses the queues in roles.
func (o Options) Validate(roles queueRole) *ConfigValidationResult {
	result := &ConfigValidationResult{Valid: true}

	if o.DebugPort < 0 || o.DebugPort > 65535 {
		result.AddError("debug_port", "must be between 0 and 65535")
	}
	if o.RequestTimeout < 0 {
		result.AddError("request_timeout", "cannot be negative")
	}
	if o.AccessKeyID != "" && o.SecretAccessKey == "" {
		result.AddError("aws_secret_access_key", "required when aws_access_key_id is set")
	}

	usesSQL := false
	switch o.TrackingBackend {
	case backendDynamoDB:
		if o.TrackingTableName == "" {
			result.AddError("tracking_table_name", "required for the dynamodb tracking backend")
		}
	case backendSQL:
		usesSQL = true
	case backendRedis:
		if o.RedisAddr == "" {
			result.AddError("redis_addr", "required for the redis tracking backend")
		}
	case backendMemory:
		result.AddWarning("memory tracking backend keeps records in this process only")
	default:
		result.AddError("tracking_backend", fmt.Sprintf("unsupported backend %q", o.TrackingBackend))
	}
	if o.TrackingRetries < 0 {
		result.AddError("tracking_retries", "cannot be negative")
	}
	if o.TrackingRetryUnit < 0 {
		result.AddError("tracking_retry_unit", "cannot be negative")
	}
	if _, err := tracking.ParseWriteFailurePolicy(o.TrackingWriteFailure); err != nil {
		result.AddError("tracking_write_failure", err.Error())
	}

	switch o.QueueBackend {
	case backendSQS:
		if roles&needCopyQueue != 0 && o.CopyQueueURL == "" {
			result.AddError("copy_queue_url", "required for the sqs queue backend")
		}
		if roles&needDeadLetter != 0 && o.DeadLetterQueueURL == "" {
			result.AddError("dead_letter_queue_url", "required for the sqs queue backend")
		}
		if roles&needRestoreEvents != 0 && o.RestoreEventsQueueURL == "" {
			result.AddError("restore_events_queue_url", "required for the sqs queue backend")
		}
	case backendSQL:
		usesSQL = true
	case backendMemory:
		result.AddWarning("memory queue backend delivers messages within this process only")
	default:
		result.AddError("queue_backend", fmt.Sprintf("unsupported backend %q", o.QueueBackend))
	}
	if o.VisibilityTimeout < 0 {
		result.AddError("visibility_timeout", "cannot be negative")
	}
	if o.ReceiveWait < 0 || o.ReceiveWait > 20*time.Second {
		result.AddError("copy_batch_window", "must be between 0s and 20s")
	}
	if o.MaxReceiveCount < 0 {
		result.AddError("max_receive_count", "cannot be negative")
	}

	if usesSQL {
		if _, err := utils.ParseDriver(o.DBDriver); err != nil {
			result.AddError("db_driver", err.Error())
		}
		if o.DBDSN == "" {
			result.AddError("db_dsn", "required for sql backends")
		}
	}

	return result
}
