// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() Options {
	return Options{
		Region:               "us-east-1",
		TrackingBackend:      backendDynamoDB,
		TrackingTableName:    "copy-requests",
		TrackingRetries:      2,
		TrackingRetryUnit:    time.Second,
		TrackingWriteFailure: "drop",
		QueueBackend:         backendSQS,
		CopyQueueURL:         "https://sqs.us-east-1.amazonaws.com/1/copy",
		DeadLetterQueueURL:   "https://sqs.us-east-1.amazonaws.com/1/copy-dlq",
		ReceiveWait:          20 * time.Second,
		MaxReceiveCount:      5,
	}
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(o *Options)
		roles   queueRole
		fields  []string
		warning bool
	}{
		{name: "valid", roles: needCopyQueue | needDeadLetter},
		{
			name:   "missing table name",
			modify: func(o *Options) { o.TrackingTableName = "" },
			fields: []string{"tracking_table_name"},
		},
		{
			name:   "unknown tracking backend",
			modify: func(o *Options) { o.TrackingBackend = "cassandra" },
			fields: []string{"tracking_backend"},
		},
		{
			name:   "unknown write failure policy",
			modify: func(o *Options) { o.TrackingWriteFailure = "ignore" },
			fields: []string{"tracking_write_failure"},
		},
		{
			name:   "restore events queue required only for its role",
			roles:  needCopyQueue | needRestoreEvents,
			fields: []string{"restore_events_queue_url"},
		},
		{
			name:   "dead letter url ignored without the role",
			modify: func(o *Options) { o.DeadLetterQueueURL = "" },
			roles:  needCopyQueue,
		},
		{
			name:   "receive wait above sqs maximum",
			modify: func(o *Options) { o.ReceiveWait = 30 * time.Second },
			fields: []string{"copy_batch_window"},
		},
		{
			name: "sql backends need a driver and dsn",
			modify: func(o *Options) {
				o.TrackingBackend = backendSQL
				o.QueueBackend = backendSQL
				o.DBDriver = "oracle"
			},
			fields: []string{"db_driver", "db_dsn"},
		},
		{
			name:   "zero tracking retries allowed",
			modify: func(o *Options) { o.TrackingRetries = 0 },
		},
		{
			name:   "negative tracking retries",
			modify: func(o *Options) { o.TrackingRetries = -1 },
			fields: []string{"tracking_retries"},
		},
		{
			name:   "redis without address",
			modify: func(o *Options) { o.TrackingBackend = backendRedis },
			fields: []string{"redis_addr"},
		},
		{
			name:   "secret key required with access key",
			modify: func(o *Options) { o.AccessKeyID = "AKIA" },
			fields: []string{"aws_secret_access_key"},
		},
		{
			name: "memory backends warn",
			modify: func(o *Options) {
				o.TrackingBackend = backendMemory
				o.QueueBackend = backendMemory
			},
			roles:   needCopyQueue | needDeadLetter | needRestoreEvents,
			warning: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			o := validOptions()
			if tc.modify != nil {
				tc.modify(&o)
			}
			result := o.Validate(tc.roles)

			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.ElementsMatch(t, tc.fields, fields)
			assert.Equal(t, len(tc.fields) == 0, result.Valid)
			assert.Equal(t, tc.warning, len(result.Warnings) > 0)
		})
	}
}

func TestConfigValidationResult_Err(t *testing.T) {
	t.Parallel()

	result := &ConfigValidationResult{Valid: true}
	require.NoError(t, result.Err())

	result.AddError("db_dsn", "required for sql backends")
	result.AddError("redis_addr", "required for the redis tracking backend")
	err := result.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_dsn: required for sql backends")
	assert.Contains(t, err.Error(), "redis_addr: required")

	var ve ConfigValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestFlagLoader_Precedence(t *testing.T) {
	v := viper.GetViper()
	t.Cleanup(func() { v.Set("part_concurrency", nil) })

	cmd := &cobra.Command{Use: "test"}
	addCopyFlags(cmd.Flags())
	viper.Set("part_concurrency", 3)

	f := NewFlagLoader(cmd)
	assert.Equal(t, 3, f.Int("part_concurrency"))

	require.NoError(t, cmd.Flags().Set("part_concurrency", "7"))
	assert.Equal(t, 7, f.Int("part_concurrency"))
}

func TestWriteRecordsTable(t *testing.T) {
	t.Parallel()

	rec := record.New(record.Params{
		ManifestFile:     "runs/a.csv",
		SourceBucket:     "src",
		SourceObjectPath: "a.bin",
		Size:             2048,
		StorageClass:     "STANDARD",
		TargetBucket:     "dst",
		TargetObjectPath: "b.bin",
	})
	rec.Fail("boom")

	var buf bytes.Buffer
	require.NoError(t, writeRecordsTable(&buf, []*record.CopyRequest{rec}))

	out := buf.String()
	assert.Contains(t, out, "s3://src/a.bin")
	assert.Contains(t, out, "s3://dst/b.bin")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "boom")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "1 record(s)"))
}
