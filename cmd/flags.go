// Package cmd provides the datapump CLI commands.
// This file contains reusable helpers for configuration loading with CLI flag precedence.
package cmd

import (
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/copier"
	"github.com/LeeDigitalWorks/datapump/pkg/manifest"
	"github.com/LeeDigitalWorks/datapump/pkg/tracking"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// addCommonFlags registers the settings shared by every pipeline command.
// Each flag name is also its viper key and, upper-cased, its env variable.
func addCommonFlags(f *pflag.FlagSet) {
	f.String("log_level", "info", "Log level (trace, debug, info, warn, error)")
	f.Int("debug_port", 0, "Port for the metrics and pprof server (0 disables it)")

	f.String("aws_region", "", "AWS region (default: SDK resolution)")
	f.String("s3_endpoint", "", "Custom S3 endpoint, e.g. for MinIO")
	f.Bool("s3_path_style", false, "Use path-style S3 addressing")
	f.String("aws_access_key_id", "", "Static access key (default: SDK credential chain)")
	f.String("aws_secret_access_key", "", "Static secret key")
	f.Duration("request_timeout", 5*time.Minute, "Per-request timeout for storage calls")

	f.String("tracking_backend", "dynamodb", "Tracking store backend (dynamodb, sql, redis, memory)")
	f.String("tracking_table_name", "", "Tracking table name (DynamoDB table or SQL table)")
	f.Int("tracking_retries", tracking.DefaultMaxRetries, "Extra attempts for tracking store operations (0 disables retries)")
	f.Duration("tracking_retry_unit", 10*time.Millisecond, "Linear backoff unit between tracking attempts")
	f.String("tracking_write_failure", "drop", "What to do when a tracking write exhausts its retries (drop, escalate)")

	f.String("queue_backend", "sqs", "Copy dispatch queue backend (sqs, sql, memory)")
	f.String("copy_queue_url", "", "SQS URL of the copy dispatch queue")
	f.String("dead_letter_queue_url", "", "SQS URL of the dead-letter queue")
	f.String("restore_events_queue_url", "", "SQS URL receiving S3 restore notifications")
	f.Duration("visibility_timeout", 15*time.Minute, "Visibility timeout for received messages")
	f.Int("max_receive_count", 5, "Receives before a SQL-queued message is dead-lettered")

	f.String("db_driver", "mysql", "SQL driver for sql backends (mysql, postgres)")
	f.String("db_dsn", "", "SQL data source name")
	f.String("redis_addr", "localhost:6379", "Redis address")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database number")
}

// addManifestFlags registers the manifest command settings.
func addManifestFlags(f *pflag.FlagSet) {
	f.String("bucket", "", "Bucket holding the manifest (default: bucket_name)")
	f.String("key", "", "Object key of the manifest (default: object_key)")
	f.String("bucket_name", "", "Bucket holding the manifest")
	f.String("object_key", "", "Object key of the manifest")
	f.Int("parallel_tasks", manifest.DefaultParallelTasks, "Manifest rows processed concurrently")
	f.Float64("lookup_rps", 0, "Maximum metadata lookups per second (0 is unlimited)")
	f.Int("glacier_restore_days", manifest.DefaultRestoreDays, "Days a restored copy stays available")
	f.String("glacier_restore_tier", manifest.DefaultRestoreTier, "Restore tier (Bulk, Standard, Expedited)")
	f.Bool("dry_run", false, "Read and log the manifest without touching any object")
	f.String("temp_dir", "", "Directory for the downloaded manifest (default: system temp dir)")
}

// addCopyFlags registers the copy-worker settings.
func addCopyFlags(f *pflag.FlagSet) {
	f.Int64("multipart_threshold", copier.DefaultMultipartThreshold, "Objects larger than this many bytes use a chunked copy")
	f.Int64("chunk_size", copier.DefaultChunkSize, "Part size in bytes for chunked copies")
	f.Int("part_concurrency", copier.DefaultPartConcurrency, "Parts copied concurrently per object")
	f.Int("copy_batch_size", 10, "Messages received per poll")
	f.Duration("copy_batch_window", 20*time.Second, "Long-poll wait per receive")
	f.Int("copy_concurrency", 5, "Objects copied concurrently")
	f.Duration("poll_interval", time.Second, "Pause after an empty receive")
	f.Duration("drain_timeout", 0, "How long shutdown waits for in-flight copies before cancelling them (0 waits for all)")
}

// FlagLoader provides methods for loading configuration values with CLI flag precedence.
// When a CLI flag is explicitly set, it takes precedence over config file and env vars.
// Otherwise, viper's standard priority applies: env > config file > default.
type FlagLoader struct {
	cmd *cobra.Command
}

// NewFlagLoader creates a FlagLoader for the given cobra command.
func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd}
}

// String returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) String(flagName string) string {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetString(flagName)
		return val
	}
	return viper.GetString(flagName)
}

// Int returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Int(flagName string) int {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetInt(flagName)
		return val
	}
	return viper.GetInt(flagName)
}

// Int64 returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Int64(flagName string) int64 {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetInt64(flagName)
		return val
	}
	return viper.GetInt64(flagName)
}

// Float64 returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Float64(flagName string) float64 {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetFloat64(flagName)
		return val
	}
	return viper.GetFloat64(flagName)
}

// Bool returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Bool(flagName string) bool {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetBool(flagName)
		return val
	}
	return viper.GetBool(flagName)
}

// Duration returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Duration(flagName string) time.Duration {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetDuration(flagName)
		return val
	}
	return viper.GetDuration(flagName)
}
