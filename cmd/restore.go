// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/debug"
	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/restore"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var restoreEventsCmd = &cobra.Command{
	Use:   "restore-events",
	Short: "Consume restore-completed notifications and queue restored objects",
	Long: `Receives S3 "ObjectRestore:Completed" notifications, delivered directly or
through SNS, and moves each tracked object from RESTORING to QUEUED_FOR_COPY.`,
	RunE: runRestoreEvents,
}

var restoreCompleteCmd = &cobra.Command{
	Use:   "restore-complete",
	Short: "Queue one restored object for copy",
	Example: `  datapump restore-complete --bucket archive --key cold/2019/a.bin --size 1048576`,
	RunE:    runRestoreComplete,
}

func init() {
	rootCmd.AddCommand(restoreEventsCmd)
	restoreEventsCmd.Flags().Duration("poll_interval", time.Second, "Pause after an empty or failed receive")
	restoreEventsCmd.Flags().Int("event_concurrency", 5, "Notifications handled at once")
	restoreEventsCmd.Flags().Duration("drain_timeout", 30*time.Second, "How long shutdown waits for in-flight notifications (0 waits for all)")
	viper.BindPFlags(restoreEventsCmd.Flags())

	rootCmd.AddCommand(restoreCompleteCmd)
	restoreCompleteCmd.Flags().String("bucket", "", "Source bucket of the restored object")
	restoreCompleteCmd.Flags().String("key", "", "Source key of the restored object")
	restoreCompleteCmd.Flags().Int64("size", 0, "Object size in bytes")
	restoreCompleteCmd.MarkFlagRequired("bucket")
	restoreCompleteCmd.MarkFlagRequired("key")
}

func runRestoreEvents(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	opts := loadOptions(f)

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newServices(ctx, opts, needCopyQueue|needRestoreEvents)
	if err != nil {
		return err
	}
	defer svc.Close()

	handler := restore.NewEventHandler(restore.NewHandler(svc.tracker, svc.copyQueue), svc.restoreEvents)

	hostname, _ := os.Hostname()
	consumer := dispatch.NewConsumer(dispatch.ConsumerConfig{
		ID:           "restore-events@" + hostname,
		Receiver:     svc.restoreEvents,
		Handler:      handler,
		PollInterval: f.Duration("poll_interval"),
		Concurrency:  f.Int("event_concurrency"),
		DrainTimeout: f.Duration("drain_timeout"),
	})

	stopDebug := startDebugServer(opts.DebugPort)
	defer stopDebug()

	consumer.Start(ctx)
	debug.SetReady()
	logger.Info().Msg("restore event consumer started")

	<-ctx.Done()
	debug.SetNotReady()
	consumer.Stop()
	return nil
}

func runRestoreComplete(cmd *cobra.Command, args []string) error {
	bucket, _ := cmd.Flags().GetString("bucket")
	key, _ := cmd.Flags().GetString("key")
	size, _ := cmd.Flags().GetInt64("size")
	if size < 0 {
		return fmt.Errorf("size cannot be negative")
	}

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newServices(ctx, loadOptions(NewFlagLoader(cmd)), needCopyQueue)
	if err != nil {
		return err
	}
	defer svc.Close()

	return restore.NewHandler(svc.tracker, svc.copyQueue).Handle(ctx, bucket, key, size)
}
