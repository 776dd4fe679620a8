// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/datapump/pkg/copier"
	"github.com/LeeDigitalWorks/datapump/pkg/debug"
	"github.com/LeeDigitalWorks/datapump/pkg/dispatch"
	"github.com/LeeDigitalWorks/datapump/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var copyWorkerCmd = &cobra.Command{
	Use:   "copy-worker",
	Short: "Consume the copy dispatch queue and copy objects",
	Long: `Receives copy requests in batches and performs a server-side copy for
each one. Objects above multipart_threshold are copied in parallel parts.
Failed requests are marked ERROR and forwarded to the dead-letter queue.`,
	RunE: runCopyWorker,
}

func init() {
	rootCmd.AddCommand(copyWorkerCmd)
	addCopyFlags(copyWorkerCmd.Flags())
	viper.BindPFlags(copyWorkerCmd.Flags())
}

func runCopyWorker(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	opts := loadOptions(f)

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newServices(ctx, opts, needCopyQueue|needDeadLetter)
	if err != nil {
		return err
	}
	defer svc.Close()

	c := copier.New(svc.store, svc.tracker, svc.copyQueue, svc.deadLetter, copier.Config{
		MultipartThreshold: f.Int64("multipart_threshold"),
		ChunkSize:          f.Int64("chunk_size"),
		PartConcurrency:    f.Int("part_concurrency"),
	})

	hostname, _ := os.Hostname()
	consumer := dispatch.NewConsumer(dispatch.ConsumerConfig{
		ID:           "copy-worker@" + hostname,
		Receiver:     svc.copyQueue,
		Handler:      c,
		PollInterval: f.Duration("poll_interval"),
		BatchSize:    f.Int("copy_batch_size"),
		Concurrency:  f.Int("copy_concurrency"),
		DrainTimeout: f.Duration("drain_timeout"),
	})

	stopDebug := startDebugServer(opts.DebugPort)
	defer stopDebug()

	consumer.Start(ctx)
	debug.SetReady()
	logger.Info().Msg("copy worker started")

	<-ctx.Done()
	debug.SetNotReady()
	logger.Info().Msg("shutting down copy worker")
	consumer.Stop()
	return nil
}
