// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/manifest"
	"github.com/LeeDigitalWorks/datapump/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Process a CSV manifest of objects to copy",
	Long: `Downloads a CSV manifest, looks up every listed object, requests restores
for archived objects and queues the rest for copy. Each row is tracked
individually; a bad row never fails the whole manifest.`,
	Example: `  datapump manifest --bucket manifests --key runs/2024-01.csv
  BUCKET_NAME=manifests OBJECT_KEY=runs/2024-01.csv datapump manifest --dry_run`,
	RunE: runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	addManifestFlags(manifestCmd.Flags())
	viper.BindPFlags(manifestCmd.Flags())
}

func runManifest(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)

	bucket, _ := cmd.Flags().GetString("bucket")
	if bucket == "" {
		bucket = f.String("bucket_name")
	}
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = f.String("object_key")
	}
	if bucket == "" || key == "" {
		return fmt.Errorf("manifest location is required: set --bucket/--key or BUCKET_NAME/OBJECT_KEY")
	}

	tempDir := f.String("temp_dir")
	if err := utils.TempDirWritable(tempDir); err != nil {
		return fmt.Errorf("temp_dir: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newServices(ctx, loadOptions(f), needCopyQueue)
	if err != nil {
		return err
	}
	defer svc.Close()

	p := manifest.NewProcessor(svc.store, svc.tracker, svc.copyQueue, manifest.Config{
		ParallelTasks: f.Int("parallel_tasks"),
		LookupRPS:     f.Float64("lookup_rps"),
		RestoreDays:   int32(f.Int("glacier_restore_days")),
		RestoreTier:   f.String("glacier_restore_tier"),
		DryRun:        f.Bool("dry_run"),
		TempDir:       tempDir,
	})

	logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Msg("processing manifest")

	res, err := p.Process(ctx, bucket, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rows=%d queued=%d restoring=%d failed=%d\n",
		res.Rows, res.Queued, res.Restoring, res.Failed)
	return nil
}
