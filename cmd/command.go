// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"
	"github.com/LeeDigitalWorks/datapump/pkg/utils"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "datapump",
	Short: "datapump - bulk S3 copy pipeline",
	Long: `datapump copies large sets of S3 objects described by CSV manifests.
Archived objects are restored first, every object is copied server-side,
and the lifecycle of each copy request is tracked in a shared store.`,
	PersistentPreRun: initialize,
	SilenceUsage:     true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	addCommonFlags(rootCmd.PersistentFlags())
	viper.BindPFlags(rootCmd.PersistentFlags())
}

// initialize loads the optional configuration file and applies the log level.
func initialize(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("datapump", false)

	level, err := logger.ParseLevel(NewFlagLoader(cmd).String("log_level"))
	if err != nil {
		logger.Warn().Err(err).Msg("invalid log_level, defaulting to INFO")
	}
	logger.SetLevel(level)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		sentry.CaptureException(err)
		os.Exit(1)
	}
}
