// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"github.com/LeeDigitalWorks/datapump/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Retries tracks retried store calls by operation
	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "tracking",
		Name:      "retries_total",
		Help:      "Total number of retried tracking store calls",
	}, []string{"op"}) // op: "put", "get", "list"

	// DroppedWrites tracks writes abandoned after exhausting retries
	DroppedWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "tracking",
		Name:      "dropped_writes_total",
		Help:      "Total number of record writes dropped after all retries failed",
	})

	// ReadMisses tracks reads that returned no record
	ReadMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "tracking",
		Name:      "read_misses_total",
		Help:      "Total number of reads that returned no record",
	}, []string{"reason"}) // reason: "not_found", "error"
)

func init() {
	debug.Registry().MustRegister(
		Retries,
		DroppedWrites,
		ReadMisses,
	)
}
