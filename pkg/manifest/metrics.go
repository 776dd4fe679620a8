// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"github.com/LeeDigitalWorks/datapump/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RowsProcessed tracks manifest rows by outcome
	RowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "manifest",
		Name:      "rows_processed_total",
		Help:      "Total number of manifest rows processed",
	}, []string{"outcome"}) // outcome: "queued", "restoring", "failed", "skipped"

	// RestoreRequests tracks restore responses by HTTP status
	RestoreRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "manifest",
		Name:      "restore_requests_total",
		Help:      "Total number of archival restore requests by response status",
	}, []string{"status"})

	ManifestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "datapump",
		Subsystem: "manifest",
		Name:      "duration_seconds",
		Help:      "Time to process a whole manifest",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
)

func init() {
	debug.Registry().MustRegister(
		RowsProcessed,
		RestoreRequests,
		ManifestDuration,
	)
}
