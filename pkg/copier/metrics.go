// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package copier

import (
	"github.com/LeeDigitalWorks/datapump/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CopiesTotal tracks copies by strategy and outcome
	CopiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "copier",
		Name:      "copies_total",
		Help:      "Total number of object copies",
	}, []string{"strategy", "status"}) // strategy: "regular", "chunked"

	CopyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "datapump",
		Subsystem: "copier",
		Name:      "copy_duration_seconds",
		Help:      "Time spent copying one object",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
	}, []string{"strategy"})

	BytesCopiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "copier",
		Name:      "bytes_copied_total",
		Help:      "Total number of bytes copied",
	})

	PartsCopiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "copier",
		Name:      "parts_copied_total",
		Help:      "Total number of multipart parts copied",
	})

	// RejectedTotal tracks messages that did not carry a valid copy request
	RejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "copier",
		Name:      "rejected_total",
		Help:      "Total number of rejected copy messages",
	})

	SourceTagFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "copier",
		Name:      "source_tag_failures_total",
		Help:      "Total number of failed source tag updates",
	})
)

func init() {
	debug.Registry().MustRegister(
		CopiesTotal,
		CopyDuration,
		BytesCopiedTotal,
		PartsCopiedTotal,
		RejectedTotal,
		SourceTagFailures,
	)
}
