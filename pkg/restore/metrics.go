// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"github.com/LeeDigitalWorks/datapump/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RestoresHandled tracks restore completions by outcome
	RestoresHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "restore",
		Name:      "completions_total",
		Help:      "Total number of restore completions handled",
	}, []string{"outcome"}) // outcome: "requeued", "untracked", "failed"

	// EventsReceived tracks notification messages by parse result
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "restore",
		Name:      "events_received_total",
		Help:      "Total number of restore notifications received",
	}, []string{"result"})
)

func init() {
	debug.Registry().MustRegister(
		RestoresHandled,
		EventsReceived,
	)
}
