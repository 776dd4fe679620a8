// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/LeeDigitalWorks/datapump/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MessagesSentTotal tracks published messages by backend
	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "messages_sent_total",
		Help:      "Total number of messages published",
	}, []string{"backend"}) // backend: "sqs", "sql", "memory"

	// MessagesReceivedTotal tracks received messages
	MessagesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "messages_received_total",
		Help:      "Total number of messages received",
	})

	// MessagesHandledTotal tracks handler outcomes
	MessagesHandledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "messages_handled_total",
		Help:      "Total number of messages handled",
	}, []string{"status"}) // status: "ok", "failed"

	// HandleDuration tracks handler latency
	HandleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "handle_duration_seconds",
		Help:      "Time spent handling one message",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})

	// DeadLetteredTotal tracks messages moved to the dead-letter channel
	DeadLetteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "dead_lettered_total",
		Help:      "Total number of messages sent to the dead-letter channel",
	}, []string{"reason"}) // reason: "forward", "redrive"

	// QueueDepth tracks SQL queue depth by status
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "queue_depth",
		Help:      "Current number of messages by status",
	}, []string{"status"})

	// WorkersActive tracks handlers currently running
	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "workers_active",
		Help:      "Number of handlers currently running",
	})

	// ReceiveErrors tracks receive failures
	ReceiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "receive_errors_total",
		Help:      "Total number of receive errors",
	})

	// DeadlockRetries tracks SQL deadlock retries
	DeadlockRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "dispatch",
		Name:      "deadlock_retries_total",
		Help:      "Total number of receive retries caused by database deadlocks",
	})
)

func init() {
	debug.Registry().MustRegister(
		MessagesSentTotal,
		MessagesReceivedTotal,
		MessagesHandledTotal,
		HandleDuration,
		DeadLetteredTotal,
		QueueDepth,
		WorkersActive,
		ReceiveErrors,
		DeadlockRetries,
	)
}
