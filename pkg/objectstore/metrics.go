// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"github.com/LeeDigitalWorks/datapump/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal tracks object-storage calls by operation and outcome
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "objectstore",
		Name:      "requests_total",
		Help:      "Total number of object storage requests",
	}, []string{"op", "status"}) // status: "ok", "error"

	// BytesCopied tracks bytes copied through multipart part copies
	BytesCopied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "datapump",
		Subsystem: "objectstore",
		Name:      "part_bytes_copied_total",
		Help:      "Total number of bytes copied by multipart part copies",
	})
)

func init() {
	debug.Registry().MustRegister(
		RequestsTotal,
		BytesCopied,
	)
}

func observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RequestsTotal.WithLabelValues(op, status).Inc()
}
