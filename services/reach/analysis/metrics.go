// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts runs by outcome.
	// Labels: status (reachable, unreachable, entry_missing, error)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "analysis",
		Name:      "runs_total",
		Help:      "Total analysis runs by outcome",
	}, []string{"status"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reach",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "End-to-end analysis run duration",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
	})
)

func recordRun(rep *Report, err error, elapsed time.Duration) {
	status := "error"
	switch {
	case err != nil:
	case rep.Reconciliation == nil:
		status = "entry_missing"
	case rep.SinkReachable():
		status = "reachable"
	default:
		status = "unreachable"
	}
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(elapsed.Seconds())
}
