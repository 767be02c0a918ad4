// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	outcomeSinkReachable   = "sink_reachable"
	outcomeSinkUnreachable = "sink_unreachable"
	outcomeEntryMissing    = "entry_missing"
)

var (
	// runsTotal counts reconciliations by outcome.
	// Labels: outcome (sink_reachable, sink_unreachable, entry_missing)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Total reconciliations by outcome",
	}, []string{"outcome"})

	rewiredCallers = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reach",
		Subsystem: "reconcile",
		Name:      "rewired_callers",
		Help:      "Sink callers rewired through the runtime simulator per run",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 100},
	})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reach",
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Reconciliation duration",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})
)

func recordRun(outcome string, rewired int, elapsed time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	rewiredCallers.Observe(float64(rewired))
	runDurationSeconds.Observe(elapsed.Seconds())
}
