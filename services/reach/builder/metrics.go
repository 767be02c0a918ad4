// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// buildsTotal counts completed builds.
	// Labels: algorithm (cha, rta)
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "builder",
		Name:      "builds_total",
		Help:      "Total completed call graph builds by algorithm",
	}, []string{"algorithm"})

	// buildDurationSeconds measures build wall time.
	// Labels: algorithm
	buildDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reach",
		Subsystem: "builder",
		Name:      "duration_seconds",
		Help:      "Call graph build duration",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"algorithm"})

	// graphMethods records the node count of the last build.
	graphMethods = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reach",
		Subsystem: "builder",
		Name:      "graph_methods",
		Help:      "Method count of the most recently built call graph",
	}, []string{"algorithm"})

	// graphCalls records the edge count of the last build.
	graphCalls = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reach",
		Subsystem: "builder",
		Name:      "graph_calls",
		Help:      "Call count of the most recently built call graph",
	}, []string{"algorithm"})
)

func recordBuild(algo Algorithm, methods, calls int, elapsed time.Duration) {
	label := algo.String()
	buildsTotal.WithLabelValues(label).Inc()
	buildDurationSeconds.WithLabelValues(label).Observe(elapsed.Seconds())
	graphMethods.WithLabelValues(label).Set(float64(methods))
	graphCalls.WithLabelValues(label).Set(float64(calls))
}
