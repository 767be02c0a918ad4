// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// verdictCacheTotal counts verdict cache lookups.
	// Labels: result (hit, miss)
	verdictCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "filter",
		Name:      "verdict_cache_total",
		Help:      "Verdict cache lookups by result",
	}, []string{"result"})

	// verdictsTotal counts freshly computed verdicts.
	// Labels: verdict (allow, deny)
	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "filter",
		Name:      "verdicts_total",
		Help:      "Computed source verdicts by outcome",
	}, []string{"verdict"})

	cachePurgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "filter",
		Name:      "cache_purges_total",
		Help:      "Verdict cache purges caused by a hierarchy snapshot change",
	})

	// entryResolvedMethods observes the size of hierarchy entry method sets.
	// Labels: kind (interface, superclass)
	entryResolvedMethods = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reach",
		Subsystem: "filter",
		Name:      "entry_resolved_methods",
		Help:      "Methods covered by a hierarchy entry after resolution",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"kind"})

	callsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reach",
		Subsystem: "filter",
		Name:      "calls_removed_total",
		Help:      "Calls removed by filter passes",
	})

	applyDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reach",
		Subsystem: "filter",
		Name:      "apply_duration_seconds",
		Help:      "Duration of filter passes",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

func recordVerdictLookup(hit bool) {
	if hit {
		verdictCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	verdictCacheTotal.WithLabelValues("miss").Inc()
}

func recordVerdict(denied bool) {
	verdictsTotal.WithLabelValues(action(denied)).Inc()
}

func recordCachePurge() { cachePurgesTotal.Inc() }

func recordEntryResolution(kind string, methods int) {
	entryResolvedMethods.WithLabelValues(kind).Observe(float64(methods))
}

func recordApply(stats Stats, elapsed time.Duration) {
	callsRemovedTotal.Add(float64(stats.CallsRemoved))
	applyDurationSeconds.Observe(elapsed.Seconds())
}
