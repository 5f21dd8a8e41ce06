// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	backfillPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomview",
			Subsystem: "sync",
			Name:      "backfill_pages_total",
			Help:      "Total number of backfill pages ingested",
		},
	)
	backfillEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomview",
			Subsystem: "sync",
			Name:      "backfill_events_total",
			Help:      "Total number of historical events ingested via backfill",
		},
	)
	backfillFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomview",
			Subsystem: "sync",
			Name:      "backfill_failures_total",
			Help:      "Total number of failed backfill requests",
		},
	)
)

func init() {
	prometheus.MustRegister(backfillPages, backfillEvents, backfillFailures)
}
