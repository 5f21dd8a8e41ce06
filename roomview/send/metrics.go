// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package send

import (
	"github.com/prometheus/client_golang/prometheus"
)

var sendOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "roomview",
		Subsystem: "send",
		Name:      "outgoing_total",
		Help:      "Total number of outbound send attempts by type and outcome",
	},
	[]string{"type", "outcome"},
)

func init() {
	prometheus.MustRegister(sendOutcomes)
}
