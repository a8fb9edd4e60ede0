// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

func Outcomes(domain, outcome string) prometheus.Counter {
	return NewMapperMetrics().outcomes.WithLabelValues(domain, outcome)
}

var RequestDuration = requestDuration
