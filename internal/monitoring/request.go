// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/httprequest.v1"
)

var requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "hybridauth",
	Subsystem: "admin",
	Name:      "request_duration_seconds",
	Help:      "The duration of administrative API requests.",
	Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5},
}, []string{"method", "path_pattern"})

func init() {
	prometheus.MustRegister(requestDuration)
}

// A Request times an administrative API request.
type Request struct {
	start   time.Time
	method  string
	pattern string
}

// NewRequest starts timing the request with the given parameters.
func NewRequest(p *httprequest.Params) Request {
	return Request{
		start:   time.Now(),
		method:  p.Request.Method,
		pattern: p.PathPattern,
	}
}

// ObserveMetric records the time since the request started.
func (r Request) ObserveMetric() {
	requestDuration.WithLabelValues(r.method, r.pattern).Observe(time.Since(r.start).Seconds())
}
