// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of an authentication attempt.
const (
	OutcomePass        = "pass"
	OutcomeFail        = "fail"
	OutcomeAbstain     = "abstain"
	OutcomeCreate      = "create"
	OutcomeLinkRequest = "link-request"
	OutcomeConflict    = "conflict"
)

// MapperMetrics holds the metrics recorded by the identity mapper.
type MapperMetrics struct {
	outcomes     *prometheus.CounterVec
	links        *prometheus.CounterVec
	syncDuration *prometheus.SummaryVec
}

// NewMapperMetrics creates the mapper metrics and registers them with
// the default prometheus registry. It is safe to call more than once.
func NewMapperMetrics() *MapperMetrics {
	m := &MapperMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hybridauth",
			Subsystem: "mapper",
			Name:      "authentications_total",
			Help:      "Count of authentication attempts by domain and outcome.",
		}, []string{"domain", "outcome"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hybridauth",
			Subsystem: "mapper",
			Name:      "links_created_total",
			Help:      "Count of links created by domain.",
		}, []string{"domain"}),
		syncDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "hybridauth",
			Subsystem: "mapper",
			Name:      "sync_duration",
			Help:      "The duration of attribute synchronization.",
		}, []string{"domain"}),
	}
	m.outcomes = mustRegisterPrometheusCollector(m.outcomes).(*prometheus.CounterVec)
	m.links = mustRegisterPrometheusCollector(m.links).(*prometheus.CounterVec)
	m.syncDuration = mustRegisterPrometheusCollector(m.syncDuration).(*prometheus.SummaryVec)
	return m
}

// mustRegisterPrometheusCollector registers c, returning the collector
// that was registered before if there is one.
func mustRegisterPrometheusCollector(c prometheus.Collector) prometheus.Collector {
	err := prometheus.DefaultRegisterer.Register(c)
	if err == nil {
		return c
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector
	}
	panic(err)
}

// Outcome records an authentication attempt in the given domain. It
// may be called on a nil MapperMetrics.
func (m *MapperMetrics) Outcome(domain, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(domain, outcome).Inc()
}

// LinkCreated records the creation of a link in the given domain.
func (m *MapperMetrics) LinkCreated(domain string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(domain).Inc()
}

// SyncCompleted records a synchronization that started at the given
// time.
func (m *MapperMetrics) SyncCompleted(domain string, startTime time.Time) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(domain).Observe(float64(time.Since(startTime)) / float64(time.Second))
}
