// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package monitoring

import (
	"context"

	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/hybridauth/store"
)

var logger = loggo.GetLogger("hybridauth.internal.monitoring")

// LinkCollector is a prometheus.Collector that reports the number of
// links held in each domain.
type LinkCollector struct {
	Links store.LinkStore
}

var storeLinksDesc = prometheus.NewDesc(
	"hybridauth_store_links",
	"Number of stored links",
	[]string{"domain"},
	nil,
)

// Describe implements prometheus.Collector.
func (c LinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- storeLinksDesc
}

// Collect implements prometheus.Collector.
func (c LinkCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.Links.LinkCounts(context.Background())
	if err != nil {
		logger.Infof("error collecting metrics: %s", err)
		return
	}
	for domain, count := range counts {
		ch <- prometheus.MustNewConstMetric(storeLinksDesc, prometheus.GaugeValue, float64(count), domain)
	}
}
