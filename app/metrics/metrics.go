// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "Page fetch outcomes by result kind.",
	}, []string{"outcome"})

	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_retries_total",
		Help: "Retried page requests.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limited_total",
		Help: "Responses that signalled rate limiting.",
	})

	ListingsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_listings_upserted_total",
		Help: "Listings written to the store, by kind.",
	}, []string{"kind"})

	ListingsInactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_listings_inactivated_total",
		Help: "Listings flipped to inactive by the sweep.",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_runs_total",
		Help: "Completed harvest runs by terminal status.",
	}, []string{"status"})

	PacerDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_pacer_delay_seconds",
		Help: "Current effective inter-request delay.",
	})
)
