// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Purchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numrent_purchases_total",
		Help: "Purchase attempts by outcome code",
	}, []string{"outcome"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numrent_refunds_total",
		Help: "Compensating refunds by reason",
	}, []string{"reason"})

	Topups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numrent_topups_total",
		Help: "Slip submissions by outcome code",
	}, []string{"outcome"})

	ActivationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numrent_activation_transitions_total",
		Help: "Activation state changes by target status",
	}, []string{"status"})

	VendorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "numrent_vendor_request_duration_seconds",
		Help:    "Latency of vendor gateway calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"action"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numrent_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "numrent_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 25},
	}, []string{"method", "route"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
