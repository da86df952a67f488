// Package metrics exposes pipeline counters in Prometheus form: scraped
// from the file server or written to a node_exporter textfile after a
// batch command.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/aggregate"
	"github.com/geodekking/pakketpunten/internal/batch"
	"github.com/geodekking/pakketpunten/internal/gridfetch"
	"github.com/geodekking/pakketpunten/internal/merge"
)

const namespace = "pakketpunten"

// Metrics holds every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Municipalities       *prometheus.CounterVec
	MunicipalityDuration prometheus.Histogram
	CarrierPoints        *prometheus.GaugeVec
	CarrierFailures      *prometheus.CounterVec
	GridSearches         *prometheus.CounterVec
	GridLocations        prometheus.Gauge
	NationalPoints       prometheus.Gauge
	LastSuccess          *prometheus.GaugeVec
	HTTPRequests         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Municipalities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "municipalities_total",
			Help:      "Municipalities processed, by outcome.",
		}, []string{"status"}),
		MunicipalityDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "municipality_duration_seconds",
			Help:      "Time to build one municipality file.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		CarrierPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carrier_points",
			Help:      "Pickup points per carrier in the last batch.",
		}, []string{"carrier"}),
		CarrierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_failures_total",
			Help:      "Municipalities in which a carrier failed.",
		}, []string{"carrier"}),
		GridSearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_searches_total",
			Help:      "Grid fetch circle searches, by outcome.",
		}, []string{"outcome"}),
		GridLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_unique_locations",
			Help:      "Unique locations found by the last grid fetch.",
		}),
		NationalPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "national_points",
			Help:      "Deduplicated pickup points in the national file.",
		}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run, by command.",
		}, []string{"command"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "File server requests, by route and status code.",
		}, []string{"route", "code"}),
	}
	m.Registry.MustRegister(
		m.Municipalities,
		m.MunicipalityDuration,
		m.CarrierPoints,
		m.CarrierFailures,
		m.GridSearches,
		m.GridLocations,
		m.NationalPoints,
		m.LastSuccess,
		m.HTTPRequests,
	)
	return m
}

// ObserveMunicipality records one aggregator result.
func (m *Metrics) ObserveMunicipality(res *aggregate.Result) {
	status := "success"
	if !res.Success {
		status = "failed"
	}
	m.Municipalities.WithLabelValues(status).Inc()
	m.MunicipalityDuration.Observe(float64(res.DurationMs) / 1000)
	for c, st := range res.CarrierStatus {
		if !st.Success {
			m.CarrierFailures.WithLabelValues(string(c)).Inc()
		}
	}
}

// ObserveSummary records the per-carrier totals of a batch.
func (m *Metrics) ObserveSummary(s *batch.Summary) {
	for c, total := range s.CarrierTotals() {
		m.CarrierPoints.WithLabelValues(string(c)).Set(float64(total))
	}
	if s.Aborted == "" && s.Successful > 0 {
		m.LastSuccess.WithLabelValues("generate").Set(float64(s.GeneratedAt.Unix()))
	}
}

// ObserveGridCell records one grid search.
func (m *Metrics) ObserveGridCell(r gridfetch.CellResult) {
	outcome := "accepted"
	switch {
	case r.Err != nil:
		outcome = "failed"
	case r.Saturated:
		outcome = "saturated"
	}
	m.GridSearches.WithLabelValues(outcome).Inc()
}

// ObserveGridReport records the outcome of a grid fetch.
func (m *Metrics) ObserveGridReport(r *gridfetch.Report) {
	m.GridLocations.Set(float64(r.Stats.Unique))
}

// ObserveMerge records the national merge.
func (m *Metrics) ObserveMerge(r *merge.Result) {
	m.NationalPoints.Set(float64(len(r.Collection.Features)))
}

// ObserveRequest counts one file server response.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry in the text exposition format, for the
// node_exporter textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return eris.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}
