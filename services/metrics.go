package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runsImported  prometheus.Counter
	tracksMerged  prometheus.Counter
	tracksRetired prometheus.Counter
	exports       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		runsImported: factory.NewCounter(prometheus.CounterOpts{
			Name: "rnaseqdb_runs_imported_total",
			Help: "Runs freshly inserted by import operations.",
		}),
		tracksMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "rnaseqdb_tracks_merged_total",
			Help: "Track merge operations completed.",
		}),
		tracksRetired: factory.NewCounter(prometheus.CounterOpts{
			Name: "rnaseqdb_tracks_retired_total",
			Help: "Track inactivation operations completed.",
		}),
		exports: factory.NewCounter(prometheus.CounterOpts{
			Name: "rnaseqdb_exports_total",
			Help: "Hub or search-index export projections served.",
		}),
	}
}
