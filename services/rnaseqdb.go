// Package services exposes the track/bundle engine over HTTP for the
// curation tooling.
package services

import (
	"log"
	"net/http"
	"os"

	"rnaseqdb/bundles"
	"rnaseqdb/species"
	"rnaseqdb/sra"
	"rnaseqdb/tracks"
	"rnaseqdb/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type RNAseqDB struct {
	importSvc ImportService
	trackSvc  TrackService
	bundleSvc BundleService
	exportSvc ExportService

	db        *gorm.DB
	registry  *prometheus.Registry
	tokenHash []byte
}

// NewRNAseqDB wires the engine components onto one database session. The
// accessor, node sink and token hash may be nil/empty; nil collaborators
// degrade to no-ops.
func NewRNAseqDB(db *gorm.DB, accessor sra.Accessor, nodes tracks.NodeSink, tokenHash []byte) RNAseqDB {
	registry := prometheus.NewRegistry()
	m := newMetrics(registry)

	matcher := species.NewMatcher(db)
	trackManager := tracks.NewManager(db, nodes)
	bundleManager := bundles.NewManager(db, bundles.NewVocabularyStore(db))
	importer := sra.NewImporter(db, accessor, matcher, trackManager)

	return RNAseqDB{
		importSvc: ImportService{importer: importer, metrics: m},
		trackSvc:  TrackService{tracks: trackManager, metrics: m},
		bundleSvc: BundleService{bundles: bundleManager},
		exportSvc: ExportService{bundles: bundleManager, metrics: m},
		db:        db,
		registry:  registry,
		tokenHash: tokenHash,
	}
}

func (s *RNAseqDB) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Group(func(r chi.Router) {
		r.Use(tokenAuthMiddleware(s.tokenHash))

		r.Mount("/import", s.importSvc.Routes())
		r.Mount("/track", s.trackSvc.Routes())
		r.Mount("/bundle", s.bundleSvc.Routes())
		r.Mount("/export", s.exportSvc.Routes())
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
