package services

import (
	"log/slog"
	"net/http"

	"rnaseqdb/bundles"
	"rnaseqdb/export"
	"rnaseqdb/utils"

	"github.com/go-chi/chi/v5"
)

type ExportService struct {
	bundles *bundles.Manager
	metrics *metrics
}

func (s *ExportService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/hubs", s.Hubs)
	r.Get("/solr", s.Solr)
	r.Get("/files", s.Files)
	return r
}

func (s *ExportService) Hubs(w http.ResponseWriter, r *http.Request) {
	records, err := s.bundles.GetBundles(filterFromQuery(r))
	if err != nil {
		slog.Error("error projecting hubs", "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.exports.Inc()
	utils.WriteJsonResponse(w, export.BuildHubs(records))
}

func (s *ExportService) Solr(w http.ResponseWriter, r *http.Request) {
	docs, err := s.bundles.GetBundlesForSolr(filterFromQuery(r))
	if err != nil {
		slog.Error("error projecting solr documents", "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.exports.Inc()
	utils.WriteJsonResponse(w, docs)
}

func (s *ExportService) Files(w http.ResponseWriter, r *http.Request) {
	records, err := s.bundles.GetBundles(filterFromQuery(r))
	if err != nil {
		slog.Error("error projecting file documents", "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.exports.Inc()
	utils.WriteJsonResponse(w, export.BuildFileDocuments(records))
}
