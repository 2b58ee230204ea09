package services

import (
	"log/slog"
	"net/http"

	"rnaseqdb/sra"
	"rnaseqdb/utils"

	"github.com/go-chi/chi/v5"
)

type ImportService struct {
	importer *sra.Importer
	metrics  *metrics
}

func (s *ImportService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/accession", s.Accession)
	r.Post("/private-study", s.PrivateStudy)
	return r
}

type importRequest struct {
	Accession string `json:"accession"`
}

type importResponse struct {
	Imported int `json:"imported"`
}

func (s *ImportService) Accession(w http.ResponseWriter, r *http.Request) {
	var params importRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Accession == "" {
		http.Error(w, "accession is required", http.StatusBadRequest)
		return
	}

	imported, err := s.importer.ImportAccession(params.Accession)
	if err != nil {
		slog.Error("error importing accession", "accession", params.Accession, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.runsImported.Add(float64(imported))
	utils.WriteJsonResponse(w, importResponse{Imported: imported})
}

// PrivateStudy accepts a YAML study descriptor as the request body.
func (s *ImportService) PrivateStudy(w http.ResponseWriter, r *http.Request) {
	descriptor, err := sra.ParsePrivateStudy(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	imported, err := s.importer.ImportPrivateStudy(descriptor)
	if err != nil {
		slog.Error("error importing private study", "title", descriptor.Title, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.runsImported.Add(float64(imported))
	utils.WriteJsonResponse(w, importResponse{Imported: imported})
}
