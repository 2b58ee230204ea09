package services

import (
	"errors"
	"log/slog"
	"net/http"

	"rnaseqdb/schema"
	"rnaseqdb/tracks"
	"rnaseqdb/utils"

	"github.com/go-chi/chi/v5"
)

type TrackService struct {
	tracks  *tracks.Manager
	metrics *metrics
}

func (s *TrackService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/merge", s.Merge)
	r.Post("/inactivate", s.Inactivate)
	r.Post("/regenerate-merge-ids", s.RegenerateMergeIds)
	r.Route("/{track_id}", func(r chi.Router) {
		r.Get("/merge-identity", s.MergeIdentity)
		r.Post("/results", s.AddResults)
	})
	return r
}

type accessionListRequest struct {
	Accessions []string `json:"accessions"`
}

func (s *TrackService) Merge(w http.ResponseWriter, r *http.Request) {
	var params accessionListRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	trackId, err := s.tracks.MergeBySraAccessions(params.Accessions)
	if err != nil {
		if errors.Is(err, tracks.ErrNothingToMerge) {
			writeError(w, CodedError(err, http.StatusUnprocessableEntity))
			return
		}
		slog.Error("error merging tracks", "accessions", params.Accessions, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.tracksMerged.Inc()
	utils.WriteJsonResponse(w, map[string]uint{"track_id": trackId})
}

func (s *TrackService) Inactivate(w http.ResponseWriter, r *http.Request) {
	var params accessionListRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err := s.tracks.InactivateBySraAccessions(params.Accessions)
	if err != nil {
		if errors.Is(err, tracks.ErrTrackCountMismatch) {
			writeError(w, CodedError(err, http.StatusUnprocessableEntity))
			return
		}
		slog.Error("error inactivating tracks", "accessions", params.Accessions, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	s.metrics.tracksRetired.Inc()
	utils.WriteSuccess(w)
}

type regenerateRequest struct {
	Force bool `json:"force"`
}

func (s *TrackService) RegenerateMergeIds(w http.ResponseWriter, r *http.Request) {
	var params regenerateRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	updated, err := s.tracks.RegenerateMergeIdentities(params.Force)
	if err != nil {
		slog.Error("error regenerating merge identities", "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteJsonResponse(w, map[string]int{"updated": updated})
}

func (s *TrackService) MergeIdentity(w http.ResponseWriter, r *http.Request) {
	trackId, err := utils.URLParamUint(r, "track_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	level, mergeId, err := s.tracks.ComputeMergeIdentity(trackId)
	if err != nil {
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteJsonResponse(w, map[string]string{"merge_level": level, "merge_id": mergeId})
}

type addResultsRequest struct {
	Analyses []struct {
		Program  string `json:"program"`
		Command  string `json:"command"`
		Category string `json:"category"`
	} `json:"analyses"`
	Files []string `json:"files"`
}

func (s *TrackService) AddResults(w http.ResponseWriter, r *http.Request) {
	trackId, err := utils.URLParamUint(r, "track_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addResultsRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	analyses := make([]tracks.AnalysisInput, 0, len(params.Analyses))
	for _, a := range params.Analyses {
		analyses = append(analyses, tracks.AnalysisInput{
			Program:  a.Program,
			Command:  a.Command,
			Category: a.Category,
		})
	}

	if err := s.tracks.AddResults(trackId, analyses, params.Files); err != nil {
		if errors.Is(err, schema.ErrTrackNotFound) {
			writeError(w, CodedError(err, http.StatusNotFound))
			return
		}
		slog.Error("error adding track results", "track_id", trackId, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteSuccess(w)
}
