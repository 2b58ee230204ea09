package services

import (
	"errors"
	"log/slog"
	"net/http"

	"rnaseqdb/bundles"
	"rnaseqdb/schema"
	"rnaseqdb/utils"

	"github.com/go-chi/chi/v5"
)

type BundleService struct {
	bundles *bundles.Manager
}

func (s *BundleService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.Create)
	r.Post("/merge", s.Merge)
	r.Post("/retire", s.Retire)
	r.Get("/list", s.List)
	return r
}

type createBundleRequest struct {
	TrackIds []uint `json:"track_ids"`
}

func (s *BundleService) Create(w http.ResponseWriter, r *http.Request) {
	var params createBundleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	bundleId, err := s.bundles.CreateFromTracks(params.TrackIds)
	if err != nil {
		if errors.Is(err, bundles.ErrNoTracks) {
			writeError(w, CodedError(err, http.StatusUnprocessableEntity))
			return
		}
		if errors.Is(err, schema.ErrTrackNotFound) {
			writeError(w, CodedError(err, http.StatusNotFound))
			return
		}
		slog.Error("error creating bundle", "track_ids", params.TrackIds, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteJsonResponse(w, map[string]uint{"bundle_id": bundleId})
}

type bundleIdsRequest struct {
	BundleIds []uint `json:"bundle_ids"`
}

func (s *BundleService) Merge(w http.ResponseWriter, r *http.Request) {
	var params bundleIdsRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	bundleId, err := s.bundles.Merge(params.BundleIds)
	if err != nil {
		if errors.Is(err, bundles.ErrNoTracks) {
			writeError(w, CodedError(err, http.StatusUnprocessableEntity))
			return
		}
		slog.Error("error merging bundles", "bundle_ids", params.BundleIds, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteJsonResponse(w, map[string]uint{"bundle_id": bundleId})
}

func (s *BundleService) Retire(w http.ResponseWriter, r *http.Request) {
	var params bundleIdsRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := s.bundles.Retire(params.BundleIds); err != nil {
		slog.Error("error retiring bundles", "bundle_ids", params.BundleIds, "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteSuccess(w)
}

func filterFromQuery(r *http.Request) bundles.Filter {
	return bundles.Filter{
		Species:  r.URL.Query().Get("species"),
		FilesDir: r.URL.Query().Get("files_dir"),
	}
}

func (s *BundleService) List(w http.ResponseWriter, r *http.Request) {
	records, err := s.bundles.GetBundles(filterFromQuery(r))
	if err != nil {
		slog.Error("error listing bundles", "error", err)
		writeError(w, CodedError(err, http.StatusInternalServerError))
		return
	}

	utils.WriteJsonResponse(w, records)
}
