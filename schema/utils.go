package schema

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"
)

var (
	ErrStudyNotFound  = errors.New("study not found")
	ErrRunNotFound    = errors.New("run not found")
	ErrSampleNotFound = errors.New("sample not found")
	ErrTrackNotFound  = errors.New("track not found")
	ErrBundleNotFound = errors.New("bundle not found")
	ErrDbAccessFailed = errors.New("db access failed")
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Accession returns the public SRA accession when present, else the private
// accession. Exactly one is expected to be set on any persisted row.
func (s *Study) Accession() string {
	if s.SraAcc != nil {
		return *s.SraAcc
	}
	return deref(s.PrivateAcc)
}

func (e *Experiment) Accession() string {
	if e.SraAcc != nil {
		return *e.SraAcc
	}
	return deref(e.PrivateAcc)
}

func (r *Run) Accession() string {
	if r.SraAcc != nil {
		return *r.SraAcc
	}
	return deref(r.PrivateAcc)
}

func (s *Sample) Accession() string {
	if s.SraAcc != nil {
		return *s.SraAcc
	}
	return deref(s.PrivateAcc)
}

func GetTrack(trackId uint, db *gorm.DB) (Track, error) {
	var track Track
	result := db.First(&track, "id = ?", trackId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return track, ErrTrackNotFound
		}
		slog.Error("sql error in get track", "track_id", trackId, "error", result.Error)
		return track, ErrDbAccessFailed
	}
	return track, nil
}

func GetBundle(bundleId uint, db *gorm.DB) (Bundle, error) {
	var bundle Bundle
	result := db.First(&bundle, "id = ?", bundleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return bundle, ErrBundleNotFound
		}
		slog.Error("sql error in get bundle", "bundle_id", bundleId, "error", result.Error)
		return bundle, ErrDbAccessFailed
	}
	return bundle, nil
}

func GetRun(runId uint, db *gorm.DB) (Run, error) {
	var run Run
	result := db.First(&run, "id = ?", runId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return run, ErrRunNotFound
		}
		slog.Error("sql error in get run", "run_id", runId, "error", result.Error)
		return run, ErrDbAccessFailed
	}
	return run, nil
}

// FindByAccession looks up a row of the given model by public-or-private
// accession. Returns (false, nil) when no row matches.
func FindByAccession(db *gorm.DB, model interface{}, acc string) (bool, error) {
	result := db.Limit(1).Find(model, "sra_acc = ? OR private_acc = ?", acc, acc)
	if result.Error != nil {
		slog.Error("sql error in find by accession", "accession", acc, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return result.RowsAffected != 0, nil
}
