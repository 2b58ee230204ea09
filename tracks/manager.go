// Package tracks owns the track lifecycle: creation, merge, inactivation,
// and merge-identity computation.
package tracks

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rnaseqdb/accession"
	"rnaseqdb/schema"

	"gorm.io/gorm"
)

var (
	// ErrNothingToMerge is returned when a merge request resolves to fewer
	// than two distinct active tracks.
	ErrNothingToMerge = errors.New("merge requires at least 2 distinct active tracks")
	// ErrTrackCountMismatch is returned when an inactivation request does
	// not resolve to exactly one track per accession.
	ErrTrackCountMismatch = errors.New("resolved track count does not match accession count")
)

// NodeSink mirrors tracks into the display layer. Implementations are
// external collaborators; calls happen inside the owning transaction so a
// sink failure rolls the status change back.
type NodeSink interface {
	CreateNodeForTrack(trackId uint) error
	RetireNodesForTracks(trackIds []uint) error
}

// NopNodeSink is used when no display layer is attached.
type NopNodeSink struct{}

func (NopNodeSink) CreateNodeForTrack(uint) error { return nil }

func (NopNodeSink) RetireNodesForTracks([]uint) error { return nil }

type Manager struct {
	db    *gorm.DB
	nodes NodeSink
}

func NewManager(db *gorm.DB, nodes NodeSink) *Manager {
	if nodes == nil {
		nodes = NopNodeSink{}
	}
	return &Manager{db: db, nodes: nodes}
}

// CreateForRun creates a fresh track linked to the given run. Idempotent: if
// any track link already references the run the call logs and no-ops,
// returning the already linked track id.
func (m *Manager) CreateForRun(runId uint) (uint, error) {
	var trackId uint
	err := m.db.Transaction(func(txn *gorm.DB) error {
		var err error
		trackId, err = m.CreateForRunIn(txn, runId)
		return err
	})
	return trackId, err
}

// CreateForRunIn is CreateForRun running inside an existing transaction, for
// callers that create runs and tracks atomically.
func (m *Manager) CreateForRunIn(txn *gorm.DB, runId uint) (uint, error) {
	var link schema.SraTrack
	result := txn.Limit(1).Find(&link, "run_id = ?", runId)
	if result.Error != nil {
		slog.Error("sql error checking track link", "run_id", runId, "error", result.Error)
		return 0, schema.ErrDbAccessFailed
	}
	if result.RowsAffected != 0 {
		slog.Info("run already linked to a track", "run_id", runId, "track_id", link.TrackId)
		return link.TrackId, nil
	}

	track := schema.Track{Status: schema.Active, Date: time.Now().UTC()}
	if err := txn.Create(&track).Error; err != nil {
		slog.Error("sql error creating track", "run_id", runId, "error", err)
		return 0, schema.ErrDbAccessFailed
	}
	if err := txn.Create(&schema.SraTrack{RunId: runId, TrackId: track.Id}).Error; err != nil {
		slog.Error("sql error linking run to track", "run_id", runId, "track_id", track.Id, "error", err)
		return 0, schema.ErrDbAccessFailed
	}

	if err := m.nodes.CreateNodeForTrack(track.Id); err != nil {
		slog.Error("error creating presentation node for track", "track_id", track.Id, "error", err)
		return 0, err
	}

	slog.Info("created track for run", "run_id", runId, "track_id", track.Id)
	return track.Id, nil
}

// resolveRunIds expands a list of accessions of any kind into the underlying
// run ids. Unrecognized accessions and accessions with no matching rows are
// skipped with a warning.
func resolveRunIds(db *gorm.DB, accs []string) ([]uint, error) {
	ids := make([]uint, 0, len(accs))
	seen := make(map[uint]bool)

	appendRuns := func(runs []schema.Run) {
		for _, run := range runs {
			if !seen[run.Id] {
				seen[run.Id] = true
				ids = append(ids, run.Id)
			}
		}
	}

	for _, acc := range accs {
		var runs []schema.Run
		var result *gorm.DB

		switch accession.Classify(acc) {
		case accession.KindRun:
			result = db.Find(&runs, "sra_acc = ? OR private_acc = ?", acc, acc)
		case accession.KindExperiment:
			result = db.
				Joins("JOIN experiments ON experiments.id = runs.experiment_id").
				Where("experiments.sra_acc = ? OR experiments.private_acc = ?", acc, acc).
				Find(&runs)
		case accession.KindStudy:
			result = db.
				Joins("JOIN experiments ON experiments.id = runs.experiment_id").
				Joins("JOIN studies ON studies.id = experiments.study_id").
				Where("studies.sra_acc = ? OR studies.private_acc = ?", acc, acc).
				Find(&runs)
		case accession.KindSample:
			result = db.
				Joins("JOIN samples ON samples.id = runs.sample_id").
				Where("samples.sra_acc = ? OR samples.private_acc = ?", acc, acc).
				Find(&runs)
		default:
			continue
		}

		if result.Error != nil {
			slog.Error("sql error resolving runs for accession", "accession", acc, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		if len(runs) == 0 {
			slog.Warn("accession resolves to no runs", "accession", acc)
			continue
		}
		appendRuns(runs)
	}

	return ids, nil
}

// activeTrackIds returns the distinct active tracks linked to any of the
// given runs, ordered by track id.
func activeTrackIds(db *gorm.DB, runIds []uint) ([]uint, error) {
	if len(runIds) == 0 {
		return nil, nil
	}
	var ids []uint
	result := db.Model(&schema.SraTrack{}).
		Distinct("sra_tracks.track_id").
		Joins("JOIN tracks ON tracks.id = sra_tracks.track_id").
		Where("sra_tracks.run_id IN ?", runIds).
		Where("tracks.status = ?", schema.Active).
		Order("sra_tracks.track_id").
		Pluck("sra_tracks.track_id", &ids)
	if result.Error != nil {
		slog.Error("sql error collecting active tracks for runs", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return ids, nil
}

// MergeBySraAccessions merges every active track touched by the given
// accessions into one new track. The constituent tracks are marked MERGED,
// all of their runs are relinked to the new track, and a presentation node
// is created, all in one transaction. Fewer than two distinct tracks is a
// no-op returning ErrNothingToMerge.
func (m *Manager) MergeBySraAccessions(accs []string) (uint, error) {
	runIds, err := resolveRunIds(m.db, accs)
	if err != nil {
		return 0, err
	}

	trackIds, err := activeTrackIds(m.db, runIds)
	if err != nil {
		return 0, err
	}
	if len(trackIds) < 2 {
		slog.Warn("merge aborted: need at least 2 distinct active tracks",
			"accessions", accs, "tracks", len(trackIds))
		return 0, ErrNothingToMerge
	}

	var newTrackId uint
	err = m.db.Transaction(func(txn *gorm.DB) error {
		// Relink every run of every constituent track, not only the runs the
		// input accessions resolved to.
		var constituentRuns []uint
		result := txn.Model(&schema.SraTrack{}).
			Distinct("run_id").
			Where("track_id IN ?", trackIds).
			Order("run_id").
			Pluck("run_id", &constituentRuns)
		if result.Error != nil {
			slog.Error("sql error collecting constituent runs", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		result = txn.Model(&schema.Track{}).
			Where("id IN ?", trackIds).
			Update("status", schema.Merged)
		if result.Error != nil {
			slog.Error("sql error marking tracks merged", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		track := schema.Track{Status: schema.Active, Date: time.Now().UTC()}
		if err := txn.Create(&track).Error; err != nil {
			slog.Error("sql error creating merged track", "error", err)
			return schema.ErrDbAccessFailed
		}
		for _, runId := range constituentRuns {
			if err := txn.Create(&schema.SraTrack{RunId: runId, TrackId: track.Id}).Error; err != nil {
				slog.Error("sql error linking run to merged track",
					"run_id", runId, "track_id", track.Id, "error", err)
				return schema.ErrDbAccessFailed
			}
		}

		if err := m.applyMergeIdentity(txn, track.Id); err != nil {
			return err
		}

		if err := m.nodes.CreateNodeForTrack(track.Id); err != nil {
			slog.Error("error creating presentation node for merged track",
				"track_id", track.Id, "error", err)
			return err
		}

		newTrackId = track.Id
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("merged tracks", "sources", trackIds, "track_id", newTrackId)
	return newTrackId, nil
}

// InactivateBySraAccessions retires the tracks behind the given accessions.
// Unlike merge, the resolved track count must equal the accession count (one
// track per accession, no pre-existing merges); any mismatch aborts with no
// mutation. The presentation-node cascade is atomic with the status update.
func (m *Manager) InactivateBySraAccessions(accs []string) error {
	runIds, err := resolveRunIds(m.db, accs)
	if err != nil {
		return err
	}

	trackIds, err := activeTrackIds(m.db, runIds)
	if err != nil {
		return err
	}
	if len(trackIds) != len(accs) {
		slog.Warn("inactivation aborted: track count does not match accession count",
			"accessions", len(accs), "tracks", len(trackIds))
		return ErrTrackCountMismatch
	}

	err = m.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Model(&schema.Track{}).
			Where("id IN ?", trackIds).
			Update("status", schema.Retired)
		if result.Error != nil {
			slog.Error("sql error retiring tracks", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if err := m.nodes.RetireNodesForTracks(trackIds); err != nil {
			slog.Error("error retiring presentation nodes", "tracks", trackIds, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("inactivated tracks", "tracks", trackIds)
	return nil
}

// AnalysisInput describes one command that produced a track's files.
type AnalysisInput struct {
	Program  string
	Command  string
	Category string
}

// AddResults attaches analysis and file rows to a track. Both attachments
// are at-most-once: a track that already has analyses keeps them, and a
// track that already has non-fastq files refuses new file rows. A .bam file
// implies a companion .bam.bai index row.
func (m *Manager) AddResults(trackId uint, analyses []AnalysisInput, filePaths []string) error {
	if _, err := schema.GetTrack(trackId, m.db); err != nil {
		return err
	}

	return m.db.Transaction(func(txn *gorm.DB) error {
		if len(analyses) > 0 {
			var count int64
			if err := txn.Model(&schema.Analysis{}).Where("track_id = ?", trackId).Count(&count).Error; err != nil {
				slog.Error("sql error counting analyses", "track_id", trackId, "error", err)
				return schema.ErrDbAccessFailed
			}
			if count > 0 {
				slog.Warn("track already has analyses, skipping", "track_id", trackId)
			} else {
				for _, a := range analyses {
					row := schema.Analysis{
						TrackId:  trackId,
						Program:  a.Program,
						Command:  a.Command,
						Category: a.Category,
					}
					if err := txn.Create(&row).Error; err != nil {
						slog.Error("sql error creating analysis", "track_id", trackId, "error", err)
						return schema.ErrDbAccessFailed
					}
				}
			}
		}

		if len(filePaths) > 0 {
			var count int64
			if err := txn.Model(&schema.File{}).
				Where("track_id = ?", trackId).
				Where("type <> ?", schema.FileFastq).
				Count(&count).Error; err != nil {
				slog.Error("sql error counting files", "track_id", trackId, "error", err)
				return schema.ErrDbAccessFailed
			}
			if count > 0 {
				slog.Warn("track already has result files, skipping", "track_id", trackId)
				return nil
			}
			for _, path := range filePaths {
				for _, file := range filesForPath(trackId, path) {
					if err := txn.Create(&file).Error; err != nil {
						slog.Error("sql error creating file", "track_id", trackId, "path", file.Path, "error", err)
						return schema.ErrDbAccessFailed
					}
				}
			}
		}
		return nil
	})
}

// filesForPath infers file rows from a path's extension. Bam files carry an
// implied .bai index alongside.
func filesForPath(trackId uint, path string) []schema.File {
	switch {
	case strings.HasSuffix(path, ".bw"):
		return []schema.File{{TrackId: trackId, Path: path, Type: schema.FileBigwig}}
	case strings.HasSuffix(path, ".bam"):
		return []schema.File{
			{TrackId: trackId, Path: path, Type: schema.FileBam},
			{TrackId: trackId, Path: path + ".bai", Type: schema.FileBai},
		}
	case strings.HasSuffix(path, ".fastq"), strings.HasSuffix(path, ".fastq.gz"):
		return []schema.File{{TrackId: trackId, Path: path, Type: schema.FileFastq}}
	default:
		slog.Warn("unrecognized result file extension, skipping",
			"track_id", trackId, "file", filepath.Base(path))
		return nil
	}
}

func sortedJoin(set map[string]bool) string {
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return strings.Join(items, "_")
}

func firstKey(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

// ComputeMergeIdentity derives the deterministic (merge level, merge id)
// fingerprint of a track from its active run set:
//
//   - runs spanning more than one study: level taxon, id joined from the
//     sorted study accessions;
//   - exactly one study whose complete sample set equals the track's sample
//     set: level study, id that study's accession;
//   - a strict subset of one study's samples: level sample when the track
//     has one sample, else taxon, keyed on the sorted sample accessions;
//   - no resolvable study but one sample: level sample.
//
// Recomputation with an unchanged run set always yields the same pair.
func (m *Manager) ComputeMergeIdentity(trackId uint) (string, string, error) {
	return computeMergeIdentity(m.db, trackId)
}

func computeMergeIdentity(db *gorm.DB, trackId uint) (string, string, error) {
	var runs []schema.Run
	result := db.
		Preload("Sample").
		Preload("Experiment").
		Preload("Experiment.Study").
		Joins("JOIN sra_tracks ON sra_tracks.run_id = runs.id").
		Where("sra_tracks.track_id = ?", trackId).
		Where("runs.status = ?", schema.Active).
		Find(&runs)
	if result.Error != nil {
		slog.Error("sql error loading runs for merge identity", "track_id", trackId, "error", result.Error)
		return "", "", schema.ErrDbAccessFailed
	}
	if len(runs) == 0 {
		slog.Warn("track has no active runs, cannot compute merge identity", "track_id", trackId)
		return "", "", nil
	}

	studyAccs := make(map[string]bool)
	studyIds := make(map[uint]bool)
	sampleAccs := make(map[string]bool)
	sampleIds := make(map[uint]bool)
	for _, run := range runs {
		if run.Experiment != nil && run.Experiment.Study != nil {
			studyAccs[run.Experiment.Study.Accession()] = true
			studyIds[run.Experiment.Study.Id] = true
		}
		if run.Sample != nil {
			sampleAccs[run.Sample.Accession()] = true
			sampleIds[run.Sample.Id] = true
		}
	}

	if len(studyAccs) > 1 {
		return schema.MergeTaxon, sortedJoin(studyAccs), nil
	}

	if len(studyAccs) == 1 {
		var studyId uint
		for id := range studyIds {
			studyId = id
		}
		var studySamples []uint
		result := db.Model(&schema.Run{}).
			Distinct("runs.sample_id").
			Joins("JOIN experiments ON experiments.id = runs.experiment_id").
			Where("experiments.study_id = ?", studyId).
			Pluck("runs.sample_id", &studySamples)
		if result.Error != nil {
			slog.Error("sql error loading study sample set", "study_id", studyId, "error", result.Error)
			return "", "", schema.ErrDbAccessFailed
		}

		covered := true
		for _, sampleId := range studySamples {
			if !sampleIds[sampleId] {
				covered = false
				break
			}
		}
		if covered && len(studySamples) == len(sampleIds) {
			return schema.MergeStudy, firstKey(studyAccs), nil
		}

		if len(sampleAccs) == 1 {
			return schema.MergeSample, firstKey(sampleAccs), nil
		}
		return schema.MergeTaxon, sortedJoin(sampleAccs), nil
	}

	if len(sampleAccs) == 1 {
		return schema.MergeSample, firstKey(sampleAccs), nil
	}
	if len(sampleAccs) > 1 {
		return schema.MergeTaxon, sortedJoin(sampleAccs), nil
	}

	slog.Warn("track runs resolve to no studies or samples", "track_id", trackId)
	return "", "", nil
}

// applyMergeIdentity computes and stores the merge identity and the
// merge-text run listing for a track. At most one active track may hold a
// given merge id: when another active track already carries the computed id,
// the identity is not stored and the collision is logged for curation.
func (m *Manager) applyMergeIdentity(txn *gorm.DB, trackId uint) error {
	level, mergeId, err := computeMergeIdentity(txn, trackId)
	if err != nil {
		return err
	}
	if mergeId == "" {
		return nil
	}

	var holder schema.Track
	result := txn.Limit(1).Find(&holder,
		"merge_id = ? AND status = ? AND id <> ?", mergeId, schema.Active, trackId)
	if result.Error != nil {
		slog.Error("sql error checking merge id holder", "merge_id", mergeId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	if result.RowsAffected != 0 {
		slog.Warn("merge id already held by another active track, not storing",
			"track_id", trackId, "merge_id", mergeId, "holder_track_id", holder.Id)
		return nil
	}

	var runAccs []string
	var runs []schema.Run
	result = txn.
		Joins("JOIN sra_tracks ON sra_tracks.run_id = runs.id").
		Where("sra_tracks.track_id = ?", trackId).
		Where("runs.status = ?", schema.Active).
		Find(&runs)
	if result.Error != nil {
		slog.Error("sql error loading runs for merge text", "track_id", trackId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	for _, run := range runs {
		runAccs = append(runAccs, run.Accession())
	}
	sort.Strings(runAccs)
	mergeText := strings.Join(runAccs, ", ")

	updates := map[string]interface{}{
		"merge_level": level,
		"merge_id":    mergeId,
		"merge_text":  mergeText,
	}
	if err := txn.Model(&schema.Track{}).Where("id = ?", trackId).Updates(updates).Error; err != nil {
		slog.Error("sql error storing merge identity", "track_id", trackId, "error", err)
		return schema.ErrDbAccessFailed
	}
	return nil
}

// RegenerateMergeIdentities recomputes merge level/id for active tracks. By
// default only tracks with no merge id are touched; force recomputes all.
// Running twice without data changes produces identical identities.
func (m *Manager) RegenerateMergeIdentities(force bool) (int, error) {
	query := m.db.Where("status = ?", schema.Active)
	if !force {
		query = query.Where("merge_id IS NULL")
	}

	var trackList []schema.Track
	if err := query.Order("id").Find(&trackList).Error; err != nil {
		slog.Error("sql error listing tracks for merge id regeneration", "error", err)
		return 0, schema.ErrDbAccessFailed
	}

	updated := 0
	for _, track := range trackList {
		err := m.db.Transaction(func(txn *gorm.DB) error {
			return m.applyMergeIdentity(txn, track.Id)
		})
		if err != nil {
			return updated, fmt.Errorf("regenerating merge identity for track %d: %w", track.Id, err)
		}
		updated++
	}

	slog.Info("regenerated merge identities", "tracks", updated, "force", force)
	return updated, nil
}

// FindByMergeId maps a merge id back to the active track holding it, used to
// re-map re-imported accessions onto an already merged track. At most one
// active track may hold a given merge id.
func (m *Manager) FindByMergeId(mergeId string) (*schema.Track, error) {
	var track schema.Track
	result := m.db.Limit(1).Find(&track, "merge_id = ? AND status = ?", mergeId, schema.Active)
	if result.Error != nil {
		slog.Error("sql error finding track by merge id", "merge_id", mergeId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &track, nil
}
