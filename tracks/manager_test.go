package tracks

import (
	"path/filepath"
	"testing"
	"time"

	"rnaseqdb/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.All()...))
	return db
}

func strPtr(s string) *string { return &s }

// seedRun creates study/experiment/sample/run rows for one run accession,
// reusing existing parents so several runs can share a study or sample.
func seedRun(t *testing.T, db *gorm.DB, studyAcc, expAcc, sampleAcc, runAcc string) uint {
	var study schema.Study
	found, err := schema.FindByAccession(db, &study, studyAcc)
	require.NoError(t, err)
	if !found {
		study = schema.Study{SraAcc: strPtr(studyAcc), Status: schema.Active, Date: time.Now().UTC()}
		require.NoError(t, db.Create(&study).Error)
	}

	var exp schema.Experiment
	found, err = schema.FindByAccession(db, &exp, expAcc)
	require.NoError(t, err)
	if !found {
		exp = schema.Experiment{StudyId: study.Id, SraAcc: strPtr(expAcc), Status: schema.Active, Date: time.Now().UTC()}
		require.NoError(t, db.Create(&exp).Error)
	}

	var sample schema.Sample
	found, err = schema.FindByAccession(db, &sample, sampleAcc)
	require.NoError(t, err)
	if !found {
		sample = schema.Sample{SraAcc: strPtr(sampleAcc), TaxonId: 7165, Status: schema.Active, Date: time.Now().UTC()}
		require.NoError(t, db.Create(&sample).Error)
	}

	run := schema.Run{
		ExperimentId: exp.Id,
		SampleId:     sample.Id,
		SraAcc:       strPtr(runAcc),
		Status:       schema.Active,
		Date:         time.Now().UTC(),
	}
	require.NoError(t, db.Create(&run).Error)
	return run.Id
}

type recordingNodeSink struct {
	created []uint
	retired []uint
}

func (s *recordingNodeSink) CreateNodeForTrack(trackId uint) error {
	s.created = append(s.created, trackId)
	return nil
}

func (s *recordingNodeSink) RetireNodesForTracks(trackIds []uint) error {
	s.retired = append(s.retired, trackIds...)
	return nil
}

func TestCreateForRunIsIdempotent(t *testing.T) {
	db := setupTestDb(t)
	runId := seedRun(t, db, "SRP000001", "SRX000001", "SRS000001", "SRR000001")

	sink := &recordingNodeSink{}
	manager := NewManager(db, sink)

	trackId, err := manager.CreateForRun(runId)
	require.NoError(t, err)
	require.NotZero(t, trackId)

	again, err := manager.CreateForRun(runId)
	require.NoError(t, err)
	assert.Equal(t, trackId, again)

	var count int64
	require.NoError(t, db.Model(&schema.Track{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, []uint{trackId}, sink.created)
}

func TestMergeRelinksAllConstituentRuns(t *testing.T) {
	db := setupTestDb(t)
	run1 := seedRun(t, db, "SRP000001", "SRX000001", "SRS000001", "SRR000001")
	run2 := seedRun(t, db, "SRP000001", "SRX000002", "SRS000002", "SRR000002")
	run3 := seedRun(t, db, "SRP000001", "SRX000002", "SRS000002", "SRR000003")

	sink := &recordingNodeSink{}
	manager := NewManager(db, sink)

	track1, err := manager.CreateForRun(run1)
	require.NoError(t, err)
	track2, err := manager.CreateForRun(run2)
	require.NoError(t, err)
	_, err = manager.CreateForRun(run3)
	require.NoError(t, err)

	// Merge the first track with track2. Run 3 shares track2's sample but
	// sits on its own track and must stay untouched.
	merged, err := manager.MergeBySraAccessions([]string{"SRR000001", "SRR000002"})
	require.NoError(t, err)
	require.NotZero(t, merged)

	for _, old := range []uint{track1, track2} {
		track, err := schema.GetTrack(old, db)
		require.NoError(t, err)
		assert.Equal(t, schema.Merged, track.Status)
	}

	var linkedRuns []uint
	require.NoError(t, db.Model(&schema.SraTrack{}).
		Where("track_id = ?", merged).
		Order("run_id").
		Pluck("run_id", &linkedRuns).Error)
	assert.Equal(t, []uint{run1, run2}, linkedRuns)

	track, err := schema.GetTrack(merged, db)
	require.NoError(t, err)
	assert.Equal(t, schema.Active, track.Status)
	require.NotNil(t, track.MergeText)
	assert.Equal(t, "SRR000001, SRR000002", *track.MergeText)
}

func TestMergeRequiresTwoDistinctTracks(t *testing.T) {
	db := setupTestDb(t)
	runId := seedRun(t, db, "SRP000001", "SRX000001", "SRS000001", "SRR000001")

	manager := NewManager(db, nil)
	trackId, err := manager.CreateForRun(runId)
	require.NoError(t, err)

	_, err = manager.MergeBySraAccessions([]string{"SRR000001"})
	assert.ErrorIs(t, err, ErrNothingToMerge)

	// Two accessions resolving to the same track are still one track.
	run2 := seedRun(t, db, "SRP000001", "SRX000001", "SRS000001", "SRR000002")
	require.NoError(t, db.Create(&schema.SraTrack{RunId: run2, TrackId: trackId}).Error)

	_, err = manager.MergeBySraAccessions([]string{"SRR000001", "SRR000002"})
	assert.ErrorIs(t, err, ErrNothingToMerge)

	track, err := schema.GetTrack(trackId, db)
	require.NoError(t, err)
	assert.Equal(t, schema.Active, track.Status)
}

func TestMergeIdentityLevels(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	// Study level: one study, track covers every sample of the study.
	runA := seedRun(t, db, "SRP000010", "SRX000010", "SRS000010", "SRR000010")
	runB := seedRun(t, db, "SRP000010", "SRX000011", "SRS000011", "SRR000011")
	trackA, err := manager.CreateForRun(runA)
	require.NoError(t, err)
	_, err = manager.CreateForRun(runB)
	require.NoError(t, err)

	merged, err := manager.MergeBySraAccessions([]string{"SRR000010", "SRR000011"})
	require.NoError(t, err)

	track, err := schema.GetTrack(merged, db)
	require.NoError(t, err)
	require.NotNil(t, track.MergeLevel)
	assert.Equal(t, schema.MergeStudy, *track.MergeLevel)
	assert.Equal(t, "SRP000010", *track.MergeId)

	// Sample level: a single-sample track in a multi-sample study.
	level, mergeId, err := manager.ComputeMergeIdentity(trackA)
	require.NoError(t, err)
	assert.Equal(t, schema.MergeSample, level)
	assert.Equal(t, "SRS000010", mergeId)

	// Taxon level across studies: sorted study accessions joined with "_".
	runC := seedRun(t, db, "SRP000020", "SRX000020", "SRS000020", "SRR000020")
	trackC, err := manager.CreateForRun(runC)
	require.NoError(t, err)
	require.NoError(t, db.Create(&schema.SraTrack{RunId: runA, TrackId: trackC}).Error)

	level, mergeId, err = manager.ComputeMergeIdentity(trackC)
	require.NoError(t, err)
	assert.Equal(t, schema.MergeTaxon, level)
	assert.Equal(t, "SRP000010_SRP000020", mergeId)
}

func TestMergeIdentityStrictSubsetMultipleSamples(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	// Study with three samples; the track covers only two of them.
	run1 := seedRun(t, db, "SRP000030", "SRX000030", "SRS000030", "SRR000030")
	run2 := seedRun(t, db, "SRP000030", "SRX000031", "SRS000031", "SRR000031")
	seedRun(t, db, "SRP000030", "SRX000032", "SRS000032", "SRR000032")

	trackId, err := manager.CreateForRun(run1)
	require.NoError(t, err)
	require.NoError(t, db.Create(&schema.SraTrack{RunId: run2, TrackId: trackId}).Error)

	level, mergeId, err := manager.ComputeMergeIdentity(trackId)
	require.NoError(t, err)
	assert.Equal(t, schema.MergeTaxon, level)
	assert.Equal(t, "SRS000030_SRS000031", mergeId)
}

func TestMergeIdentityIsStable(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	runA := seedRun(t, db, "SRP000040", "SRX000040", "SRS000040", "SRR000040")
	runB := seedRun(t, db, "SRP000040", "SRX000041", "SRS000041", "SRR000041")
	_, err := manager.CreateForRun(runA)
	require.NoError(t, err)
	_, err = manager.CreateForRun(runB)
	require.NoError(t, err)

	merged, err := manager.MergeBySraAccessions([]string{"SRR000040", "SRR000041"})
	require.NoError(t, err)

	level1, id1, err := manager.ComputeMergeIdentity(merged)
	require.NoError(t, err)
	level2, id2, err := manager.ComputeMergeIdentity(merged)
	require.NoError(t, err)
	assert.Equal(t, level1, level2)
	assert.Equal(t, id1, id2)
}

func TestInactivateCountMismatchAborts(t *testing.T) {
	db := setupTestDb(t)
	run1 := seedRun(t, db, "SRP000050", "SRX000050", "SRS000050", "SRR000050")
	run2 := seedRun(t, db, "SRP000050", "SRX000051", "SRS000051", "SRR000051")

	sink := &recordingNodeSink{}
	manager := NewManager(db, sink)

	_, err := manager.CreateForRun(run1)
	require.NoError(t, err)
	_, err = manager.CreateForRun(run2)
	require.NoError(t, err)

	// Two runs sharing one track after a merge resolve to 1 track for 2
	// accessions: abort without mutation.
	merged, err := manager.MergeBySraAccessions([]string{"SRR000050", "SRR000051"})
	require.NoError(t, err)

	err = manager.InactivateBySraAccessions([]string{"SRR000050", "SRR000051"})
	assert.ErrorIs(t, err, ErrTrackCountMismatch)
	assert.Empty(t, sink.retired)

	track, err := schema.GetTrack(merged, db)
	require.NoError(t, err)
	assert.Equal(t, schema.Active, track.Status)
}

func TestInactivateRetiresTracks(t *testing.T) {
	db := setupTestDb(t)
	run1 := seedRun(t, db, "SRP000060", "SRX000060", "SRS000060", "SRR000060")
	run2 := seedRun(t, db, "SRP000060", "SRX000061", "SRS000061", "SRR000061")

	sink := &recordingNodeSink{}
	manager := NewManager(db, sink)

	track1, err := manager.CreateForRun(run1)
	require.NoError(t, err)
	track2, err := manager.CreateForRun(run2)
	require.NoError(t, err)

	require.NoError(t, manager.InactivateBySraAccessions([]string{"SRR000060", "SRR000061"}))

	for _, id := range []uint{track1, track2} {
		track, err := schema.GetTrack(id, db)
		require.NoError(t, err)
		assert.Equal(t, schema.Retired, track.Status)
	}
	assert.ElementsMatch(t, []uint{track1, track2}, sink.retired)

	// Retired tracks are no longer merge candidates.
	_, err = manager.MergeBySraAccessions([]string{"SRR000060", "SRR000061"})
	assert.ErrorIs(t, err, ErrNothingToMerge)
}

func TestAddResultsFileTypes(t *testing.T) {
	db := setupTestDb(t)
	runId := seedRun(t, db, "SRP000070", "SRX000070", "SRS000070", "SRR000070")

	manager := NewManager(db, nil)
	trackId, err := manager.CreateForRun(runId)
	require.NoError(t, err)

	analyses := []AnalysisInput{
		{Program: "hisat2", Command: "hisat2 -x genome ...", Category: "aligner"},
		{Program: "samtools", Command: "samtools sort ...", Category: "post-processing"},
	}
	paths := []string{
		"results/SRR000070.bw",
		"results/SRR000070.bam",
		"results/SRR000070.fastq.gz",
		"results/SRR000070.log",
	}
	require.NoError(t, manager.AddResults(trackId, analyses, paths))

	var files []schema.File
	require.NoError(t, db.Order("id").Find(&files, "track_id = ?", trackId).Error)
	require.Len(t, files, 4)
	assert.Equal(t, schema.FileBigwig, files[0].Type)
	assert.Equal(t, schema.FileBam, files[1].Type)
	assert.Equal(t, schema.FileBai, files[2].Type)
	assert.Equal(t, "results/SRR000070.bam.bai", files[2].Path)
	assert.Equal(t, schema.FileFastq, files[3].Type)

	var count int64
	require.NoError(t, db.Model(&schema.Analysis{}).Where("track_id = ?", trackId).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestAddResultsIsAtMostOnce(t *testing.T) {
	db := setupTestDb(t)
	runId := seedRun(t, db, "SRP000071", "SRX000071", "SRS000071", "SRR000071")

	manager := NewManager(db, nil)
	trackId, err := manager.CreateForRun(runId)
	require.NoError(t, err)

	first := []AnalysisInput{{Program: "hisat2", Category: "aligner"}}
	require.NoError(t, manager.AddResults(trackId, first, []string{"a.bw"}))

	// A second submission must not duplicate analyses or files.
	second := []AnalysisInput{{Program: "star", Category: "aligner"}}
	require.NoError(t, manager.AddResults(trackId, second, []string{"b.bw"}))

	var analyses []schema.Analysis
	require.NoError(t, db.Find(&analyses, "track_id = ?", trackId).Error)
	require.Len(t, analyses, 1)
	assert.Equal(t, "hisat2", analyses[0].Program)

	var files []schema.File
	require.NoError(t, db.Find(&files, "track_id = ?", trackId).Error)
	require.Len(t, files, 1)
	assert.Equal(t, "a.bw", files[0].Path)
}

func TestAddResultsUnknownTrack(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	err := manager.AddResults(42, nil, []string{"a.bw"})
	assert.ErrorIs(t, err, schema.ErrTrackNotFound)
}

func TestRegenerateMergeIdentities(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	run1 := seedRun(t, db, "SRP000080", "SRX000080", "SRS000080", "SRR000080")
	run2 := seedRun(t, db, "SRP000081", "SRX000081", "SRS000081", "SRR000081")
	track1, err := manager.CreateForRun(run1)
	require.NoError(t, err)
	track2, err := manager.CreateForRun(run2)
	require.NoError(t, err)

	updated, err := manager.RegenerateMergeIdentities(false)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	for _, id := range []uint{track1, track2} {
		track, err := schema.GetTrack(id, db)
		require.NoError(t, err)
		require.NotNil(t, track.MergeId)
	}

	// Without force, tracks that already carry a merge id are skipped.
	updated, err = manager.RegenerateMergeIdentities(false)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)

	track, err := schema.GetTrack(track1, db)
	require.NoError(t, err)
	before := *track.MergeId

	updated, err = manager.RegenerateMergeIdentities(true)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	track, err = schema.GetTrack(track1, db)
	require.NoError(t, err)
	assert.Equal(t, before, *track.MergeId)
}

func TestMergeIdNotDuplicatedAcrossActiveTracks(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	// Two runs of the same sample on two active tracks compute the same
	// identity; only one track may end up holding it.
	run1 := seedRun(t, db, "SRP000100", "SRX000100", "SRS000100", "SRR000100")
	run2 := seedRun(t, db, "SRP000100", "SRX000100", "SRS000100", "SRR000101")
	track1, err := manager.CreateForRun(run1)
	require.NoError(t, err)
	track2, err := manager.CreateForRun(run2)
	require.NoError(t, err)

	_, err = manager.RegenerateMergeIdentities(true)
	require.NoError(t, err)

	first, err := schema.GetTrack(track1, db)
	require.NoError(t, err)
	require.NotNil(t, first.MergeId)

	second, err := schema.GetTrack(track2, db)
	require.NoError(t, err)
	assert.Nil(t, second.MergeId)

	var holders int64
	require.NoError(t, db.Model(&schema.Track{}).
		Where("merge_id = ? AND status = ?", *first.MergeId, schema.Active).
		Count(&holders).Error)
	assert.Equal(t, int64(1), holders)

	// Re-running keeps the assignment stable rather than flipping it.
	_, err = manager.RegenerateMergeIdentities(true)
	require.NoError(t, err)

	second, err = schema.GetTrack(track2, db)
	require.NoError(t, err)
	assert.Nil(t, second.MergeId)
}

func TestFindByMergeId(t *testing.T) {
	db := setupTestDb(t)
	manager := NewManager(db, nil)

	runId := seedRun(t, db, "SRP000090", "SRX000090", "SRS000090", "SRR000090")
	trackId, err := manager.CreateForRun(runId)
	require.NoError(t, err)

	_, err = manager.RegenerateMergeIdentities(false)
	require.NoError(t, err)

	track, err := schema.GetTrack(trackId, db)
	require.NoError(t, err)
	require.NotNil(t, track.MergeId)

	found, err := manager.FindByMergeId(*track.MergeId)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, trackId, found.Id)

	missing, err := manager.FindByMergeId("SRP999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
