package bundles

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"rnaseqdb/schema"
)

// Filter narrows and decorates the GetBundles projection.
type Filter struct {
	// Species filters bundles to one production name.
	Species string
	// FilesDir is prepended to file paths to form URLs.
	FilesDir string
}

type FileRecord struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

type TrackRecord struct {
	TrackId     uint   `json:"track_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MergeLevel  string `json:"merge_level,omitempty"`
	MergeId     string `json:"merge_id,omitempty"`
	Aligner     string `json:"aligner"`

	Runs        []string `json:"runs"`
	Experiments []string `json:"experiments"`
	Studies     []string `json:"studies"`
	Samples     []string `json:"samples"`

	Keywords map[string][]string `json:"keywords"`
	Files    []FileRecord        `json:"files"`
}

type BundleRecord struct {
	BundleId    uint   `json:"bundle_id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Species        string `json:"species"`
	Strain         string `json:"strain"`
	ProductionName string `json:"production_name"`
	Assembly       string `json:"assembly"`
	TaxonId        int    `json:"taxon_id"`

	Tracks []TrackRecord `json:"tracks"`
}

const undefinedAligner = "(undefined aligner)"

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
	runAccPattern  = regexp.MustCompile(`\b[SED]RR\d+\b`)
)

// cleanDescription strips HTML from a description and hyperlinks any public
// run accession it mentions.
func cleanDescription(text string) string {
	stripped := htmlTagPattern.ReplaceAllString(text, "")
	return runAccPattern.ReplaceAllStringFunc(stripped, func(acc string) string {
		return fmt.Sprintf(`<a href="https://www.ebi.ac.uk/ena/browser/view/%s">%s</a>`, acc, acc)
	})
}

func sortedSet(set map[string]bool) []string {
	items := make([]string, 0, len(set))
	for item := range set {
		if item != "" {
			items = append(items, item)
		}
	}
	sort.Strings(items)
	return items
}

// GetBundles projects the active bundle/track graph into export-ready
// records. Bundles are sorted by species name, tracks within a bundle by
// title. The representative strain of a bundle is taken from the sample of
// the lowest-id run of its lowest-id active track; disagreement between
// tracks is logged, not fatal.
func (m *Manager) GetBundles(opt Filter) ([]BundleRecord, error) {
	var bundleRows []schema.Bundle
	result := m.db.Where("status = ?", schema.Active).Order("id").Find(&bundleRows)
	if result.Error != nil {
		slog.Error("sql error listing active bundles", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	records := make([]BundleRecord, 0, len(bundleRows))
	for _, bundle := range bundleRows {
		record, keep, err := m.projectBundle(&bundle, opt)
		if err != nil {
			return nil, err
		}
		if keep {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Species < records[j].Species })
	return records, nil
}

func (m *Manager) projectBundle(bundle *schema.Bundle, opt Filter) (BundleRecord, bool, error) {
	var trackRows []schema.Track
	result := m.db.
		Joins("JOIN bundle_tracks ON bundle_tracks.track_id = tracks.id").
		Where("bundle_tracks.bundle_id = ?", bundle.Id).
		Where("tracks.status = ?", schema.Active).
		Order("tracks.id").
		Find(&trackRows)
	if result.Error != nil {
		slog.Error("sql error listing bundle tracks", "bundle_id", bundle.Id, "error", result.Error)
		return BundleRecord{}, false, schema.ErrDbAccessFailed
	}
	if len(trackRows) == 0 {
		slog.Warn("active bundle has no active tracks", "bundle_id", bundle.Id)
		return BundleRecord{}, false, nil
	}

	strain, err := m.representativeStrain(bundle.Id, trackRows)
	if err != nil {
		return BundleRecord{}, false, err
	}
	if opt.Species != "" && (strain == nil || strain.ProductionName != opt.Species) {
		return BundleRecord{}, false, nil
	}

	record := BundleRecord{
		BundleId:    bundle.Id,
		Title:       bundle.Title(),
		Description: cleanDescription(bundle.Description()),
	}
	if strain != nil {
		record.Species = strain.Species
		record.Strain = strain.Name
		record.ProductionName = strain.ProductionName
		record.Assembly = strain.Assembly
		record.TaxonId = strain.TaxonId
	}

	for i := range trackRows {
		trackRecord, err := m.projectTrack(&trackRows[i], opt)
		if err != nil {
			return BundleRecord{}, false, err
		}
		record.Tracks = append(record.Tracks, trackRecord)
	}
	sort.SliceStable(record.Tracks, func(i, j int) bool {
		return record.Tracks[i].Title < record.Tracks[j].Title
	})

	return record, true, nil
}

// representativeStrain picks the strain for a bundle deterministically: the
// sample of the lowest-id run of the lowest-id active track. When the
// bundle's tracks disagree on strain the choice is logged as ambiguous.
func (m *Manager) representativeStrain(bundleId uint, trackRows []schema.Track) (*schema.Strain, error) {
	strainIds := make(map[uint]bool)
	var representative *schema.Strain

	for i := range trackRows {
		var runs []schema.Run
		result := m.db.
			Preload("Sample").
			Preload("Sample.Strain").
			Joins("JOIN sra_tracks ON sra_tracks.run_id = runs.id").
			Where("sra_tracks.track_id = ?", trackRows[i].Id).
			Order("runs.id").
			Find(&runs)
		if result.Error != nil {
			slog.Error("sql error loading runs for bundle strain",
				"bundle_id", bundleId, "track_id", trackRows[i].Id, "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		for _, run := range runs {
			if run.Sample == nil || run.Sample.Strain == nil {
				continue
			}
			strainIds[run.Sample.Strain.Id] = true
			if representative == nil {
				strain := *run.Sample.Strain
				representative = &strain
			}
		}
	}

	if len(strainIds) > 1 {
		slog.Warn("bundle tracks disagree on strain, using first by track and run id",
			"bundle_id", bundleId, "strains", len(strainIds))
	}
	return representative, nil
}

func (m *Manager) projectTrack(track *schema.Track, opt Filter) (TrackRecord, error) {
	record := TrackRecord{
		TrackId:     track.Id,
		Title:       track.Title(),
		Description: cleanDescription(track.Description()),
		Keywords:    map[string][]string{},
	}
	if record.Title == "" && track.MergeText != nil {
		record.Title = *track.MergeText
	}
	if track.MergeLevel != nil {
		record.MergeLevel = *track.MergeLevel
	}
	if track.MergeId != nil {
		record.MergeId = *track.MergeId
	}

	var runs []schema.Run
	result := m.db.
		Preload("Sample").
		Preload("Experiment").
		Preload("Experiment.Study").
		Joins("JOIN sra_tracks ON sra_tracks.run_id = runs.id").
		Where("sra_tracks.track_id = ?", track.Id).
		Where("runs.status = ?", schema.Active).
		Order("runs.id").
		Find(&runs)
	if result.Error != nil {
		slog.Error("sql error loading track runs", "track_id", track.Id, "error", result.Error)
		return TrackRecord{}, schema.ErrDbAccessFailed
	}

	runAccs := make(map[string]bool)
	experimentAccs := make(map[string]bool)
	studyAccs := make(map[string]bool)
	sampleAccs := make(map[string]bool)
	for _, run := range runs {
		runAccs[run.Accession()] = true
		if run.Experiment != nil {
			experimentAccs[run.Experiment.Accession()] = true
			if run.Experiment.Study != nil {
				studyAccs[run.Experiment.Study.Accession()] = true
			}
		}
		if run.Sample != nil {
			sampleAccs[run.Sample.Accession()] = true
		}
	}
	record.Runs = sortedSet(runAccs)
	record.Experiments = sortedSet(experimentAccs)
	record.Studies = sortedSet(studyAccs)
	record.Samples = sortedSet(sampleAccs)

	aligner, err := m.alignerFor(track.Id)
	if err != nil {
		return TrackRecord{}, err
	}
	record.Aligner = aligner

	keywords, err := m.keywords.KeywordsForTrack(track.Id)
	if err != nil {
		return TrackRecord{}, err
	}
	if keywords != nil {
		record.Keywords = keywords
	}

	var files []schema.File
	if err := m.db.Where("track_id = ?", track.Id).Order("id").Find(&files).Error; err != nil {
		slog.Error("sql error loading track files", "track_id", track.Id, "error", err)
		return TrackRecord{}, schema.ErrDbAccessFailed
	}
	for _, file := range files {
		url := file.Path
		if opt.FilesDir != "" {
			url = strings.TrimSuffix(opt.FilesDir, "/") + "/" + strings.TrimPrefix(file.Path, "/")
		}
		record.Files = append(record.Files, FileRecord{Name: file.Path, URL: url, Type: file.Type})
	}

	return record, nil
}

// alignerFor returns the program of the first aligner-category analysis by
// insertion order, or a placeholder when none exists. First match wins when
// a track carries several aligner analyses.
func (m *Manager) alignerFor(trackId uint) (string, error) {
	var analyses []schema.Analysis
	result := m.db.
		Where("track_id = ?", trackId).
		Where("category = ?", "aligner").
		Order("id").
		Limit(1).
		Find(&analyses)
	if result.Error != nil {
		slog.Error("sql error loading track analyses", "track_id", trackId, "error", result.Error)
		return "", schema.ErrDbAccessFailed
	}
	if len(analyses) == 0 {
		return undefinedAligner, nil
	}
	return analyses[0].Program, nil
}

// Solr document shapes: one parent document per bundle with nested child
// documents per track. Pure reshaping of GetBundles output.

type SolrTrackDoc struct {
	Id          string   `json:"id"`
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Aligner     string   `json:"aligner"`
	RunAccs     []string `json:"run_accessions"`
	StudyAccs   []string `json:"study_accessions"`
	Keywords    []string `json:"keywords"`
}

type SolrBundleDoc struct {
	Id          string         `json:"id"`
	Type        string         `json:"type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Species     string         `json:"species"`
	Strain      string         `json:"strain"`
	Assembly    string         `json:"assembly"`
	Children    []SolrTrackDoc `json:"_childDocuments_"`
}

// GetBundlesForSolr reshapes GetBundles output into the flattened
// parent/child document form the search index expects. No new business
// logic, renames only.
func (m *Manager) GetBundlesForSolr(opt Filter) ([]SolrBundleDoc, error) {
	records, err := m.GetBundles(opt)
	if err != nil {
		return nil, err
	}

	docs := make([]SolrBundleDoc, 0, len(records))
	for _, record := range records {
		doc := SolrBundleDoc{
			Id:          fmt.Sprintf("bundle_%d", record.BundleId),
			Type:        "bundle",
			Label:       record.Title,
			Description: record.Description,
			Species:     record.Species,
			Strain:      record.Strain,
			Assembly:    record.Assembly,
		}
		for _, track := range record.Tracks {
			child := SolrTrackDoc{
				Id:          fmt.Sprintf("track_%d", track.TrackId),
				Type:        "track",
				Label:       track.Title,
				Description: track.Description,
				Aligner:     track.Aligner,
				RunAccs:     track.Runs,
				StudyAccs:   track.Studies,
			}
			categories := make([]string, 0, len(track.Keywords))
			for category := range track.Keywords {
				categories = append(categories, category)
			}
			sort.Strings(categories)
			for _, category := range categories {
				child.Keywords = append(child.Keywords, track.Keywords[category]...)
			}
			doc.Children = append(doc.Children, child)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
