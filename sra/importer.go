package sra

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rnaseqdb/accession"
	"rnaseqdb/schema"
	"rnaseqdb/species"
	"rnaseqdb/tracks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sentinel causes for aborting a single run import. These never escape the
// importer: they roll the per-run transaction back and degrade to a zero
// count with a warning.
var (
	errResolveFailed = errors.New("accessor resolution failed")
	errNoStrainMatch = errors.New("no species/strain match for sample")
	errAlreadyExists = errors.New("run already imported")
)

type Importer struct {
	db       *gorm.DB
	accessor Accessor
	species  *species.Matcher
	tracks   *tracks.Manager
}

func NewImporter(db *gorm.DB, accessor Accessor, matcher *species.Matcher, trackManager *tracks.Manager) *Importer {
	return &Importer{db: db, accessor: accessor, species: matcher, tracks: trackManager}
}

func metasum(fields ...string) *string {
	sum := md5.Sum([]byte(strings.Join(fields, "\x00")))
	s := hex.EncodeToString(sum[:])
	return &s
}

func (im *Importer) logOperation(level, operation, message string) {
	entry := schema.OperationLog{
		Id:        uuid.New(),
		Operation: operation,
		Level:     level,
		Message:   message,
		Date:      time.Now().UTC(),
	}
	if err := im.db.Create(&entry).Error; err != nil {
		slog.Error("sql error writing operation log", "error", err)
	}
}

// ImportAccession imports the run set behind any accession. Container
// accessions (study, experiment, sample) are expanded to their constituent
// runs via the accessor. Returns the number of freshly inserted runs;
// unclassifiable accessions and accessor failures degrade to zero with a
// warning, never an error.
func (im *Importer) ImportAccession(acc string) (int, error) {
	kind := accession.Classify(acc)
	if kind == accession.KindUnknown {
		im.logOperation("warning", "import", fmt.Sprintf("accession %s not recognized", acc))
		return 0, nil
	}

	records, err := im.accessor.Runs(acc)
	if err != nil {
		slog.Warn("could not resolve accession", "accession", acc, "error", err)
		im.logOperation("warning", "import", fmt.Sprintf("could not resolve %s: %v", acc, err))
		return 0, nil
	}

	imported := 0
	for _, record := range records {
		n, err := im.ImportRun(record)
		if err != nil {
			return imported, err
		}
		imported += n
	}

	slog.Info("imported accession", "accession", acc, "kind", kind, "new_runs", imported)
	im.logOperation("info", "import", fmt.Sprintf("imported %s: %d new runs", acc, imported))
	return imported, nil
}

// ImportRun inserts one run and, recursively, its experiment, study and
// sample, deduplicating each by accession. A fresh sample insertion also
// creates the sample's track. Returns 1 only when a new run row was
// inserted. Resolution failures and missing strain matches abort the whole
// run import with no partial rows.
func (im *Importer) ImportRun(record RunRecord) (int, error) {
	err := im.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Run
		found, err := schema.FindByAccession(txn, &existing, record.Accession)
		if err != nil {
			return err
		}
		if found {
			return errAlreadyExists
		}

		experimentId, err := im.importExperiment(txn, record.ExperimentAccession)
		if err != nil {
			return err
		}

		sampleId, freshSample, err := im.importSample(txn, record.SampleAccession)
		if err != nil {
			return err
		}

		run := schema.Run{
			ExperimentId: experimentId,
			SampleId:     sampleId,
			SraAcc:       &record.Accession,
			Title:        record.Title,
			Metasum:      metasum(record.Accession, record.Title),
			Status:       schema.Active,
			Date:         time.Now().UTC(),
		}
		if err := txn.Create(&run).Error; err != nil {
			slog.Error("sql error creating run", "accession", record.Accession, "error", err)
			return schema.ErrDbAccessFailed
		}

		// Track creation is tied to the sample insertion point: one track
		// per newly seen sample, carrying that sample's first run.
		if freshSample {
			if _, err := im.tracks.CreateForRunIn(txn, run.Id); err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, errAlreadyExists) {
		return 0, nil
	}
	if errors.Is(err, errResolveFailed) || errors.Is(err, errNoStrainMatch) {
		slog.Warn("run import aborted", "accession", record.Accession, "reason", err)
		im.logOperation("warning", "import_run",
			fmt.Sprintf("aborted %s: %v", record.Accession, err))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (im *Importer) importExperiment(txn *gorm.DB, acc string) (uint, error) {
	var existing schema.Experiment
	found, err := schema.FindByAccession(txn, &existing, acc)
	if err != nil {
		return 0, err
	}
	if found {
		return existing.Id, nil
	}

	record, err := im.accessor.Experiment(acc)
	if err != nil {
		slog.Warn("could not resolve experiment", "accession", acc, "error", err)
		return 0, errResolveFailed
	}

	studyId, err := im.importStudy(txn, record.StudyAccession)
	if err != nil {
		return 0, err
	}

	experiment := schema.Experiment{
		StudyId: studyId,
		SraAcc:  &record.Accession,
		Title:   record.Title,
		Metasum: metasum(record.Accession, record.Title),
		Status:  schema.Active,
		Date:    time.Now().UTC(),
	}
	if err := txn.Create(&experiment).Error; err != nil {
		slog.Error("sql error creating experiment", "accession", acc, "error", err)
		return 0, schema.ErrDbAccessFailed
	}
	return experiment.Id, nil
}

func (im *Importer) importStudy(txn *gorm.DB, acc string) (uint, error) {
	var existing schema.Study
	found, err := schema.FindByAccession(txn, &existing, acc)
	if err != nil {
		return 0, err
	}
	if found {
		return existing.Id, nil
	}

	record, err := im.accessor.Study(acc)
	if err != nil {
		slog.Warn("could not resolve study", "accession", acc, "error", err)
		return 0, errResolveFailed
	}

	study := schema.Study{
		SraAcc:   &record.Accession,
		Title:    record.Title,
		Abstract: record.Abstract,
		Metasum:  metasum(record.Accession, record.Title, record.Abstract),
		Status:   schema.Active,
		Date:     time.Now().UTC(),
	}
	if err := txn.Create(&study).Error; err != nil {
		slog.Error("sql error creating study", "accession", acc, "error", err)
		return 0, schema.ErrDbAccessFailed
	}

	for _, pubmedId := range record.PubmedIds {
		if err := im.linkPublication(txn, study.Id, pubmedId); err != nil {
			return 0, err
		}
	}
	return study.Id, nil
}

func (im *Importer) linkPublication(txn *gorm.DB, studyId uint, pubmedId int) error {
	var publication schema.Publication
	result := txn.Where(schema.Publication{PubmedId: pubmedId}).FirstOrCreate(&publication)
	if result.Error != nil {
		slog.Error("sql error creating publication", "pubmed_id", pubmedId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	link := schema.StudyPublication{StudyId: studyId, PublicationId: publication.Id}
	if err := txn.Create(&link).Error; err != nil {
		slog.Error("sql error linking publication", "pubmed_id", pubmedId, "error", err)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (im *Importer) importSample(txn *gorm.DB, acc string) (uint, bool, error) {
	var existing schema.Sample
	found, err := schema.FindByAccession(txn, &existing, acc)
	if err != nil {
		return 0, false, err
	}
	if found {
		return existing.Id, false, nil
	}

	record, err := im.accessor.Sample(acc)
	if err != nil {
		slog.Warn("could not resolve sample", "accession", acc, "error", err)
		return 0, false, errResolveFailed
	}

	strain, ok := im.species.Match(record.TaxonId, record.Strain)
	if !ok {
		return 0, false, errNoStrainMatch
	}

	sample := schema.Sample{
		SraAcc:      &record.Accession,
		Title:       record.Title,
		Description: record.Description,
		TaxonId:     record.TaxonId,
		StrainId:    &strain.Id,
		BioSample:   record.BioSample,
		Metasum:     metasum(record.Accession, record.Title, record.Description),
		Status:      schema.Active,
		Date:        time.Now().UTC(),
	}
	if err := txn.Create(&sample).Error; err != nil {
		slog.Error("sql error creating sample", "accession", acc, "error", err)
		return 0, false, schema.ErrDbAccessFailed
	}
	return sample.Id, true, nil
}
