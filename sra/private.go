package sra

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"rnaseqdb/accession"
	"rnaseqdb/schema"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// PrivateStudy is the caller-supplied descriptor for a non-public
// submission. Runs reference samples by the symbolic sample_name key, not a
// database id. Accessions are optional; missing ones are synthesized as
// <private prefix><numeric row id>.
type PrivateStudy struct {
	Accession   string              `yaml:"accession"`
	Title       string              `yaml:"title"`
	Abstract    string              `yaml:"abstract"`
	Samples     []PrivateSample     `yaml:"samples"`
	Experiments []PrivateExperiment `yaml:"experiments"`
}

type PrivateSample struct {
	SampleName     string `yaml:"sample_name"`
	Accession      string `yaml:"accession"`
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	TaxonId        int    `yaml:"taxon_id"`
	ProductionName string `yaml:"production_name"`
}

type PrivateExperiment struct {
	Accession string       `yaml:"accession"`
	Title     string       `yaml:"title"`
	Runs      []PrivateRun `yaml:"runs"`
}

type PrivateRun struct {
	Accession  string   `yaml:"accession"`
	Title      string   `yaml:"title"`
	SampleName string   `yaml:"sample_name"`
	Files      []string `yaml:"files"`
}

// ParsePrivateStudy reads a YAML private study descriptor.
func ParsePrivateStudy(r io.Reader) (*PrivateStudy, error) {
	var study PrivateStudy
	if err := yaml.NewDecoder(r).Decode(&study); err != nil {
		return nil, fmt.Errorf("error parsing private study descriptor: %w", err)
	}
	return &study, nil
}

// setPrivateAcc fills the private accession column of a freshly inserted
// row. When the descriptor supplied none, the accession is synthesized from
// the row id.
func setPrivateAcc(txn *gorm.DB, model interface{}, id uint, supplied, prefix string) (string, error) {
	acc := supplied
	if acc == "" {
		acc = fmt.Sprintf("%s%d", prefix, id)
	}
	if err := txn.Model(model).Where("id = ?", id).Update("private_acc", acc).Error; err != nil {
		slog.Error("sql error setting private accession", "accession", acc, "error", err)
		return "", schema.ErrDbAccessFailed
	}
	return acc, nil
}

// ImportPrivateStudy inserts a full study tree from a descriptor, bypassing
// the external accessor. Returns the number of runs inserted. If any
// sample's (taxon id, production name) pair resolves no strain the whole
// import is rejected with a zero count and no rows.
func (im *Importer) ImportPrivateStudy(descriptor *PrivateStudy) (int, error) {
	strains := make(map[string]uint, len(descriptor.Samples))
	for _, sample := range descriptor.Samples {
		strain, ok := im.species.MatchProduction(sample.TaxonId, sample.ProductionName)
		if !ok {
			slog.Warn("private study rejected: unresolved species",
				"sample_name", sample.SampleName, "taxon_id", sample.TaxonId,
				"production_name", sample.ProductionName)
			im.logOperation("warning", "import_private",
				fmt.Sprintf("rejected %q: no strain for sample %s", descriptor.Title, sample.SampleName))
			return 0, nil
		}
		strains[sample.SampleName] = strain.Id
	}

	inserted := 0
	err := im.db.Transaction(func(txn *gorm.DB) error {
		now := time.Now().UTC()

		study := schema.Study{
			Title:    descriptor.Title,
			Abstract: descriptor.Abstract,
			Status:   schema.Active,
			Date:     now,
		}
		if err := txn.Create(&study).Error; err != nil {
			slog.Error("sql error creating private study", "error", err)
			return schema.ErrDbAccessFailed
		}
		if _, err := setPrivateAcc(txn, &schema.Study{}, study.Id, descriptor.Accession, accession.PrivateStudyPrefix); err != nil {
			return err
		}

		sampleIds := make(map[string]uint, len(descriptor.Samples))
		trackedSamples := make(map[string]bool, len(descriptor.Samples))
		for _, record := range descriptor.Samples {
			strainId := strains[record.SampleName]
			sample := schema.Sample{
				Title:       record.Title,
				Description: record.Description,
				Label:       record.SampleName,
				TaxonId:     record.TaxonId,
				StrainId:    &strainId,
				Status:      schema.Active,
				Date:        now,
			}
			if err := txn.Create(&sample).Error; err != nil {
				slog.Error("sql error creating private sample", "sample_name", record.SampleName, "error", err)
				return schema.ErrDbAccessFailed
			}
			if _, err := setPrivateAcc(txn, &schema.Sample{}, sample.Id, record.Accession, accession.PrivateSamplePrefix); err != nil {
				return err
			}
			sampleIds[record.SampleName] = sample.Id
		}

		for _, record := range descriptor.Experiments {
			experiment := schema.Experiment{
				StudyId: study.Id,
				Title:   record.Title,
				Status:  schema.Active,
				Date:    now,
			}
			if err := txn.Create(&experiment).Error; err != nil {
				slog.Error("sql error creating private experiment", "error", err)
				return schema.ErrDbAccessFailed
			}
			if _, err := setPrivateAcc(txn, &schema.Experiment{}, experiment.Id, record.Accession, accession.PrivateExperimentPrefix); err != nil {
				return err
			}

			for _, runRecord := range record.Runs {
				sampleId, ok := sampleIds[runRecord.SampleName]
				if !ok {
					slog.Warn("private run references unknown sample",
						"sample_name", runRecord.SampleName, "run", runRecord.Title)
					return fmt.Errorf("run %q references unknown sample %q", runRecord.Title, runRecord.SampleName)
				}

				run := schema.Run{
					ExperimentId: experiment.Id,
					SampleId:     sampleId,
					Title:        runRecord.Title,
					Status:       schema.Active,
					Date:         now,
				}
				if err := txn.Create(&run).Error; err != nil {
					slog.Error("sql error creating private run", "error", err)
					return schema.ErrDbAccessFailed
				}
				if _, err := setPrivateAcc(txn, &schema.Run{}, run.Id, runRecord.Accession, accession.PrivateRunPrefix); err != nil {
					return err
				}

				for _, path := range runRecord.Files {
					file := schema.PrivateFile{RunId: run.Id, Path: path}
					if err := txn.Create(&file).Error; err != nil {
						slog.Error("sql error creating private file", "path", path, "error", err)
						return schema.ErrDbAccessFailed
					}
				}

				// First run of each sample drives track creation, matching
				// the public import flow.
				if !trackedSamples[runRecord.SampleName] {
					if _, err := im.tracks.CreateForRunIn(txn, run.Id); err != nil {
						return err
					}
					trackedSamples[runRecord.SampleName] = true
				}
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("imported private study", "title", descriptor.Title, "runs", inserted)
	im.logOperation("info", "import_private",
		fmt.Sprintf("imported private study %q: %d runs", descriptor.Title, inserted))
	return inserted, nil
}
