// Package sra resolves public archive accessions into database rows and
// imports private submissions.
package sra

// Records returned by the external metadata accessor. Fields mirror the
// archive's report columns; anything the archive leaves blank stays zero.

type StudyRecord struct {
	Accession string
	Title     string
	Abstract  string
	PubmedIds []int
}

type ExperimentRecord struct {
	Accession      string
	StudyAccession string
	Title          string
}

type RunRecord struct {
	Accession           string
	ExperimentAccession string
	SampleAccession     string
	Title               string
}

type SampleRecord struct {
	Accession   string
	Title       string
	Description string
	TaxonId     int
	Strain      string
	BioSample   string
}

// Accessor is the external SRA metadata client. Runs expands any container
// accession (study, experiment, sample) to its constituent run records; a
// run accession yields itself. Any failure, not-found or transient, is
// treated by callers uniformly as "no data".
type Accessor interface {
	Study(acc string) (*StudyRecord, error)
	Experiment(acc string) (*ExperimentRecord, error)
	Sample(acc string) (*SampleRecord, error)
	Runs(acc string) ([]RunRecord, error)
}
