package schema

import (
	"time"

	"github.com/google/uuid"
)

// Row status values. RETIRED and MERGED are terminal.
const (
	Active  = "ACTIVE"
	Retired = "RETIRED"
	Merged  = "MERGED"
)

// Merge levels, from coarsest to finest granularity.
const (
	MergeTaxon      = "taxon"
	MergeStudy      = "study"
	MergeExperiment = "experiment"
	MergeRun        = "run"
	MergeSample     = "sample"
)

// File types for generated artifacts.
const (
	FileBigwig = "bigwig"
	FileBam    = "bam"
	FileBai    = "bai"
	FileFastq  = "fastq"
)

type Study struct {
	Id uint `gorm:"primaryKey"`

	SraAcc     *string `gorm:"uniqueIndex;size:32"`
	PrivateAcc *string `gorm:"uniqueIndex;size:32"`
	Metasum    *string `gorm:"uniqueIndex;size:64"`

	Title    string
	Abstract string

	Status string `gorm:"size:16;not null;default:'ACTIVE'"`
	Date   time.Time

	Experiments []Experiment
}

type Experiment struct {
	Id uint `gorm:"primaryKey"`

	StudyId uint `gorm:"not null;index"`
	Study   *Study

	SraAcc     *string `gorm:"uniqueIndex;size:32"`
	PrivateAcc *string `gorm:"uniqueIndex;size:32"`
	Metasum    *string `gorm:"uniqueIndex;size:64"`

	Title string

	Status string `gorm:"size:16;not null;default:'ACTIVE'"`
	Date   time.Time

	Runs []Run
}

type Run struct {
	Id uint `gorm:"primaryKey"`

	ExperimentId uint `gorm:"not null;index"`
	Experiment   *Experiment

	SampleId uint `gorm:"not null;index"`
	Sample   *Sample

	SraAcc     *string `gorm:"uniqueIndex;size:32"`
	PrivateAcc *string `gorm:"uniqueIndex;size:32"`
	Metasum    *string `gorm:"uniqueIndex;size:64"`

	Title string

	Status string `gorm:"size:16;not null;default:'ACTIVE'"`
	Date   time.Time

	PrivateFiles []PrivateFile
}

type Sample struct {
	Id uint `gorm:"primaryKey"`

	SraAcc     *string `gorm:"uniqueIndex;size:32"`
	PrivateAcc *string `gorm:"uniqueIndex;size:32"`
	Metasum    *string `gorm:"uniqueIndex;size:64"`

	Title       string
	Description string
	Label       string

	TaxonId   int `gorm:"index"`
	StrainId  *uint
	Strain    *Strain
	BioSample string `gorm:"size:32"`

	Status string `gorm:"size:16;not null;default:'ACTIVE'"`
	Date   time.Time

	Runs []Run
}

// Strain is the species/strain reference table. It is populated externally
// and read-only to this service.
type Strain struct {
	Id uint `gorm:"primaryKey"`

	TaxonId        int    `gorm:"not null;index"`
	Name           string `gorm:"size:128;not null"`
	ProductionName string `gorm:"size:128;not null;index"`
	Species        string `gorm:"size:128"`
	Assembly       string `gorm:"size:64"`
}

type Track struct {
	Id uint `gorm:"primaryKey"`

	TitleManual       *string
	TitleAuto         *string
	DescriptionManual *string
	DescriptionAuto   *string

	MergeLevel *string `gorm:"size:16"`
	MergeId    *string `gorm:"size:512;index"`
	MergeText  *string

	Status string `gorm:"size:16;not null;default:'ACTIVE'"`
	Date   time.Time

	Files    []File     `gorm:"constraint:OnDelete:CASCADE"`
	Analyses []Analysis `gorm:"constraint:OnDelete:CASCADE"`
}

// Title returns the manual title if set, else the automatic one.
func (t *Track) Title() string {
	if t.TitleManual != nil && *t.TitleManual != "" {
		return *t.TitleManual
	}
	if t.TitleAuto != nil {
		return *t.TitleAuto
	}
	return ""
}

// Description returns the manual description if set, else the automatic one.
func (t *Track) Description() string {
	if t.DescriptionManual != nil && *t.DescriptionManual != "" {
		return *t.DescriptionManual
	}
	if t.DescriptionAuto != nil {
		return *t.DescriptionAuto
	}
	return ""
}

type SraTrack struct {
	RunId   uint `gorm:"primaryKey"`
	TrackId uint `gorm:"primaryKey"`

	Run   *Run
	Track *Track
}

type Bundle struct {
	Id uint `gorm:"primaryKey"`

	TitleManual       *string
	TitleAuto         *string
	DescriptionManual *string
	DescriptionAuto   *string

	// Mirror of the display-layer node maintained by the presentation sink.
	NodeId *uint

	Status string `gorm:"size:16;not null;default:'ACTIVE'"`
	Date   time.Time
}

func (b *Bundle) Title() string {
	if b.TitleManual != nil && *b.TitleManual != "" {
		return *b.TitleManual
	}
	if b.TitleAuto != nil {
		return *b.TitleAuto
	}
	return ""
}

func (b *Bundle) Description() string {
	if b.DescriptionManual != nil && *b.DescriptionManual != "" {
		return *b.DescriptionManual
	}
	if b.DescriptionAuto != nil {
		return *b.DescriptionAuto
	}
	return ""
}

type BundleTrack struct {
	BundleId uint `gorm:"primaryKey"`
	TrackId  uint `gorm:"primaryKey"`

	Bundle *Bundle
	Track  *Track
}

// File is a generated artifact (bigwig/bam/bai/fastq) attached to a track.
type File struct {
	Id uint `gorm:"primaryKey"`

	TrackId uint   `gorm:"not null;index"`
	Path    string `gorm:"not null"`
	Type    string `gorm:"size:16;not null"`
	Md5     string `gorm:"size:32"`
}

// PrivateFile is a submitted artifact attached to a run before any track
// exists for it.
type PrivateFile struct {
	Id uint `gorm:"primaryKey"`

	RunId uint   `gorm:"not null;index"`
	Path  string `gorm:"not null"`
	Md5   string `gorm:"size:32"`
}

// Analysis records the command that produced a track's files. Category is
// used for aligner detection in exports.
type Analysis struct {
	Id uint `gorm:"primaryKey"`

	TrackId  uint   `gorm:"not null;index"`
	Program  string `gorm:"size:128;not null"`
	Command  string
	Category string `gorm:"size:32"`
}

type Publication struct {
	Id uint `gorm:"primaryKey"`

	PubmedId int `gorm:"uniqueIndex"`
	Title    string
	Authors  string
	Abstract string
	Year     int
}

type StudyPublication struct {
	StudyId       uint `gorm:"primaryKey"`
	PublicationId uint `gorm:"primaryKey"`
}

// Vocabulary terms attached to tracks, surfaced as keyword lists in exports.
type Vocabulary struct {
	Id uint `gorm:"primaryKey"`

	Category string `gorm:"size:64;not null;index"`
	Term     string `gorm:"size:128;not null"`
}

type TrackVocabulary struct {
	TrackId      uint `gorm:"primaryKey"`
	VocabularyId uint `gorm:"primaryKey"`

	Vocabulary *Vocabulary
}

// OperationLog records the outcome of import/merge/inactivation operations.
type OperationLog struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Operation string    `gorm:"size:64;not null"`
	Level     string    `gorm:"size:16;not null"`
	Message   string
	Date      time.Time
}

// All lists every model for AutoMigrate and the migration runner.
func All() []interface{} {
	return []interface{}{
		&Study{}, &Experiment{}, &Run{}, &Sample{}, &Strain{},
		&Track{}, &SraTrack{}, &Bundle{}, &BundleTrack{},
		&File{}, &PrivateFile{}, &Analysis{},
		&Publication{}, &StudyPublication{},
		&Vocabulary{}, &TrackVocabulary{}, &OperationLog{},
	}
}
