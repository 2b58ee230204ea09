// Package accession classifies SRA and private accession strings.
package accession

import (
	"log/slog"
	"regexp"
	"strings"
)

type Kind string

const (
	KindStudy      Kind = "study"
	KindExperiment Kind = "experiment"
	KindRun        Kind = "run"
	KindSample     Kind = "sample"
	KindUnknown    Kind = "unknown"
)

// Private accessions are synthesized as <prefix><numeric row id>.
const (
	PrivateStudyPrefix      = "VBSRP"
	PrivateExperimentPrefix = "VBSRX"
	PrivateRunPrefix        = "VBSRR"
	PrivateSamplePrefix     = "VBSRS"
)

type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Order matters: private prefixes are checked before the public regexes, and
// study before experiment before run before sample, so that overlapping
// prefixes always resolve to the same kind.
var privatePrefixes = []struct {
	kind   Kind
	prefix string
}{
	{KindStudy, PrivateStudyPrefix},
	{KindExperiment, PrivateExperimentPrefix},
	{KindRun, PrivateRunPrefix},
	{KindSample, PrivateSamplePrefix},
}

var publicPatterns = []pattern{
	{KindStudy, regexp.MustCompile(`^[SED]RP\d+$`)},
	{KindExperiment, regexp.MustCompile(`^[SED]RX\d+$`)},
	{KindRun, regexp.MustCompile(`^[SED]RR\d+$`)},
	{KindSample, regexp.MustCompile(`^[SED]RS\d+$`)},
}

// Classify maps an accession string to its entity kind. Unrecognized strings
// yield KindUnknown with a logged warning; Classify never fails.
func Classify(acc string) Kind {
	for _, p := range privatePrefixes {
		if strings.HasPrefix(acc, p.prefix) {
			return p.kind
		}
	}
	for _, p := range publicPatterns {
		if p.re.MatchString(acc) {
			return p.kind
		}
	}
	slog.Warn("accession not recognized", "accession", acc)
	return KindUnknown
}

// IsPrivate reports whether the accession carries one of the private
// prefixes.
func IsPrivate(acc string) bool {
	for _, p := range privatePrefixes {
		if strings.HasPrefix(acc, p.prefix) {
			return true
		}
	}
	return false
}

// ArchiveTag maps a study accession to the archive-type tag used by the
// search-index export. The archive is inferred from the first character:
// V for private submissions, E for ENA, D for DDBJ, anything else SRA.
func ArchiveTag(studyAcc string) string {
	if studyAcc == "" {
		return "SRA_study"
	}
	switch studyAcc[0] {
	case 'V':
		return "VB_study"
	case 'E':
		return "ERA_study"
	case 'D':
		return "DRA_study"
	default:
		return "SRA_study"
	}
}
