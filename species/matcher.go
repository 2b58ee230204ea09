// Package species resolves imported sample metadata to rows of the internal
// strain reference table.
package species

import (
	"log/slog"
	"sort"
	"strings"

	"rnaseqdb/schema"

	"gorm.io/gorm"
)

// Matcher caches the strain reference table keyed by taxon id. The cache is
// populated lazily on first use and can be rebuilt with Reload.
type Matcher struct {
	db      *gorm.DB
	byTaxon map[int][]schema.Strain
}

func NewMatcher(db *gorm.DB) *Matcher {
	return &Matcher{db: db}
}

func (m *Matcher) load() error {
	if m.byTaxon != nil {
		return nil
	}
	return m.Reload()
}

// Reload discards the cache and repopulates it from the strain table.
func (m *Matcher) Reload() error {
	var strains []schema.Strain
	result := m.db.Order("id").Find(&strains)
	if result.Error != nil {
		slog.Error("sql error loading strain table", "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	byTaxon := make(map[int][]schema.Strain)
	for _, strain := range strains {
		byTaxon[strain.TaxonId] = append(byTaxon[strain.TaxonId], strain)
	}
	m.byTaxon = byTaxon
	return nil
}

// Match resolves a (taxon id, strain name) pair from sample metadata to a
// strain row. Resolution is exact match first, then unique substring match,
// then a taxon-level fallback that accepts when the taxon maps to a single
// strain id. Matching deliberately over-accepts: ambiguity is logged, not
// fatal. The second return value is false only when no strain can be chosen
// at all.
func (m *Matcher) Match(taxonId int, strainName string) (schema.Strain, bool) {
	if err := m.load(); err != nil {
		return schema.Strain{}, false
	}

	candidates := m.byTaxon[taxonId]
	if len(candidates) == 0 {
		slog.Warn("no strains known for taxon", "taxon_id", taxonId, "strain", strainName)
		return schema.Strain{}, false
	}

	for _, strain := range candidates {
		if strings.EqualFold(strain.Name, strainName) {
			return strain, true
		}
	}

	var substrMatches []schema.Strain
	lowered := strings.ToLower(strainName)
	for _, strain := range candidates {
		if strain.Name != "" && strings.Contains(lowered, strings.ToLower(strain.Name)) {
			substrMatches = append(substrMatches, strain)
		}
	}
	if len(substrMatches) == 1 {
		slog.Info("automatic strain match by substring",
			"taxon_id", taxonId, "strain", strainName, "matched", substrMatches[0].Name)
		return substrMatches[0], true
	}

	// Taxon-level fallback: collapse all variants to distinct strain ids.
	distinct := make(map[uint]schema.Strain)
	for _, strain := range candidates {
		distinct[strain.Id] = strain
	}
	ids := make([]uint, 0, len(distinct))
	for id := range distinct {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 1 {
		slog.Info("taxon-level strain match",
			"taxon_id", taxonId, "strain", strainName, "matched", distinct[ids[0]].Name)
		return distinct[ids[0]], true
	}

	slog.Warn("ambiguous strain match, picking first by strain id",
		"taxon_id", taxonId, "strain", strainName, "candidates", len(ids))
	return distinct[ids[0]], true
}

// MatchProduction resolves a (taxon id, production name) pair exactly. Used
// by the private submission path, which names species by production name
// rather than free-text strain strings.
func (m *Matcher) MatchProduction(taxonId int, productionName string) (schema.Strain, bool) {
	if err := m.load(); err != nil {
		return schema.Strain{}, false
	}
	for _, strain := range m.byTaxon[taxonId] {
		if strain.ProductionName == productionName {
			return strain, true
		}
	}
	slog.Warn("no strain for taxon and production name",
		"taxon_id", taxonId, "production_name", productionName)
	return schema.Strain{}, false
}
