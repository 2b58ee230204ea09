package bundles

import (
	"log/slog"

	"rnaseqdb/schema"

	"gorm.io/gorm"
)

// KeywordSource supplies the controlled-vocabulary terms attached to a
// track, grouped by category.
type KeywordSource interface {
	KeywordsForTrack(trackId uint) (map[string][]string, error)
}

// VocabularyStore is the database-backed keyword source.
type VocabularyStore struct {
	db *gorm.DB
}

func NewVocabularyStore(db *gorm.DB) *VocabularyStore {
	return &VocabularyStore{db: db}
}

func (v *VocabularyStore) KeywordsForTrack(trackId uint) (map[string][]string, error) {
	var links []schema.TrackVocabulary
	result := v.db.Preload("Vocabulary").
		Where("track_id = ?", trackId).
		Order("vocabulary_id").
		Find(&links)
	if result.Error != nil {
		slog.Error("sql error loading track vocabulary", "track_id", trackId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	keywords := make(map[string][]string)
	for _, link := range links {
		if link.Vocabulary == nil {
			continue
		}
		keywords[link.Vocabulary.Category] = append(keywords[link.Vocabulary.Category], link.Vocabulary.Term)
	}
	return keywords, nil
}

// NopKeywordSource is used when no vocabulary table is attached.
type NopKeywordSource struct{}

func (NopKeywordSource) KeywordsForTrack(uint) (map[string][]string, error) {
	return map[string][]string{}, nil
}
