// Package bundles groups tracks into display bundles and projects the
// active bundle/track graph into export-ready structures.
package bundles

import (
	"errors"
	"log/slog"
	"time"

	"rnaseqdb/schema"

	"gorm.io/gorm"
)

// ErrNoTracks is returned when a bundle creation request names no tracks.
var ErrNoTracks = errors.New("bundle requires at least one track")

type Manager struct {
	db       *gorm.DB
	keywords KeywordSource
}

func NewManager(db *gorm.DB, keywords KeywordSource) *Manager {
	if keywords == nil {
		keywords = NopKeywordSource{}
	}
	return &Manager{db: db, keywords: keywords}
}

// CreateFromTracks creates a bundle over the given tracks. Duplicate track
// ids are collapsed, so a bundle holds at most one link per track. A bundle
// wrapping exactly one track copies that track's effective title and
// description into its automatic fields. A track already linked to an active
// bundle is still linked, with a warning: one-active-bundle-per-track is a
// policy, not a constraint.
func (m *Manager) CreateFromTracks(trackIds []uint) (uint, error) {
	distinct := make([]uint, 0, len(trackIds))
	seen := make(map[uint]bool)
	for _, id := range trackIds {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	trackIds = distinct

	if len(trackIds) == 0 {
		slog.Warn("bundle creation aborted: no tracks given")
		return 0, ErrNoTracks
	}

	var bundleId uint
	err := m.db.Transaction(func(txn *gorm.DB) error {
		bundle := schema.Bundle{Status: schema.Active, Date: time.Now().UTC()}

		if len(trackIds) == 1 {
			track, err := schema.GetTrack(trackIds[0], txn)
			if err != nil {
				return err
			}
			title := track.Title()
			description := track.Description()
			bundle.TitleAuto = &title
			bundle.DescriptionAuto = &description
		}

		if err := txn.Create(&bundle).Error; err != nil {
			slog.Error("sql error creating bundle", "error", err)
			return schema.ErrDbAccessFailed
		}

		for _, trackId := range trackIds {
			if _, err := schema.GetTrack(trackId, txn); err != nil {
				return err
			}

			var conflicts int64
			result := txn.Model(&schema.BundleTrack{}).
				Joins("JOIN bundles ON bundles.id = bundle_tracks.bundle_id").
				Where("bundle_tracks.track_id = ?", trackId).
				Where("bundles.status = ?", schema.Active).
				Count(&conflicts)
			if result.Error != nil {
				slog.Error("sql error checking bundle links", "track_id", trackId, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			if conflicts > 0 {
				slog.Warn("track already belongs to an active bundle", "track_id", trackId)
			}

			link := schema.BundleTrack{BundleId: bundle.Id, TrackId: trackId}
			if err := txn.Create(&link).Error; err != nil {
				slog.Error("sql error linking track to bundle",
					"bundle_id", bundle.Id, "track_id", trackId, "error", err)
				return schema.ErrDbAccessFailed
			}
		}

		bundleId = bundle.Id
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("created bundle", "bundle_id", bundleId, "tracks", len(trackIds))
	return bundleId, nil
}

// Merge replaces the given bundles with one new bundle over the union of
// their tracks. Duplicate bundle ids are tolerated; the inputs are retired
// after the new bundle exists, all in one transaction.
func (m *Manager) Merge(bundleIds []uint) (uint, error) {
	distinct := make([]uint, 0, len(bundleIds))
	seen := make(map[uint]bool)
	for _, id := range bundleIds {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}

	var newBundleId uint
	err := m.db.Transaction(func(txn *gorm.DB) error {
		var trackIds []uint
		result := txn.Model(&schema.BundleTrack{}).
			Distinct("track_id").
			Where("bundle_id IN ?", distinct).
			Order("track_id").
			Pluck("track_id", &trackIds)
		if result.Error != nil {
			slog.Error("sql error collecting bundle tracks", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if len(trackIds) == 0 {
			slog.Warn("bundle merge aborted: no tracks behind bundles", "bundles", distinct)
			return ErrNoTracks
		}

		merged := NewManager(txn, m.keywords)
		id, err := merged.CreateFromTracks(trackIds)
		if err != nil {
			return err
		}
		newBundleId = id

		if err := txn.Model(&schema.Bundle{}).
			Where("id IN ?", distinct).
			Update("status", schema.Retired).Error; err != nil {
			slog.Error("sql error retiring merged bundles", "error", err)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("merged bundles", "sources", distinct, "bundle_id", newBundleId)
	return newBundleId, nil
}

// Retire marks the given bundles RETIRED. Idempotent on duplicate or
// already retired ids.
func (m *Manager) Retire(bundleIds []uint) error {
	result := m.db.Model(&schema.Bundle{}).
		Where("id IN ?", bundleIds).
		Update("status", schema.Retired)
	if result.Error != nil {
		slog.Error("sql error retiring bundles", "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	slog.Info("retired bundles", "bundles", bundleIds)
	return nil
}
