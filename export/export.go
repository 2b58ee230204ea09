// Package export projects the active bundle/track graph into track-hub
// object graphs and search-index file documents. It consumes the bundle
// manager's projection exclusively and performs no I/O; the hub file
// generator and index uploader are external collaborators.
package export

import (
	"fmt"

	"rnaseqdb/accession"
	"rnaseqdb/bundles"
)

// Tracks past this position in a supertrack are forced hidden so large
// bundles do not overwhelm the browser display.
const maxVisibleTracks = 10

type HubTrack struct {
	Id         string `json:"id"`
	ShortLabel string `json:"short_label"`
	LongLabel  string `json:"long_label"`
	Type       string `json:"type"`
	Visibility string `json:"visibility"`
	BigDataURL string `json:"big_data_url"`
}

type SuperTrack struct {
	Id         string     `json:"id"`
	ShortLabel string     `json:"short_label"`
	LongLabel  string     `json:"long_label"`
	Tracks     []HubTrack `json:"tracks"`
}

type Genome struct {
	Assembly    string       `json:"assembly"`
	SuperTracks []SuperTrack `json:"super_tracks"`
}

type Hub struct {
	Id          string   `json:"id"`
	ShortLabel  string   `json:"short_label"`
	LongLabel   string   `json:"long_label"`
	Description string   `json:"description"`
	Genomes     []Genome `json:"genomes"`
}

// trackDataFile picks the browser-displayable artifact for a track: the
// first bigwig when present, else the first bam.
func trackDataFile(track bundles.TrackRecord) (bundles.FileRecord, string, bool) {
	for _, file := range track.Files {
		if file.Type == "bigwig" {
			return file, "bigWig", true
		}
	}
	for _, file := range track.Files {
		if file.Type == "bam" {
			return file, "bam", true
		}
	}
	return bundles.FileRecord{}, "", false
}

// BuildHubs produces one hub per bundle: a single genome for the bundle's
// assembly holding one supertrack over the bundle's tracks.
func BuildHubs(records []bundles.BundleRecord) []Hub {
	hubs := make([]Hub, 0, len(records))
	for _, record := range records {
		super := SuperTrack{
			Id:         fmt.Sprintf("bundle_%d", record.BundleId),
			ShortLabel: record.Title,
			LongLabel:  record.Description,
		}

		for _, track := range record.Tracks {
			file, hubType, ok := trackDataFile(track)
			if !ok {
				continue
			}
			visibility := "full"
			if len(super.Tracks) >= maxVisibleTracks {
				visibility = "hide"
			}
			super.Tracks = append(super.Tracks, HubTrack{
				Id:         fmt.Sprintf("track_%d", track.TrackId),
				ShortLabel: track.Title,
				LongLabel:  track.Description,
				Type:       hubType,
				Visibility: visibility,
				BigDataURL: file.URL,
			})
		}

		hubs = append(hubs, Hub{
			Id:          fmt.Sprintf("rnaseq_%d", record.BundleId),
			ShortLabel:  record.Title,
			LongLabel:   record.Description,
			Description: record.Description,
			Genomes: []Genome{{
				Assembly:    record.Assembly,
				SuperTracks: []SuperTrack{super},
			}},
		})
	}
	return hubs
}

// FileDocument is the flattened per-file record uploaded to the search
// index.
type FileDocument struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Type          string `json:"type"`
	TrackId       uint   `json:"track_id"`
	BundleId      uint   `json:"bundle_id"`
	Species       string `json:"species"`
	Assembly      string `json:"assembly"`
	Study         string `json:"study"`
	AccessionType string `json:"accession_type"`
}

// BuildFileDocuments flattens every track file into one search document,
// tagged with the archive type inferred from the track's first study
// accession.
func BuildFileDocuments(records []bundles.BundleRecord) []FileDocument {
	var docs []FileDocument
	for _, record := range records {
		for _, track := range record.Tracks {
			study := ""
			if len(track.Studies) > 0 {
				study = track.Studies[0]
			}
			for i, file := range track.Files {
				docs = append(docs, FileDocument{
					Id:            fmt.Sprintf("track_%d_file_%d", track.TrackId, i),
					Name:          file.Name,
					URL:           file.URL,
					Type:          file.Type,
					TrackId:       track.TrackId,
					BundleId:      record.BundleId,
					Species:       record.Species,
					Assembly:      record.Assembly,
					Study:         study,
					AccessionType: accession.ArchiveTag(study),
				})
			}
		}
	}
	return docs
}
