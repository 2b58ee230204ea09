package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"rnaseqdb/schema"
	"rnaseqdb/sra"
	"rnaseqdb/tracks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.All()...))
	return db
}

type stubAccessor struct {
	runs map[string][]sra.RunRecord

	studies     map[string]sra.StudyRecord
	experiments map[string]sra.ExperimentRecord
	samples     map[string]sra.SampleRecord
}

func (s *stubAccessor) Study(acc string) (*sra.StudyRecord, error) {
	if record, ok := s.studies[acc]; ok {
		return &record, nil
	}
	return nil, errors.New("not found")
}

func (s *stubAccessor) Experiment(acc string) (*sra.ExperimentRecord, error) {
	if record, ok := s.experiments[acc]; ok {
		return &record, nil
	}
	return nil, errors.New("not found")
}

func (s *stubAccessor) Sample(acc string) (*sra.SampleRecord, error) {
	if record, ok := s.samples[acc]; ok {
		return &record, nil
	}
	return nil, errors.New("not found")
}

func (s *stubAccessor) Runs(acc string) ([]sra.RunRecord, error) {
	if records, ok := s.runs[acc]; ok {
		return records, nil
	}
	return nil, errors.New("not found")
}

func testAccessor() *stubAccessor {
	run := sra.RunRecord{
		Accession: "SRR500001", ExperimentAccession: "SRX50001", SampleAccession: "SRS50001", Title: "rep 1",
	}
	return &stubAccessor{
		runs: map[string][]sra.RunRecord{"SRP500001": {run}, "SRR500001": {run}},
		studies: map[string]sra.StudyRecord{
			"SRP500001": {Accession: "SRP500001", Title: "test study"},
		},
		experiments: map[string]sra.ExperimentRecord{
			"SRX50001": {Accession: "SRX50001", StudyAccession: "SRP500001", Title: "library"},
		},
		samples: map[string]sra.SampleRecord{
			"SRS50001": {Accession: "SRS50001", Title: "sample", TaxonId: 7165, Strain: "Kisumu"},
		},
	}
}

func newTestServer(t *testing.T, tokenHash []byte) (*httptest.Server, *gorm.DB) {
	db := setupTestDb(t)
	require.NoError(t, db.Create(&schema.Strain{
		TaxonId: 7165, Name: "Kisumu", ProductionName: "anopheles_gambiae",
		Species: "Anopheles gambiae", Assembly: "AgamP4",
	}).Error)

	engine := NewRNAseqDB(db, testAccessor(), tracks.NopNodeSink{}, tokenHash)
	server := httptest.NewServer(engine.Routes())
	t.Cleanup(server.Close)
	return server, db
}

func postJson(t *testing.T, url string, body interface{}) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return res
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil)

	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestTokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	server, _ := newTestServer(t, hash)

	body := bytes.NewReader([]byte(`{"accession": "SRR500001"}`))
	res, err := http.Post(server.URL+"/import/accession", "application/json", body)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/import/accession",
		bytes.NewReader([]byte(`{"accession": "SRR500001"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-token")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	req, err = http.NewRequest(http.MethodPost, server.URL+"/import/accession",
		bytes.NewReader([]byte(`{"accession": "SRR500001"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer letmein")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// Health and metrics stay open.
	res, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestImportAccessionEndpoint(t *testing.T) {
	server, db := newTestServer(t, nil)

	res := postJson(t, server.URL+"/import/accession", map[string]string{"accession": "SRP500001"})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var response struct {
		Imported int `json:"imported"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&response))
	assert.Equal(t, 1, response.Imported)

	var runs int64
	require.NoError(t, db.Model(&schema.Run{}).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)
}

func TestImportAccessionRequiresAccession(t *testing.T) {
	server, _ := newTestServer(t, nil)

	res := postJson(t, server.URL+"/import/accession", map[string]string{})
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestTrackMergeEndpointRejectsSingleTrack(t *testing.T) {
	server, _ := newTestServer(t, nil)

	res := postJson(t, server.URL+"/import/accession", map[string]string{"accession": "SRR500001"})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = postJson(t, server.URL+"/track/merge", map[string][]string{"accessions": {"SRR500001"}})
	res.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestBundleLifecycleEndpoints(t *testing.T) {
	server, db := newTestServer(t, nil)

	res := postJson(t, server.URL+"/import/accession", map[string]string{"accession": "SRP500001"})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var track schema.Track
	require.NoError(t, db.First(&track).Error)

	res = postJson(t, server.URL+"/bundle/", map[string][]uint{"track_ids": {track.Id}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var created struct {
		BundleId uint `json:"bundle_id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	res.Body.Close()
	require.NotZero(t, created.BundleId)

	res, err := http.Get(server.URL + "/bundle/list")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var listed []struct {
		BundleId uint   `json:"bundle_id"`
		Species  string `json:"species"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&listed))
	res.Body.Close()
	require.Len(t, listed, 1)
	assert.Equal(t, created.BundleId, listed[0].BundleId)
	assert.Equal(t, "Anopheles gambiae", listed[0].Species)

	res = postJson(t, server.URL+"/bundle/retire", map[string][]uint{"bundle_ids": {created.BundleId}})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(server.URL + "/bundle/list")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&listed))
	res.Body.Close()
	assert.Empty(t, listed)
}

func TestExportEndpoints(t *testing.T) {
	server, db := newTestServer(t, nil)

	res := postJson(t, server.URL+"/import/accession", map[string]string{"accession": "SRP500001"})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var track schema.Track
	require.NoError(t, db.First(&track).Error)
	require.NoError(t, db.Create(&schema.File{
		TrackId: track.Id, Path: "agam/track.bw", Type: schema.FileBigwig,
	}).Error)

	res = postJson(t, server.URL+"/bundle/", map[string][]uint{"track_ids": {track.Id}})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err := http.Get(server.URL + "/export/hubs?files_dir=https://files.example.org")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var hubs []struct {
		Id      string `json:"id"`
		Genomes []struct {
			Assembly string `json:"assembly"`
		} `json:"genomes"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&hubs))
	res.Body.Close()
	require.Len(t, hubs, 1)
	assert.Equal(t, "AgamP4", hubs[0].Genomes[0].Assembly)

	res, err = http.Get(server.URL + "/export/solr")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var docs []struct {
		Id       string `json:"id"`
		Children []struct {
			Id string `json:"id"`
		} `json:"_childDocuments_"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&docs))
	res.Body.Close()
	require.Len(t, docs, 1)
	require.Len(t, docs[0].Children, 1)
	assert.Equal(t, fmt.Sprintf("track_%d", track.Id), docs[0].Children[0].Id)

	res, err = http.Get(server.URL + "/export/files")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var files []struct {
		Study         string `json:"study"`
		AccessionType string `json:"accession_type"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&files))
	res.Body.Close()
	require.Len(t, files, 1)
	assert.Equal(t, "SRP500001", files[0].Study)
	assert.Equal(t, "SRA_study", files[0].AccessionType)
}
