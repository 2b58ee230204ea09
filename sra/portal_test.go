package sra

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakePortal(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("result") {
		case "study":
			fmt.Fprint(w, `[{
				"study_accession": "SRP009679",
				"study_title": "Anopheles transcriptome",
				"study_description": "RNA-seq of adults.",
				"pubmed_id": "22574737; 23071825"
			}]`)
		case "read_experiment":
			fmt.Fprint(w, `[{
				"experiment_accession": "SRX10001",
				"study_accession": "SRP009679",
				"experiment_title": "female library"
			}]`)
		case "sample":
			fmt.Fprint(w, `[{
				"secondary_sample_accession": "SRS10001",
				"sample_accession": "SAMN00000001",
				"sample_title": "adult female",
				"description": "whole body",
				"tax_id": "7165",
				"strain": "Kisumu"
			}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	})

	mux.HandleFunc("/filereport", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "SRP009679", r.URL.Query().Get("accession"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"run_accession": "SRR100001", "experiment_accession": "SRX10001",
			 "secondary_sample_accession": "SRS10001", "run_alias": "rep 1"},
			{"run_accession": "SRR100002", "experiment_accession": "SRX10001",
			 "secondary_sample_accession": "SRS10001", "run_alias": "rep 2"}
		]`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestPortalStudy(t *testing.T) {
	client := NewPortalClient(newFakePortal(t).URL)

	record, err := client.Study("SRP009679")
	require.NoError(t, err)
	assert.Equal(t, "SRP009679", record.Accession)
	assert.Equal(t, "Anopheles transcriptome", record.Title)
	assert.Equal(t, "RNA-seq of adults.", record.Abstract)
	assert.Equal(t, []int{22574737, 23071825}, record.PubmedIds)
}

func TestPortalExperiment(t *testing.T) {
	client := NewPortalClient(newFakePortal(t).URL)

	record, err := client.Experiment("SRX10001")
	require.NoError(t, err)
	assert.Equal(t, "SRX10001", record.Accession)
	assert.Equal(t, "SRP009679", record.StudyAccession)
	assert.Equal(t, "female library", record.Title)
}

func TestPortalSample(t *testing.T) {
	client := NewPortalClient(newFakePortal(t).URL)

	record, err := client.Sample("SRS10001")
	require.NoError(t, err)
	assert.Equal(t, "SRS10001", record.Accession)
	assert.Equal(t, "SAMN00000001", record.BioSample)
	assert.Equal(t, 7165, record.TaxonId)
	assert.Equal(t, "Kisumu", record.Strain)
}

func TestPortalRuns(t *testing.T) {
	client := NewPortalClient(newFakePortal(t).URL)

	records, err := client.Runs("SRP009679")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "SRR100001", records[0].Accession)
	assert.Equal(t, "SRX10001", records[0].ExperimentAccession)
	assert.Equal(t, "SRS10001", records[0].SampleAccession)
	assert.Equal(t, "rep 1", records[0].Title)
}

func TestPortalErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	client := NewPortalClient(server.URL)
	_, err := client.Study("SRP009679")
	require.Error(t, err)

	_, err = client.Runs("SRP009679")
	require.Error(t, err)
}
