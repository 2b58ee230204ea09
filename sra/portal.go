package sra

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultPortalURL = "https://www.ebi.ac.uk/ena/portal/api"

// PortalClient implements Accessor against the ENA portal API.
type PortalClient struct {
	baseURL string
	client  *http.Client
}

func NewPortalClient(baseURL string) *PortalClient {
	if baseURL == "" {
		baseURL = DefaultPortalURL
	}
	return &PortalClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *PortalClient) get(path string, params url.Values, dest interface{}) error {
	resp, err := c.client.Get(c.baseURL + path + "?" + params.Encode())
	if err != nil {
		return fmt.Errorf("portal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portal request returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("error parsing portal response: %w", err)
	}
	return nil
}

func (c *PortalClient) search(result, accField, acc, fields string, dest interface{}) error {
	params := url.Values{}
	params.Set("result", result)
	params.Set("query", fmt.Sprintf(`%s="%s"`, accField, acc))
	params.Set("fields", fields)
	params.Set("format", "json")
	return c.get("/search", params, dest)
}

type portalStudy struct {
	StudyAccession   string `json:"study_accession"`
	StudyTitle       string `json:"study_title"`
	StudyDescription string `json:"study_description"`
	PubmedId         string `json:"pubmed_id"`
}

func (c *PortalClient) Study(acc string) (*StudyRecord, error) {
	var rows []portalStudy
	err := c.search("study", "study_accession", acc,
		"study_accession,study_title,study_description,pubmed_id", &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("study %s not found", acc)
	}

	record := &StudyRecord{
		Accession: rows[0].StudyAccession,
		Title:     rows[0].StudyTitle,
		Abstract:  rows[0].StudyDescription,
	}
	for _, field := range strings.Split(rows[0].PubmedId, ";") {
		if id, err := strconv.Atoi(strings.TrimSpace(field)); err == nil {
			record.PubmedIds = append(record.PubmedIds, id)
		}
	}
	return record, nil
}

type portalExperiment struct {
	ExperimentAccession string `json:"experiment_accession"`
	StudyAccession      string `json:"study_accession"`
	ExperimentTitle     string `json:"experiment_title"`
}

func (c *PortalClient) Experiment(acc string) (*ExperimentRecord, error) {
	var rows []portalExperiment
	err := c.search("read_experiment", "experiment_accession", acc,
		"experiment_accession,study_accession,experiment_title", &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("experiment %s not found", acc)
	}
	return &ExperimentRecord{
		Accession:      rows[0].ExperimentAccession,
		StudyAccession: rows[0].StudyAccession,
		Title:          rows[0].ExperimentTitle,
	}, nil
}

type portalSample struct {
	SampleAccession    string `json:"secondary_sample_accession"`
	SampleTitle        string `json:"sample_title"`
	Description        string `json:"description"`
	TaxId              string `json:"tax_id"`
	Strain             string `json:"strain"`
	SampleAlias        string `json:"sample_alias"`
	BioSampleAccession string `json:"sample_accession"`
}

func (c *PortalClient) Sample(acc string) (*SampleRecord, error) {
	var rows []portalSample
	err := c.search("sample", "secondary_sample_accession", acc,
		"secondary_sample_accession,sample_accession,sample_title,description,tax_id,strain", &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sample %s not found", acc)
	}

	taxId, _ := strconv.Atoi(rows[0].TaxId)
	return &SampleRecord{
		Accession:   rows[0].SampleAccession,
		Title:       rows[0].SampleTitle,
		Description: rows[0].Description,
		TaxonId:     taxId,
		Strain:      rows[0].Strain,
		BioSample:   rows[0].BioSampleAccession,
	}, nil
}

type portalRun struct {
	RunAccession        string `json:"run_accession"`
	ExperimentAccession string `json:"experiment_accession"`
	SampleAccession     string `json:"secondary_sample_accession"`
	RunAlias            string `json:"run_alias"`
}

func (c *PortalClient) Runs(acc string) ([]RunRecord, error) {
	params := url.Values{}
	params.Set("accession", acc)
	params.Set("result", "read_run")
	params.Set("fields", "run_accession,experiment_accession,secondary_sample_accession,run_alias")
	params.Set("format", "json")

	var rows []portalRun
	if err := c.get("/filereport", params, &rows); err != nil {
		return nil, err
	}

	records := make([]RunRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, RunRecord{
			Accession:           row.RunAccession,
			ExperimentAccession: row.ExperimentAccession,
			SampleAccession:     row.SampleAccession,
			Title:               row.RunAlias,
		})
	}
	return records, nil
}
