package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourcesTemplate = `sources:
  - name: MPW Projects
    url: %[1]s/mpw_projects.csv
    tag: MPW Projects
    date_layout: "2006-01-02"
    fields:
      name: PROJECT NAME
      description: WebsiteDesc
      latitude: latitude
      longitude: longitude
      date: date
  - name: DHEC Permits
    url: %[1]s/dhec_permits.csv
    tag: DHEC Permits
    date_layout: "2006-01-02"
    fields:
      name: siteName
      description: siteProfileUrl
      latitude: latitude
      longitude: longitude
      date: date
  - name: Town Stormwater
    url: %[1]s/stormwater.csv
    tag: Town Stormwater
    date_layout: "2006-01-02"
    fields:
      name: ProjectName
      description: URL
      latitude: latitude
      longitude: longitude
      date: date
`

func setupSources(t *testing.T) string {
	t.Helper()
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("MAPBOX_TOKEN", "")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("FETCH_RETRIES", "0")

	srv := httptest.NewServer(http.FileServer(http.Dir(filepath.Join("..", "..", "data", "mock"))))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(sourcesTemplate, srv.URL)), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestSnapshot_CSVToFile(t *testing.T) {
	sources := setupSources(t)
	outPath := filepath.Join(t.TempDir(), "projects.csv")

	_, stderr, err := execute(t, "--sources", sources, "--out", outPath)
	require.NoError(t, err)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 5, "header plus two MPW and two DHEC rows")
	assert.Equal(t, "Water Main Replacement - Coleman Blvd", rows[1][1])
	assert.Equal(t, "Mount Pleasant Waterworks", rows[4][1])

	assert.Contains(t, stderr, "warning: fetch Town Stormwater: status 404")
	assert.Contains(t, stderr, "warning: MPW Projects: 1 rows with unparsable dates dropped")
}

func TestSnapshot_JSONSingleSource(t *testing.T) {
	sources := setupSources(t)

	stdout, _, err := execute(t, "--sources", sources, "--format", "json", "--source", "DHEC Permits")
	require.NoError(t, err)

	var records []struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Patriots Point Marina", records[0].Name)
	assert.Equal(t, "DHEC Permits", records[1].Source)
}

func TestSnapshot_AllSourcesFailed(t *testing.T) {
	sources := setupSources(t)

	_, stderr, err := execute(t, "--sources", sources, "--source", "Town Stormwater")
	require.ErrorIs(t, err, errAllFailed)
	assert.Contains(t, stderr, "status 404")
}

func TestSnapshot_BadFlags(t *testing.T) {
	_, _, err := execute(t, "--format", "xlsx")
	assert.ErrorContains(t, err, "unknown output format")

	sources := setupSources(t)
	_, _, err = execute(t, "--sources", sources, "--catalog", "parks")
	assert.ErrorContains(t, err, `catalog "parks" has no sources`)
}
