package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/metrics"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/output"
)

var testList = []municipality.Municipality{
	{Name: "Utrecht", Slug: "utrecht", Code: "0344"},
	{Name: "'s-Hertogenbosch", Slug: "s-hertogenbosch", Code: "0796"},
}

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Metrics, string) {
	t.Helper()
	dir := t.TempDir()
	fc := output.NewCollection(output.Metadata{Gemeente: "Utrecht", Slug: "utrecht", TotalPoints: 1},
		output.PointFeature(model.Location{Carrier: model.CarrierDHL, Name: "Primera", Latitude: 52.09, Longitude: 5.11}))
	require.NoError(t, output.Write(filepath.Join(dir, "utrecht.geojson"), fc))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte(`{"successful":1}`), 0o644))

	m := metrics.New()
	srv := httptest.NewServer(New(dir, "summary.json", testList, m).Router([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv, m, dir
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMunicipality_BySlugNameAndCode(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, ref := range []string{"utrecht", "Utrecht", "0344", "GM0344"} {
		resp := get(t, srv.URL+"/api/municipalities/"+ref)
		require.Equal(t, http.StatusOK, resp.StatusCode, ref)
		assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

		var fc struct {
			Type     string            `json:"type"`
			Metadata output.Metadata   `json:"metadata"`
			Features []json.RawMessage `json:"features"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&fc))
		assert.Equal(t, "FeatureCollection", fc.Type)
		assert.Equal(t, "utrecht", fc.Metadata.Slug)
		assert.Len(t, fc.Features, 1)
	}
}

func TestMunicipality_UnknownAndNotGenerated(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/municipalities/atlantis").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/municipalities/s-hertogenbosch").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/nederland").StatusCode)
}

func TestListMunicipalities(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := get(t, srv.URL+"/api/municipalities")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count          int                 `json:"count"`
		Municipalities []municipalityEntry `json:"municipalities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 2, body.Count)
	assert.True(t, body.Municipalities[0].Available)
	assert.NotNil(t, body.Municipalities[0].GeneratedAt)
	assert.False(t, body.Municipalities[1].Available)
}

func TestNationalAndSummary(t *testing.T) {
	srv, _, dir := newTestServer(t)
	require.NoError(t, output.Write(filepath.Join(dir, output.NationalFile), output.NewCollection(output.Metadata{Slug: output.NationalSlug})))

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/nederland").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/nederland/boundaries").StatusCode)

	resp := get(t, srv.URL+"/api/summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body["successful"])
}

func TestCORSAndMetrics(t *testing.T) {
	srv, _, dir := newTestServer(t)
	m := metrics.New()
	h := New(dir, "summary.json", testList, m).Router([]string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/api/municipalities/utrecht", nil)
	req.Header.Set("Origin", "https://kaart.example.nl")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/municipalities/{ref}", "200")))

	metricsResp := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
