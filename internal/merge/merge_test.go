package merge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/output"
)

var mergeNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func pt(c model.Carrier, name string, lat, lon float64) model.Location {
	return model.Location{Carrier: c, Name: name, Street: "Markt", Number: "1", Latitude: lat, Longitude: lon, PointType: "parcelShop"}
}

func square(x, y, d float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x, y}, {x + d, y}, {x + d, y + d}, {x, y + d}, {x, y}}}}
}

func writeMunicipality(t *testing.T, dir, name string, locs ...model.Location) {
	t.Helper()
	slug := filepath.Base(name)
	fs := make([]*geojson.Feature, 0, len(locs)+2)
	for _, l := range locs {
		fs = append(fs, output.PointFeature(l))
	}
	fs = append(fs,
		output.BufferFeature(300, square(5, 52, 0.01)),
		output.BoundaryFeature(name, square(4.9, 51.9, 0.2)),
	)
	fc := output.NewCollection(output.Metadata{Gemeente: name, Slug: slug, TotalPoints: len(locs)}, fs...)
	require.NoError(t, output.Write(filepath.Join(dir, output.FileName(slug)), fc))
}

func TestMerge_SharedPointCountedOnce(t *testing.T) {
	dir := t.TempDir()
	shared := pt(model.CarrierDHL, "Primera Centrum", 52.09071, 5.11232)
	writeMunicipality(t, dir, "alpha",
		pt(model.CarrierDHL, "Albert Heijn", 52.08, 5.10), shared)
	writeMunicipality(t, dir, "beta",
		shared, pt(model.CarrierPostNL, "Bruna", 52.11, 5.13))
	writeMunicipality(t, dir, "gamma",
		pt(model.CarrierDPD, "Kiosk", 52.20, 5.30))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte(`{}`), 0o644))

	res, err := Merge(dir, mergeNow, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, res.Processed)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 5, res.InputPoints)
	assert.Len(t, res.Collection.Features, 4)
	assert.LessOrEqual(t, len(res.Collection.Features), res.InputPoints)
	assert.Equal(t, map[model.Carrier]int{model.CarrierDHL: 2, model.CarrierPostNL: 1, model.CarrierDPD: 1}, res.ProviderStats)

	meta, err := output.GetMetadata(res.Collection)
	require.NoError(t, err)
	assert.Equal(t, 4, meta.TotalPoints)
	assert.Equal(t, 3, meta.MunicipalitiesIncluded)
	assert.Equal(t, []string{"DHL", "PostNL", "DPD"}, meta.Providers)
	assert.Equal(t, output.NationalSlug, meta.Slug)

	// 3 boundaries and 3 buffer unions, each tagged with its municipality.
	require.Len(t, res.Boundaries.Features, 6)
	for _, f := range res.Boundaries.Features {
		assert.NotEmpty(t, f.Properties["gemeente"])
	}
	bmeta, err := output.GetMetadata(res.Boundaries)
	require.NoError(t, err)
	assert.Equal(t, 3, bmeta.BoundariesCount)
}

func TestMerge_CorruptFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeMunicipality(t, dir, "alpha", pt(model.CarrierDHL, "Albert Heijn", 52.08, 5.10))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.geojson"), []byte(`{"type":"FeatureCollection","features":[`), 0o644))

	res, err := Merge(dir, mergeNow, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, res.Processed)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "broken.geojson", res.Skipped[0].File)

	meta, err := output.GetMetadata(res.Collection)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, meta.MunicipalitiesSkipped)
}

func TestMerge_IgnoresPreviousNationalFiles(t *testing.T) {
	dir := t.TempDir()
	writeMunicipality(t, dir, "alpha", pt(model.CarrierDHL, "Albert Heijn", 52.08, 5.10))

	first, err := Merge(dir, mergeNow, Options{})
	require.NoError(t, err)
	require.NoError(t, Write(dir, first))
	assert.FileExists(t, filepath.Join(dir, output.NationalFile))
	assert.FileExists(t, filepath.Join(dir, output.BoundariesFile))

	second, err := Merge(dir, mergeNow, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, second.Processed)
	assert.Equal(t, 1, second.InputPoints)
}

func TestMerge_EmptyDir(t *testing.T) {
	_, err := Merge(t.TempDir(), mergeNow, Options{})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestMerge_ListedMunicipalityWithoutFile(t *testing.T) {
	dir := t.TempDir()
	writeMunicipality(t, dir, "alpha", pt(model.CarrierDHL, "Albert Heijn", 52.08, 5.10))
	writeMunicipality(t, dir, "beta", pt(model.CarrierPostNL, "Bruna", 52.11, 5.13))

	res, err := Merge(dir, mergeNow, Options{Expected: []string{"alpha", "beta", "gamma"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, res.Processed)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, Skipped{File: "gamma.geojson", Reason: ReasonMissing}, res.Skipped[0])

	meta, err := output.GetMetadata(res.Collection)
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, meta.MunicipalitiesSkipped)
	assert.Equal(t, 2, meta.MunicipalitiesIncluded)
}

func TestMerge_StaleFilesAreMergedAndListed(t *testing.T) {
	dir := t.TempDir()
	write := func(slug string, generated time.Time, l model.Location) {
		fc := output.NewCollection(output.Metadata{Gemeente: slug, Slug: slug, GeneratedAt: generated, TotalPoints: 1},
			output.PointFeature(l))
		require.NoError(t, output.Write(filepath.Join(dir, output.FileName(slug)), fc))
	}
	lastRun := mergeNow.Add(-time.Hour)
	write("alpha", lastRun.Add(10*time.Minute), pt(model.CarrierDHL, "Albert Heijn", 52.08, 5.10))
	write("beta", lastRun.Add(-7*24*time.Hour), pt(model.CarrierPostNL, "Bruna", 52.11, 5.13))

	res, err := Merge(dir, mergeNow, Options{StaleBefore: lastRun})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, res.Processed)
	assert.Equal(t, []string{"beta"}, res.Stale)
	assert.Empty(t, res.Skipped)
	assert.Len(t, res.Collection.Features, 2)
}

func TestMerge_OnlyMissingFilesIsNoInput(t *testing.T) {
	_, err := Merge(t.TempDir(), mergeNow, Options{Expected: []string{"alpha"}})
	assert.ErrorIs(t, err, ErrNoInput)
}
