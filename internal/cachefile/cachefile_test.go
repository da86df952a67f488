package cachefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/gridfetch"
	"github.com/geodekking/pakketpunten/internal/model"
)

func shop(name string, lat, lon float64) model.Location {
	return model.Location{Carrier: model.CarrierDHL, Name: name, Latitude: lat, Longitude: lon, PointType: "parcelShop"}
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "dhl_all_locations.json"), PathFor("data", model.CarrierDHL))
	assert.Equal(t, filepath.Join("data", "dpd_all_locations.json"), PathFor("data", model.CarrierDPD))
}

func TestWriteRead(t *testing.T) {
	path := PathFor(filepath.Join(t.TempDir(), "cache"), model.CarrierDHL)
	in := &File{
		Metadata: Metadata{
			Carrier: model.CarrierDHL,
			Method:  MethodGrid,
			Grid: &GridMetadata{
				SpacingM: 14000, RadiusM: 10000, Cap: 50, MaxDepth: 4,
				Envelope: [4]float64{3.31, 50.75, 7.23, 53.55},
				Stats:    gridfetch.Stats{APICalls: 412, Saturated: 37},
			},
		},
		Locations: []model.Location{shop("Primera Utrecht", 52.0907, 5.1214), shop("Bruna Zwolle", 52.5125, 6.0944)},
	}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Metadata.TotalLocations)
	assert.Equal(t, MethodGrid, out.Metadata.Method)
	assert.False(t, out.Metadata.GeneratedAt.IsZero())
	require.NotNil(t, out.Metadata.Grid)
	assert.Equal(t, 412, out.Metadata.Grid.Stats.APICalls)
	assert.Equal(t, in.Locations, out.Locations)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed")
}

func TestRead_DropsInvalidAndFillsCarrier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dpd_all_locations.json")
	body := `{"metadata":{"carrier":"DPD","method":"nationwide-dump"},"locations":[
		{"locatieNaam":"Pickup Kiosk","latitude":52.37,"longitude":4.89},
		{"locatieNaam":"Lisboa","latitude":38.72,"longitude":-9.14}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	f, err := Read(path)
	require.NoError(t, err)
	require.Len(t, f.Locations, 1)
	assert.Equal(t, model.CarrierDPD, f.Locations[0].Carrier)
}

func TestRead_Malformed(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"locations": [`), 0o644))
	_, err := Read(bad)
	assert.True(t, errors.Is(err, ErrMalformed))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"metadata":{}}`), 0o644))
	_, err = Read(empty)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = Read(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	f := &File{Metadata: Metadata{GeneratedAt: now.Add(-3 * time.Hour)}}
	assert.Equal(t, 3*time.Hour, f.Age(now))
}
