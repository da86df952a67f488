package boundary

import (
	"testing"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/municipality"
)

func rect(minLon, minLat, maxLon, maxLat float64) orb.Ring {
	return orb.Ring{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}
}

func TestNew_SearchCircleCoversBBox(t *testing.T) {
	mp := orb.MultiPolygon{{rect(5.0, 52.0, 5.2, 52.2)}}
	b, err := New(municipality.Municipality{Name: "Utrecht"}, mp)
	require.NoError(t, err)

	assert.Equal(t, "utrecht", b.Slug)
	assert.InDelta(t, 5.1, b.Center[0], 1e-12)
	assert.InDelta(t, 52.1, b.Center[1], 1e-12)

	corners := []orb.Point{{5.0, 52.0}, {5.2, 52.0}, {5.2, 52.2}, {5.0, 52.2}}
	var farthest float64
	for _, c := range corners {
		d := orbgeo.Distance(b.Center, c)
		assert.LessOrEqual(t, d, b.RadiusM+1e-6)
		farthest = max(farthest, d)
	}
	assert.InDelta(t, farthest, b.RadiusM, 1e-6)
	// Southern corners are farther: a degree of longitude is wider there.
	assert.InDelta(t, orbgeo.Distance(b.Center, corners[0]), b.RadiusM, 1e-6)
}

func TestNew_EmptyGeometry(t *testing.T) {
	_, err := New(municipality.Municipality{Name: "Nergens"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoundary_AreaAndContains(t *testing.T) {
	outer := rect(5.0, 52.0, 5.1, 52.1)
	hole := rect(5.04, 52.04, 5.06, 52.06)
	b, err := New(municipality.Municipality{Name: "Test"}, orb.MultiPolygon{{outer, hole}})
	require.NoError(t, err)

	// 0.1° x 0.1° at 52°N is about 6.85 km x 11.13 km, less a 3.05 km² hole.
	assert.InDelta(t, 73.2, b.AreaKm2(), 0.5)

	assert.True(t, b.Contains(orb.Point{5.0, 52.05}), "outer edge")
	assert.True(t, b.Contains(orb.Point{5.04, 52.05}), "hole edge")
	assert.False(t, b.Contains(orb.Point{5.05, 52.05}), "hole interior")
	assert.False(t, b.Contains(orb.Point{5.2, 52.05}))
}

func TestEWKB_RoundTrip(t *testing.T) {
	mp := orb.MultiPolygon{
		{rect(5.0, 52.0, 5.1, 52.1), rect(5.04, 52.04, 5.06, 52.06)},
		{rect(6.0, 53.0, 6.1, 53.1)},
	}
	data, err := EncodeEWKB(mp)
	require.NoError(t, err)

	got, err := DecodeEWKB(data)
	require.NoError(t, err)
	assert.Equal(t, mp, got)

	_, err = DecodeEWKB([]byte{0x01, 0x02})
	assert.Error(t, err)
}
