package carrier

import (
	"context"
	"net/http"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dhlBody = `[
 {"id":"8004-NL-272403","name":"Primera Oudegracht","shopType":"parcelShop",
  "address":{"street":"Oudegracht","number":12,"addition":"A","zipCode":"3511AB","city":"Utrecht"},
  "geoLocation":{"latitude":52.0907,"longitude":5.1214}},
 {"id":"8004-NL-300001","name":"DHL Locker Centraal","shopType":"packStation",
  "address":{"street":"Stationsplein","number":"1"},
  "geoLocation":{"latitude":"52.0894","longitude":"5.1101"}},
 {"id":"8004-NL-999999","name":"Zonder locatie","shopType":"parcelShop","address":{}}
]`

func TestDHL_SearchCircle(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parcel-shop-locations/NL/by-geo", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "52.090000", q.Get("latitude"))
		assert.Equal(t, "5.100000", q.Get("longitude"))
		assert.Equal(t, "9000", q.Get("radius"))
		assert.Equal(t, "50", q.Get("limit"))
		_, _ = w.Write([]byte(dhlBody))
	})

	locs, err := NewDHL(testFetcher(), srv.URL+"/").SearchCircle(context.Background(), orb.Point{5.1, 52.09}, 9000)
	require.NoError(t, err)
	require.Len(t, locs, 2, "shop without coordinates is dropped")

	assert.Equal(t, "Primera Oudegracht", locs[0].Name)
	assert.Equal(t, "Oudegracht", locs[0].Street)
	assert.Equal(t, "12A", locs[0].Number)
	assert.Equal(t, "parcelShop", locs[0].PointType)
	assert.Equal(t, "8004-NL-272403", locs[0].SourceID)
	assert.InDelta(t, 52.0907, locs[0].Latitude, 1e-9)

	assert.Equal(t, "1", locs[1].Number)
	assert.InDelta(t, 5.1101, locs[1].Longitude, 1e-9)
}

func TestDHL_FetchAreaUsesCircle(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "9000", r.URL.Query().Get("radius"))
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	locs, err := NewDHL(testFetcher(), srv.URL).FetchArea(context.Background(), utrechtArea())
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestDHL_UnexpectedShape(t *testing.T) {
	for name, body := range map[string]string{
		"object without results": `{"error":"nope"}`,
		"scalar":                 `"maintenance"`,
		"bad coordinate":         `[{"name":"x","geoLocation":{"latitude":"north","longitude":5}}]`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := NewDHL(testFetcher(), srv.URL).SearchCircle(context.Background(), orb.Point{5.1, 52.09}, 1000)
			assert.ErrorIs(t, err, ErrUnexpectedShape)
		})
	}
}
