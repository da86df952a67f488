package carrier

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostNL_FetchArea(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/location-widget/api/locations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "nld", q.Get("country"))
		assert.Equal(t, "false", q.Get("business"))
		assert.Equal(t, `[{"productId":"23"}]`, q.Get("productFilters"))
		assert.Equal(t, "52.030000", q.Get("bottomLeftLat"))
		assert.Equal(t, "4.970000", q.Get("bottomLeftLon"))
		assert.Equal(t, "52.140000", q.Get("topRightLat"))
		assert.Equal(t, "5.200000", q.Get("topRightLon"))
		_, _ = w.Write([]byte(`{"locations":[
			{"locationCode":161503,"name":"Bruna Twijnstraat","locationType":"Retail",
			 "address":{"street":"Twijnstraat","houseNumber":"39","houseNumberSuffix":""},
			 "latitude":52.0851,"longitude":5.1236},
			{"locationCode":"PAK-1","name":"Pakketautomaat","locationType":"ParcelLocker",
			 "address":{"street":"Vredenburg","houseNumber":"40","houseNumberSuffix":"B"},
			 "latitude":52.0927,"longitude":5.1146},
			{"name":"Geen coordinaten"}
		]}`))
	})

	locs, err := NewPostNL(testFetcher(), srv.URL).FetchArea(context.Background(), utrechtArea())
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "161503", locs[0].SourceID)
	assert.Equal(t, "39", locs[0].Number)
	assert.Equal(t, "Retail", locs[0].PointType)
	assert.Equal(t, "40B", locs[1].Number)
}

func TestPostNL_MissingLocationsIsUnexpected(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	})
	_, err := NewPostNL(testFetcher(), srv.URL).FetchArea(context.Background(), utrechtArea())
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}
