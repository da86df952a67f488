package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flightPage(t *testing.T, chunks ...string) string {
	t.Helper()
	page := "<html><body>"
	for _, c := range chunks {
		enc, err := json.Marshal(c)
		require.NoError(t, err)
		page += "<script>self.__next_f.push([1," + string(enc) + "])</script>"
	}
	return page + "</body></html>"
}

const vintedPoints = `[
 {"id":"NL-0001","name":"Albert Heijn Lombok","lat":52.0921,"lng":5.1015,"type":"pudo",
  "address":{"street":"Kanaalstraat","house_number":"40"}},
 {"id":"NL-0002","name":"Locker Vaartsche Rijn","latitude":"52.0780","longitude":"5.1270","point_type":"locker"},
 {"id":"NL-0003","name":"Geen coordinaten"}
]`

func TestVintedGo_FetchArea(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nl/carrier-locations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "52.090000", q.Get("lat"))
		assert.Equal(t, "5.100000", q.Get("lng"))
		assert.Equal(t, "europe", q.Get("region"))
		var bounds map[string]float64
		require.NoError(t, json.Unmarshal([]byte(q.Get("bounds")), &bounds))
		assert.Equal(t, 52.03, bounds["south"])
		assert.Equal(t, 5.2, bounds["east"])

		_, _ = w.Write([]byte(flightPage(t,
			`0:["$","html",null,{}]`,
			`5:{"points":`+vintedPoints+`,"zoom":13}`,
		)))
	})

	locs, err := NewVintedGo(testFetcher(), srv.URL).FetchArea(context.Background(), utrechtArea())
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Albert Heijn Lombok", locs[0].Name)
	assert.Equal(t, "Kanaalstraat", locs[0].Street)
	assert.Equal(t, "40", locs[0].Number)
	assert.Equal(t, "pudo", locs[0].PointType)
	assert.Equal(t, "locker", locs[1].PointType)
	assert.InDelta(t, 5.127, locs[1].Longitude, 1e-9)
}

func TestFindPoints_NestedPointsArray(t *testing.T) {
	// The first "points" key holds a component tuple whose props carry
	// the real array.
	page := flightPage(t, `7:{"points":["$","$L9",null,{"points":`+vintedPoints+`}]}`)

	pts, err := findPoints(page)
	require.NoError(t, err)
	assert.Len(t, pts, 2)
}

func TestFindPoints_Missing(t *testing.T) {
	_, err := findPoints("<html>no flight data</html>")
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = findPoints(flightPage(t, `1:{"markers":[]}`))
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}
