package carrier

import (
	"context"
	"net/http"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const burenPage = `<html><head><script>
var map;
var locations = [
  ['Buurtsuper [Oog in Al]', '52.0907', '5.1000', 101, 'Oudegracht', '12', '3511AB', 'Utrecht', 1, 'locker', 0, 0],
  ["Kiosk Damrak", 52.3766, 4.8980, 102, "Damrak", 1, "1012LG", "Amsterdam", 1, "locker", 0, 0],
  ["Kapot", 52.1],
];
</script></head></html>`

func TestDeBuren_FetchAreaFiltersByBBox(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps", r.URL.Path)
		_, _ = w.Write([]byte(burenPage))
	})

	locs, err := NewDeBuren(testFetcher(), srv.URL).FetchArea(context.Background(), utrechtArea())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Buurtsuper [Oog in Al]", locs[0].Name)
	assert.Equal(t, "Oudegracht", locs[0].Street)
	assert.Equal(t, "12", locs[0].Number)
	assert.Equal(t, "101", locs[0].SourceID)
	assert.Equal(t, "locker", locs[0].PointType)
	assert.InDelta(t, 52.0907, locs[0].Latitude, 1e-9)
}

func TestDeBuren_FetchAreaTownsOfOneMunicipality(t *testing.T) {
	page := `var locations = [
  ['Sneek Centrum', 53.032, 5.659, 1, 'Marktstraat', '3', '8601CV', 'Sneek', 1, 'locker', 0, 0],
  ['Bolsward', 53.064, 5.531, 2, 'Kerkstraat', '8', '8701HR', 'Bolsward', 1, 'locker', 0, 0],
  ['Leeuwarden', 53.201, 5.799, 3, 'Zaailand', '1', '8911BL', 'Leeuwarden', 1, 'locker', 0, 0]
];`
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	})
	area := Area{
		Name: "Súdwest-Fryslân",
		BBox: orb.Bound{Min: orb.Point{5.25, 52.83}, Max: orb.Point{5.80, 53.15}},
	}

	locs, err := NewDeBuren(testFetcher(), srv.URL).FetchArea(context.Background(), area)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Sneek Centrum", locs[0].Name)
	assert.Equal(t, "Bolsward", locs[1].Name)
}

func TestDeBuren_FetchAreaWithoutBBoxMatchesCity(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(burenPage))
	})
	locs, err := NewDeBuren(testFetcher(), srv.URL).FetchArea(context.Background(), Area{Name: "amsterdam"})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Kiosk Damrak", locs[0].Name)
}

func TestDeBuren_FetchAll(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(burenPage))
	})
	locs, err := NewDeBuren(testFetcher(), srv.URL).FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, locs, 2, "short row dropped")
}

func TestParseBurenPage_WrappedRows(t *testing.T) {
	rows, err := parseBurenPage(`const locations = [[["A", 52.1, 5.1, 1, "S", "1", "P", "Utrecht", 0, "locker"]]];`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0][0])
}

func TestParseBurenPage_EscapedApostrophe(t *testing.T) {
	page := `var locations = [['Buurtwinkel',51.69,5.30,'12','Markt','1','5211AA','\'s-Hertogenbosch',1,'locker',0,0],` +
		`['Station',52.09,5.11,'13','Stationsplein','2','3511CE','Utrecht',1,'locker',0,0]];`
	rows, err := parseBurenPage(page)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r, ok := burenRecord(rows[0])
	require.True(t, ok)
	assert.Equal(t, "'s-Hertogenbosch", r.city)
	assert.Equal(t, "12", r.loc.SourceID)
}

func TestDeBuren_PageWithoutLocations(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	_, err := NewDeBuren(testFetcher(), srv.URL).FetchArea(context.Background(), utrechtArea())
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}
