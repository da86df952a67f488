package carrier

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/model"
)

// VintedGo scrapes the VintedGo carrier-locations page, whose server
// components stream the points for the requested map bounds.
type VintedGo struct {
	f       fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewVintedGo creates a VintedGo adapter against baseURL (https://vintedgo.com).
func NewVintedGo(f fetcher.Fetcher, baseURL string) *VintedGo {
	return &VintedGo{
		f:       f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "carrier.vintedgo")),
	}
}

// Carrier implements Adapter.
func (v *VintedGo) Carrier() model.Carrier { return model.CarrierVintedGo }

// FetchArea implements AreaFetcher.
func (v *VintedGo) FetchArea(ctx context.Context, area Area) ([]model.Location, error) {
	bounds, err := json.Marshal(map[string]float64{
		"south": area.BBox.Min[1],
		"west":  area.BBox.Min[0],
		"north": area.BBox.Max[1],
		"east":  area.BBox.Max[0],
	})
	if err != nil {
		return nil, eris.Wrap(err, "vintedgo: encode bounds")
	}
	q := url.Values{
		"lat":    {fmtCoord(area.Center[1])},
		"lng":    {fmtCoord(area.Center[0])},
		"bounds": {string(bounds)},
		"region": {"europe"},
	}
	page, err := v.f.GetText(ctx, v.baseURL+"/nl/carrier-locations", q)
	if err != nil {
		return nil, eris.Wrap(err, "vintedgo: fetch carrier locations")
	}
	points, err := findPoints(page)
	if err != nil {
		return nil, err
	}

	out := make([]model.Location, 0, len(points))
	var missing int
	for _, p := range points {
		loc, ok := vintedLocation(p)
		if !ok {
			missing++
			continue
		}
		out = append(out, loc)
	}
	if missing > 0 {
		v.log.Warn("points without coordinates dropped", zap.String("area", area.Name), zap.Int("count", missing))
	}
	return out, nil
}

// findPoints searches the flight chunks for a "points" array of point
// objects. The array may sit one level down, as {"points": [...]} inside
// another "points" array.
func findPoints(page string) ([]gjson.Result, error) {
	chunks := rscChunks(page)
	if len(chunks) == 0 {
		return nil, eris.Wrap(ErrUnexpectedShape, "vintedgo: page has no flight data")
	}
	for _, chunk := range chunks {
		for from := 0; ; {
			i := strings.Index(chunk[from:], `"points"`)
			if i < 0 {
				break
			}
			from += i + len(`"points"`)
			lb := strings.IndexByte(chunk[from:], '[')
			if lb < 0 {
				break
			}
			literal, err := sliceArray(chunk, from+lb)
			if err != nil || !gjson.Valid(literal) {
				continue
			}
			if pts := pointObjects(gjson.Parse(literal)); len(pts) > 0 {
				return pts, nil
			}
		}
	}
	return nil, eris.Wrap(ErrUnexpectedShape, "vintedgo: no points array in flight data")
}

func pointObjects(arr gjson.Result) []gjson.Result {
	var pts []gjson.Result
	for _, el := range arr.Array() {
		if el.IsObject() && firstOf(el, "lat", "latitude", "coordinates.lat").Exists() {
			pts = append(pts, el)
		}
	}
	if len(pts) > 0 {
		return pts
	}
	for _, el := range arr.Array() {
		if inner := el.Get("points"); inner.IsArray() {
			if pts := pointObjects(inner); len(pts) > 0 {
				return pts
			}
		}
	}
	return nil
}

func vintedLocation(p gjson.Result) (model.Location, bool) {
	lat := firstOf(p, "lat", "latitude", "coordinates.lat")
	lng := firstOf(p, "lng", "lon", "longitude", "coordinates.lng")
	if lat.Type != gjson.Number && lat.Type != gjson.String {
		return model.Location{}, false
	}
	if lng.Type != gjson.Number && lng.Type != gjson.String {
		return model.Location{}, false
	}
	return model.Location{
		Carrier:   model.CarrierVintedGo,
		Name:      strings.TrimSpace(firstOf(p, "name", "title").String()),
		Street:    strings.TrimSpace(firstOf(p, "address.street", "street").String()),
		Number:    strings.TrimSpace(firstOf(p, "address.house_number", "address.number", "house_number").String()),
		Latitude:  lat.Float(),
		Longitude: lng.Float(),
		PointType: firstOf(p, "point_type", "type", "carrier").String(),
		SourceID:  firstOf(p, "id", "code").String(),
	}, true
}

func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if v := r.Get(path); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
