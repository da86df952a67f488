package carrier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/model"
)

// De Buren row columns in the map page's locations array.
const (
	burenName = iota
	burenLat
	burenLon
	burenID
	burenStreet
	burenNumber
	burenPostcode
	burenCity
	burenFlagA
	burenType
	burenColumns
)

// DeBuren scrapes the locker map page of De Buren. The page embeds every
// location; FetchArea keeps those inside the area's bounding box, falling
// back to a city name match when the area carries no box.
type DeBuren struct {
	f       fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewDeBuren creates a De Buren adapter against baseURL
// (https://mijnburen.deburen.nl).
func NewDeBuren(f fetcher.Fetcher, baseURL string) *DeBuren {
	return &DeBuren{
		f:       f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "carrier.deburen")),
	}
}

// Carrier implements Adapter.
func (d *DeBuren) Carrier() model.Carrier { return model.CarrierDeBuren }

// FetchArea implements AreaFetcher.
func (d *DeBuren) FetchArea(ctx context.Context, area Area) ([]model.Location, error) {
	all, err := d.fetchPage(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Location, 0)
	byName := area.BBox.IsZero()
	for _, r := range all {
		if byName {
			if strings.EqualFold(strings.TrimSpace(r.city), strings.TrimSpace(area.Name)) {
				out = append(out, r.loc)
			}
			continue
		}
		if area.BBox.Contains(orb.Point{r.loc.Longitude, r.loc.Latitude}) {
			out = append(out, r.loc)
		}
	}
	return out, nil
}

// FetchAll implements NationwideSource; the page already holds every location.
func (d *DeBuren) FetchAll(ctx context.Context) ([]model.Location, error) {
	all, err := d.fetchPage(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Location, len(all))
	for i, r := range all {
		out[i] = r.loc
	}
	return out, nil
}

type burenRow struct {
	loc  model.Location
	city string
}

func (d *DeBuren) fetchPage(ctx context.Context) ([]burenRow, error) {
	page, err := d.f.GetText(ctx, d.baseURL+"/maps", nil)
	if err != nil {
		return nil, eris.Wrap(err, "deburen: fetch map page")
	}
	rows, err := parseBurenPage(page)
	if err != nil {
		return nil, err
	}

	out := make([]burenRow, 0, len(rows))
	var bad int
	for _, row := range rows {
		r, ok := burenRecord(row)
		if !ok {
			bad++
			continue
		}
		out = append(out, r)
	}
	if bad > 0 {
		d.log.Warn("malformed rows dropped", zap.Int("count", bad))
	}
	return out, nil
}

// parseBurenPage extracts the rows of "var locations = [...]". The page has
// carried both a flat array of rows and an array wrapping it.
func parseBurenPage(page string) ([][]any, error) {
	literal, err := jsAssignment(page, "locations")
	if err != nil {
		return nil, eris.Wrap(err, "deburen")
	}
	var rows [][]any
	if err := decodeJSArray(literal, &rows); err != nil {
		return nil, eris.Wrap(err, "deburen")
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		if _, nested := rows[0][0].([]any); nested {
			var wrapped [][][]any
			if err := decodeJSArray(literal, &wrapped); err != nil {
				return nil, eris.Wrap(err, "deburen")
			}
			rows = wrapped[0]
		}
	}
	return rows, nil
}

func burenRecord(row []any) (burenRow, bool) {
	if len(row) < burenColumns {
		return burenRow{}, false
	}
	lat, ok1 := asFloat(row[burenLat])
	lon, ok2 := asFloat(row[burenLon])
	if !ok1 || !ok2 {
		return burenRow{}, false
	}
	return burenRow{
		loc: model.Location{
			Carrier:   model.CarrierDeBuren,
			Name:      asString(row[burenName]),
			Street:    asString(row[burenStreet]),
			Number:    asString(row[burenNumber]),
			Latitude:  lat,
			Longitude: lon,
			PointType: asString(row[burenType]),
			SourceID:  asString(row[burenID]),
		},
		city: asString(row[burenCity]),
	}, true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
