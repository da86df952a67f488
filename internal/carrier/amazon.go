package carrier

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/model"
)

// Amazon reads Amazon Hub lockers and counters from OpenStreetMap through
// the Overpass API. Amazon publishes no location API, so coverage is as
// complete as OSM.
type Amazon struct {
	f           fetcher.Fetcher
	endpoint    string
	timeoutSecs int
	log         *zap.Logger
}

// NewAmazon creates an Amazon adapter against an Overpass interpreter URL.
func NewAmazon(f fetcher.Fetcher, endpoint string, timeoutSecs int) *Amazon {
	if timeoutSecs <= 0 {
		timeoutSecs = 60
	}
	return &Amazon{
		f:           f,
		endpoint:    endpoint,
		timeoutSecs: timeoutSecs,
		log:         zap.L().With(zap.String("component", "carrier.amazon")),
	}
}

// Carrier implements Adapter.
func (a *Amazon) Carrier() model.Carrier { return model.CarrierAmazon }

type overpassNodes struct {
	Elements *[]struct {
		Type string            `json:"type"`
		ID   int64             `json:"id"`
		Lat  *float64          `json:"lat"`
		Lon  *float64          `json:"lon"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

// FetchArea implements AreaFetcher with a bounding-box query.
func (a *Amazon) FetchArea(ctx context.Context, area Area) ([]model.Location, error) {
	b := area.BBox
	scope := fmt.Sprintf("(%s,%s,%s,%s)", fmtCoord(b.Min[1]), fmtCoord(b.Min[0]), fmtCoord(b.Max[1]), fmtCoord(b.Max[0]))
	return a.query(ctx, "", scope)
}

// FetchAll implements NationwideSource.
func (a *Amazon) FetchAll(ctx context.Context) ([]model.Location, error) {
	return a.query(ctx, `area["ISO3166-1"="NL"][admin_level=2]->.searchArea;`, "(area.searchArea)")
}

func (a *Amazon) query(ctx context.Context, prelude, scope string) ([]model.Location, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n%s\n(\n", a.timeoutSecs, prelude)
	fmt.Fprintf(&sb, "  node[\"amenity\"=\"parcel_locker\"][\"operator\"~\"Amazon\",i]%s;\n", scope)
	fmt.Fprintf(&sb, "  node[\"amenity\"=\"parcel_locker\"][\"brand\"~\"Amazon\",i]%s;\n", scope)
	fmt.Fprintf(&sb, "  node[\"name\"~\"Amazon\",i][\"amenity\"=\"parcel_locker\"]%s;\n", scope)
	sb.WriteString(");\nout body;")

	var resp overpassNodes
	if err := a.f.PostFormJSON(ctx, a.endpoint, url.Values{"data": {sb.String()}}, &resp); err != nil {
		return nil, eris.Wrap(err, "amazon: overpass query")
	}
	if resp.Elements == nil {
		return nil, eris.Wrap(ErrUnexpectedShape, "amazon: response has no elements")
	}

	seen := make(map[int64]bool)
	out := make([]model.Location, 0, len(*resp.Elements))
	for _, el := range *resp.Elements {
		if el.Type != "node" || el.Lat == nil || el.Lon == nil || seen[el.ID] {
			continue
		}
		seen[el.ID] = true
		out = append(out, amazonLocation(el.ID, orb.Point{*el.Lon, *el.Lat}, el.Tags))
	}
	if len(out) == 0 {
		a.log.Info("no Amazon lockers found in OpenStreetMap")
	}
	return out, nil
}

func amazonLocation(id int64, p orb.Point, tags map[string]string) model.Location {
	name := tags["name"]
	if name == "" {
		name = tags["ref"]
	}
	if name == "" {
		name = "Amazon Hub"
	}
	kind := tags["parcel_locker:type"]
	if kind == "" {
		kind = "locker"
		if strings.Contains(strings.ToLower(name), "counter") {
			kind = "counter"
		}
	}
	return model.Location{
		Carrier:   model.CarrierAmazon,
		Name:      name,
		Street:    tags["addr:street"],
		Number:    tags["addr:housenumber"],
		Latitude:  p[1],
		Longitude: p[0],
		PointType: kind,
		SourceID:  fmt.Sprintf("node/%d", id),
	}
}
