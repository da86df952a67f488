package carrier

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/model"
)

// PostNL queries the PostNL location widget by bounding box.
type PostNL struct {
	f       fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewPostNL creates a PostNL adapter against baseURL
// (https://productprijslokatie.postnl.nl).
func NewPostNL(f fetcher.Fetcher, baseURL string) *PostNL {
	return &PostNL{
		f:       f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "carrier.postnl")),
	}
}

// Carrier implements Adapter.
func (p *PostNL) Carrier() model.Carrier { return model.CarrierPostNL }

type postnlResponse struct {
	Locations *[]postnlLocation `json:"locations"`
}

type postnlLocation struct {
	LocationCode flexString `json:"locationCode"`
	Name         string     `json:"name"`
	LocationType string     `json:"locationType"`
	Address      struct {
		Street            string     `json:"street"`
		HouseNumber       flexString `json:"houseNumber"`
		HouseNumberSuffix flexString `json:"houseNumberSuffix"`
	} `json:"address"`
	Latitude  flexFloat `json:"latitude"`
	Longitude flexFloat `json:"longitude"`
}

// FetchArea implements AreaFetcher with a bounding-box query for private
// (non-business) parcel pickup points.
func (p *PostNL) FetchArea(ctx context.Context, area Area) ([]model.Location, error) {
	b := area.BBox
	q := url.Values{
		"country":        {"nld"},
		"business":       {"false"},
		"filters":        {"[]"},
		"productFilters": {`[{"productId":"23"}]`},
		"defaultFilters": {"[]"},
		"bottomLeftLat":  {fmtCoord(b.Min[1])},
		"bottomLeftLon":  {fmtCoord(b.Min[0])},
		"topRightLat":    {fmtCoord(b.Max[1])},
		"topRightLon":    {fmtCoord(b.Max[0])},
		"lang":           {"NL"},
	}
	var resp postnlResponse
	if err := p.f.GetJSON(ctx, p.baseURL+"/location-widget/api/locations", q, &resp); err != nil {
		return nil, eris.Wrap(err, "postnl: bbox search")
	}
	if resp.Locations == nil {
		return nil, eris.Wrap(ErrUnexpectedShape, "postnl: response has no locations array")
	}

	out := make([]model.Location, 0, len(*resp.Locations))
	var missing int
	for _, l := range *resp.Locations {
		if !l.Latitude.Valid || !l.Longitude.Valid {
			missing++
			continue
		}
		out = append(out, model.Location{
			Carrier:   model.CarrierPostNL,
			Name:      strings.TrimSpace(l.Name),
			Street:    strings.TrimSpace(l.Address.Street),
			Number:    joinNumber(string(l.Address.HouseNumber), string(l.Address.HouseNumberSuffix)),
			Latitude:  l.Latitude.Value,
			Longitude: l.Longitude.Value,
			PointType: l.LocationType,
			SourceID:  string(l.LocationCode),
		})
	}
	if missing > 0 {
		p.log.Warn("locations without coordinates dropped", zap.String("area", area.Name), zap.Int("count", missing))
	}
	return out, nil
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
