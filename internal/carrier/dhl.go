package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/model"
)

// DHLCap is the maximum page size of the DHL parcel shop search.
const DHLCap = 50

// DHL searches DHL parcel shops and lockers in a circle.
type DHL struct {
	f       fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewDHL creates a DHL adapter against baseURL (https://api-gw.dhlparcel.nl).
func NewDHL(f fetcher.Fetcher, baseURL string) *DHL {
	return &DHL{
		f:       f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "carrier.dhl")),
	}
}

// Carrier implements Adapter.
func (d *DHL) Carrier() model.Carrier { return model.CarrierDHL }

// Cap implements CircleSearcher.
func (d *DHL) Cap() int { return DHLCap }

type dhlShop struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShopType string `json:"shopType"`
	Address  struct {
		Street   string     `json:"street"`
		Number   flexString `json:"number"`
		Addition flexString `json:"addition"`
	} `json:"address"`
	GeoLocation *struct {
		Latitude  flexFloat `json:"latitude"`
		Longitude flexFloat `json:"longitude"`
	} `json:"geoLocation"`
}

// SearchCircle implements CircleSearcher.
func (d *DHL) SearchCircle(ctx context.Context, center orb.Point, radiusM float64) ([]model.Location, error) {
	q := url.Values{
		"latitude":  {fmtCoord(center[1])},
		"longitude": {fmtCoord(center[0])},
		"radius":    {strconv.Itoa(int(radiusM))},
		"limit":     {strconv.Itoa(DHLCap)},
	}
	var raw json.RawMessage
	if err := d.f.GetJSON(ctx, d.baseURL+"/parcel-shop-locations/NL/by-geo", q, &raw); err != nil {
		return nil, eris.Wrap(err, "dhl: circle search")
	}
	shops, err := decodeDHL(raw)
	if err != nil {
		return nil, err
	}
	return d.mapShops(shops), nil
}

// FetchArea implements AreaFetcher with one circle search over the area.
func (d *DHL) FetchArea(ctx context.Context, area Area) ([]model.Location, error) {
	return d.SearchCircle(ctx, area.Center, area.RadiusM)
}

// decodeDHL accepts the bare array the endpoint returns and the
// {"results": [...]} envelope some gateway versions use.
func decodeDHL(raw json.RawMessage) ([]dhlShop, error) {
	raw = bytes.TrimSpace(raw)
	var shops []dhlShop
	switch {
	case len(raw) > 0 && raw[0] == '[':
		if err := json.Unmarshal(raw, &shops); err != nil {
			return nil, eris.Wrapf(ErrUnexpectedShape, "dhl: %v", err)
		}
	case len(raw) > 0 && raw[0] == '{':
		var env struct {
			Results *[]dhlShop `json:"results"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, eris.Wrapf(ErrUnexpectedShape, "dhl: %v", err)
		}
		if env.Results == nil {
			return nil, eris.Wrap(ErrUnexpectedShape, "dhl: object without results")
		}
		shops = *env.Results
	default:
		return nil, eris.Wrap(ErrUnexpectedShape, "dhl: response is neither array nor object")
	}
	return shops, nil
}

func (d *DHL) mapShops(shops []dhlShop) []model.Location {
	out := make([]model.Location, 0, len(shops))
	var missing int
	for _, s := range shops {
		if s.GeoLocation == nil || !s.GeoLocation.Latitude.Valid || !s.GeoLocation.Longitude.Valid {
			missing++
			continue
		}
		out = append(out, model.Location{
			Carrier:   model.CarrierDHL,
			Name:      strings.TrimSpace(s.Name),
			Street:    strings.TrimSpace(s.Address.Street),
			Number:    joinNumber(string(s.Address.Number), string(s.Address.Addition)),
			Latitude:  s.GeoLocation.Latitude.Value,
			Longitude: s.GeoLocation.Longitude.Value,
			PointType: s.ShopType,
			SourceID:  s.ID,
		})
	}
	if missing > 0 {
		d.log.Warn("shops without coordinates dropped", zap.Int("count", missing))
	}
	return out
}
