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

const (
	// DPDAddressLimit is the largest result page of the address search.
	DPDAddressLimit = 100
	// dpdCountryNL is the ISO 3166-1 numeric code the dump is filtered by.
	dpdCountryNL = 528
)

// DPD queries the public DPD pickup API: an address search capped at
// DPDAddressLimit results and a nationwide dump per country.
type DPD struct {
	f       fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewDPD creates a DPD adapter against baseURL (https://pickup.dpd.cz).
func NewDPD(f fetcher.Fetcher, baseURL string) *DPD {
	return &DPD{
		f:       f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "carrier.dpd")),
	}
}

// Carrier implements Adapter.
func (d *DPD) Carrier() model.Carrier { return model.CarrierDPD }

type dpdResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
	Data   *struct {
		Items *[]dpdShop `json:"items"`
	} `json:"data"`
}

type dpdShop struct {
	ID          flexString `json:"id"`
	Company     string     `json:"company"`
	Street      string     `json:"street"`
	HouseNumber flexString `json:"house_number"`
	City        string     `json:"city"`
	Postcode    string     `json:"postcode"`
	Latitude    flexFloat  `json:"latitude"`
	Longitude   flexFloat  `json:"longitude"`
	NetworkType string     `json:"pickup_network_type"`
}

// FetchArea implements AreaFetcher with an address search on the
// municipality name. Large municipalities can exceed the result limit;
// the nationwide dump is the complete source.
func (d *DPD) FetchArea(ctx context.Context, area Area) ([]model.Location, error) {
	q := url.Values{
		"address": {area.Name},
		"limit":   {strconv.Itoa(DPDAddressLimit)},
	}
	locs, err := d.get(ctx, "/api/GetParcelShopsByAddress", q)
	if err != nil {
		return nil, eris.Wrapf(err, "dpd: address search %q", area.Name)
	}
	if len(locs) >= DPDAddressLimit {
		d.log.Warn("address search hit the result limit", zap.String("area", area.Name), zap.Int("limit", DPDAddressLimit))
	}
	return locs, nil
}

// FetchAll implements NationwideSource.
func (d *DPD) FetchAll(ctx context.Context) ([]model.Location, error) {
	locs, err := d.get(ctx, "/api/getAll", url.Values{"country": {strconv.Itoa(dpdCountryNL)}})
	if err != nil {
		return nil, eris.Wrap(err, "dpd: nationwide dump")
	}
	return locs, nil
}

func (d *DPD) get(ctx context.Context, path string, q url.Values) ([]model.Location, error) {
	var resp dpdResponse
	if err := d.f.GetJSON(ctx, d.baseURL+path, q, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, eris.Errorf("dpd: api status %q", resp.Status)
	}
	if resp.Data == nil || resp.Data.Items == nil {
		return nil, eris.Wrap(ErrUnexpectedShape, "dpd: response has no data.items")
	}

	items := *resp.Data.Items
	out := make([]model.Location, 0, len(items))
	var missing int
	for _, s := range items {
		if !s.Latitude.Valid || !s.Longitude.Valid {
			missing++
			continue
		}
		out = append(out, model.Location{
			Carrier:   model.CarrierDPD,
			Name:      strings.TrimSpace(s.Company),
			Street:    strings.TrimSpace(s.Street),
			Number:    string(s.HouseNumber),
			Latitude:  s.Latitude.Value,
			Longitude: s.Longitude.Value,
			PointType: s.NetworkType,
			SourceID:  string(s.ID),
		})
	}
	if missing > 0 {
		d.log.Warn("shops without coordinates dropped", zap.Int("count", missing))
	}
	return out, nil
}
