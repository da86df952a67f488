package carrier

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/model"
)

// ErrUnexpectedShape is returned when a provider response does not have
// the structure the adapter maps from.
var ErrUnexpectedShape = eris.New("carrier: unexpected response shape")

// Area is the search area of one municipality.
type Area struct {
	Name    string
	Center  orb.Point
	RadiusM float64
	BBox    orb.Bound
}

// Adapter is implemented by every carrier adapter.
type Adapter interface {
	Carrier() model.Carrier
}

// AreaFetcher queries a carrier live for the pickup points of one
// municipality's search area. Results may extend beyond the municipality;
// the caller filters by boundary.
type AreaFetcher interface {
	Adapter
	FetchArea(ctx context.Context, area Area) ([]model.Location, error)
}

// CircleSearcher is a capped circle search used by the grid fetcher.
type CircleSearcher interface {
	Adapter
	// Cap is the maximum number of results one call returns.
	Cap() int
	SearchCircle(ctx context.Context, center orb.Point, radiusM float64) ([]model.Location, error)
}

// NationwideSource returns every pickup point of a carrier in one dump.
type NationwideSource interface {
	Adapter
	FetchAll(ctx context.Context) ([]model.Location, error)
}

// flexFloat decodes a JSON number or a numeric string.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = flexFloat{}
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return eris.Wrapf(ErrUnexpectedShape, "coordinate %s", string(b))
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

// flexString decodes a JSON string or number, as house numbers arrive in both forms.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return eris.Wrapf(ErrUnexpectedShape, "text field %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

// joinNumber appends a house number addition: "12" + "A" = "12A".
func joinNumber(number, addition string) string {
	return strings.TrimSpace(number) + strings.TrimSpace(addition)
}
