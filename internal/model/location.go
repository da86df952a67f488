// Package model defines the carrier-independent pickup point record and
// the deduplication rules shared by every stage of the pipeline.
package model

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Carrier names a parcel carrier. The value is the display name written to
// the vervoerder property of every output feature.
type Carrier string

const (
	CarrierDHL      Carrier = "DHL"
	CarrierPostNL   Carrier = "PostNL"
	CarrierDPD      Carrier = "DPD"
	CarrierDeBuren  Carrier = "DeBuren"
	CarrierVintedGo Carrier = "VintedGo"
	CarrierAmazon   Carrier = "Amazon"
)

// AllCarriers returns every known carrier in output order.
func AllCarriers() []Carrier {
	return []Carrier{CarrierDHL, CarrierPostNL, CarrierDPD, CarrierDeBuren, CarrierVintedGo, CarrierAmazon}
}

// ParseCarrier resolves a carrier from its display name or config key,
// case-insensitively.
func ParseCarrier(s string) (Carrier, error) {
	for _, c := range AllCarriers() {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", eris.Errorf("model: unknown carrier %q", s)
}

// Key returns the lowercase config key for the carrier.
func (c Carrier) Key() string {
	return strings.ToLower(string(c))
}

// NLExtent bounds every valid location: the Dutch mainland, Wadden islands
// and the Zeeland coast with a small margin.
var NLExtent = orb.Bound{Min: orb.Point{3.2, 50.7}, Max: orb.Point{7.3, 53.7}}

// ErrInvalidLocation is returned by Validate.
var ErrInvalidLocation = eris.New("model: invalid location")

// Location is one pickup point as reported by a carrier.
type Location struct {
	Carrier   Carrier `json:"vervoerder"`
	Name      string  `json:"locatieNaam"`
	Street    string  `json:"straatNaam"`
	Number    string  `json:"straatNr"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	PointType string  `json:"puntType"`
	SourceID  string  `json:"source_id,omitempty"`
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

// Validate checks that the coordinates are finite and inside NLExtent.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) ||
		math.IsInf(l.Latitude, 0) || math.IsInf(l.Longitude, 0) {
		return eris.Wrapf(ErrInvalidLocation, "non-finite coordinates for %q", l.Name)
	}
	if !NLExtent.Contains(l.Point()) {
		return eris.Wrapf(ErrInvalidLocation, "%q at (%.5f, %.5f) is outside the Netherlands", l.Name, l.Latitude, l.Longitude)
	}
	if l.Carrier == "" {
		return eris.Wrapf(ErrInvalidLocation, "%q has no carrier", l.Name)
	}
	return nil
}

// DedupKey identifies a pickup point across queries and carriers'
// overlapping responses: coordinates rounded to 5 decimals (about 1 m),
// carrier and display name.
type DedupKey struct {
	Lat     int64
	Lon     int64
	Carrier Carrier
	Name    string
}

// Key returns the location's dedup key.
func (l Location) Key() DedupKey {
	return DedupKey{
		Lat:     round5(l.Latitude),
		Lon:     round5(l.Longitude),
		Carrier: l.Carrier,
		Name:    l.Name,
	}
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", k.Carrier, k.Name, k.Lat, k.Lon)
}

// Occupancy returns a stable pseudo occupancy percentage in [0,100] for
// the bezettingsgraad property. No carrier publishes real occupancy.
func (k DedupKey) Occupancy() int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return int(h.Sum32() % 101)
}

func round5(v float64) int64 {
	return int64(math.Round(v * 1e5))
}

// Sanitize drops records that fail Validate and returns the rest with the
// number dropped.
func Sanitize(locs []Location) ([]Location, int) {
	out := make([]Location, 0, len(locs))
	for _, l := range locs {
		if l.Validate() != nil {
			continue
		}
		out = append(out, l)
	}
	return out, len(locs) - len(out)
}

// CountByCarrier tallies locations per carrier.
func CountByCarrier(locs []Location) map[Carrier]int {
	out := make(map[Carrier]int)
	for _, l := range locs {
		out[l.Carrier]++
	}
	return out
}
