// Package boundary resolves Dutch municipality boundaries and derives the
// search area carriers are queried with: bounding box, centre and the
// radius of the circle through the box's farthest corner.
package boundary

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/geo"
	"github.com/geodekking/pakketpunten/internal/municipality"
)

// ErrNotFound is returned when no boundary exists for a municipality.
var ErrNotFound = eris.New("boundary: municipality not found")

// Resolver returns the boundary of a municipality. A failure is final for
// that municipality: there is no approximate fallback.
type Resolver interface {
	Resolve(ctx context.Context, m municipality.Municipality) (*Boundary, error)
}

// Boundary is a resolved municipality boundary with its derived search area.
type Boundary struct {
	Name    string
	Slug    string
	Code    string
	Polygon orb.MultiPolygon
	BBox    orb.Bound
	Center  orb.Point
	// RadiusM is the geodesic distance from Center to the farthest bbox
	// corner, so the circle covers the whole box.
	RadiusM float64
}

// New builds a Boundary from a polygon and computes its search area.
func New(m municipality.Municipality, poly orb.MultiPolygon) (*Boundary, error) {
	if len(poly) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "empty geometry for %q", m.Name)
	}
	bbox := poly.Bound()
	if !isFinite(bbox.Min) || !isFinite(bbox.Max) {
		return nil, eris.Errorf("boundary: non-finite geometry for %q", m.Name)
	}
	center := bbox.Center()
	corners := []orb.Point{
		bbox.Min,
		{bbox.Max[0], bbox.Min[1]},
		bbox.Max,
		{bbox.Min[0], bbox.Max[1]},
	}
	var radius float64
	for _, c := range corners {
		radius = math.Max(radius, orbgeo.Distance(center, c))
	}
	slug := m.Slug
	if slug == "" {
		slug = municipality.Slugify(m.Name)
	}
	return &Boundary{
		Name:    m.Name,
		Slug:    slug,
		Code:    m.Code,
		Polygon: poly,
		BBox:    bbox,
		Center:  center,
		RadiusM: radius,
	}, nil
}

// AreaKm2 returns the boundary's area in square kilometres.
func (b *Boundary) AreaKm2() float64 {
	proj := geo.NewProjection(b.Center)
	var area float64
	for _, poly := range b.Polygon {
		for i, ring := range poly {
			a := math.Abs(planar.Area(proj.ForwardRing(ring)))
			if i == 0 {
				area += a
			} else {
				area -= a
			}
		}
	}
	return area / 1e6
}

// Contains reports whether p lies in the boundary, edges included.
func (b *Boundary) Contains(p orb.Point) bool {
	return b.BBox.Contains(p) && geo.Contains(b.Polygon, p)
}

func isFinite(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
