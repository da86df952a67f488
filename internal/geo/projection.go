package geo

import (
	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// WGS84Bound is the valid longitude/latitude range.
var WGS84Bound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// Projection is a transverse Mercator projection on the WGS84 ellipsoid
// with its central meridian through a chosen point, scale 1 and no false
// origin. Within a municipality's extent distances in projected meters
// are within a few parts per million of geodesic distances.
type Projection struct {
	crs wgs84.ProjectedReferenceSystem
}

// NewProjection returns a projection centred on center's meridian.
func NewProjection(center orb.Point) *Projection {
	return &Projection{crs: wgs84.WGS84().TransverseMercator(center[0], 0, 1, 0, 0)}
}

// Forward maps a (lon, lat) point in degrees to (x, y) meters.
func (p *Projection) Forward(pt orb.Point) orb.Point {
	x, y := p.crs.Projection.FromLonLat(pt[0], pt[1], p.crs.Datum)
	return orb.Point{x, y}
}

// Inverse maps (x, y) meters back to a (lon, lat) point in degrees.
func (p *Projection) Inverse(xy orb.Point) orb.Point {
	lon, lat := p.crs.Projection.ToLonLat(xy[0], xy[1], p.crs.Datum)
	return orb.Point{lon, lat}
}

// ForwardRing projects every vertex of r.
func (p *Projection) ForwardRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, pt := range r {
		out[i] = p.Forward(pt)
	}
	return out
}

// InverseMultiPolygon unprojects every vertex of mp.
func (p *Projection) InverseMultiPolygon(mp orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		out[i] = make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			for k, pt := range ring {
				r[k] = p.Inverse(pt)
			}
			out[i][j] = r
		}
	}
	return out
}
