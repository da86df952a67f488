package boundary

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeEWKB converts a boundary polygon to EWKB bytes with SRID 4326.
func EncodeEWKB(mp orb.MultiPolygon) ([]byte, error) {
	g := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i, poly := range mp {
		p := geom.NewPolygon(geom.XY)
		for _, ring := range poly {
			if err := p.Push(geom.NewLinearRingFlat(geom.XY, flatCoords(ring))); err != nil {
				return nil, eris.Wrapf(err, "boundary: ring of polygon %d", i)
			}
		}
		if err := g.Push(p); err != nil {
			return nil, eris.Wrapf(err, "boundary: polygon %d", i)
		}
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode WKB")
	}
	return data, nil
}

// DecodeEWKB parses EWKB written by EncodeEWKB. A single polygon is
// accepted and returned as a one-element multipolygon.
func DecodeEWKB(data []byte) (orb.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: decode WKB")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			mp = append(mp, fromGeomPolygon(t.Polygon(i)))
		}
		return mp, nil
	case *geom.Polygon:
		return orb.MultiPolygon{fromGeomPolygon(t)}, nil
	default:
		return nil, eris.Errorf("boundary: unexpected WKB geometry %T", g)
	}
}

func fromGeomPolygon(p *geom.Polygon) orb.Polygon {
	poly := make(orb.Polygon, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c.X(), c.Y()}
		}
		poly = append(poly, ring)
	}
	return poly
}

func flatCoords(ring orb.Ring) []float64 {
	flat := make([]float64, 0, len(ring)*2)
	for _, p := range ring {
		flat = append(flat, p[0], p[1])
	}
	return flat
}
