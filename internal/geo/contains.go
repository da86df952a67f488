// Package geo provides the planar geometry the pipeline needs: closed
// point-in-polygon tests, boundary filtering, a local metric projection and
// unions of buffer disks.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/geodekking/pakketpunten/internal/model"
)

// onSegmentEpsilon is the tolerance, in degrees, for a point to count as
// lying on a polygon edge. It is far below the 1e-5 dedup resolution.
const onSegmentEpsilon = 1e-10

// Contains reports whether p lies in mp. The test is closed: points on an
// outer ring or on a hole ring count as inside.
func Contains(mp orb.MultiPolygon, p orb.Point) bool {
	for _, poly := range mp {
		if PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

// PolygonContains is Contains for a single polygon with holes.
func PolygonContains(poly orb.Polygon, p orb.Point) bool {
	if len(poly) == 0 {
		return false
	}
	if !onRing(poly[0], p) && !planar.RingContains(poly[0], p) {
		return false
	}
	for _, hole := range poly[1:] {
		if onRing(hole, p) {
			continue
		}
		if planar.RingContains(hole, p) {
			return false
		}
	}
	return true
}

func onRing(r orb.Ring, p orb.Point) bool {
	n := len(r)
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		a := r[i]
		b := r[(i+1)%n]
		if onSegment(a, b, p) {
			return true
		}
	}
	return false
}

func onSegment(a, b, p orb.Point) bool {
	dx, dy := b[0]-a[0], b[1]-a[1]
	px, py := p[0]-a[0], p[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(px, py) <= onSegmentEpsilon
	}
	if math.Abs(dx*py-dy*px)/length > onSegmentEpsilon {
		return false
	}
	t := (px*dx + py*dy) / (length * length)
	slack := onSegmentEpsilon / length
	return t >= -slack && t <= 1+slack
}

// FilterStats reports how many locations each filter stage removed.
type FilterStats struct {
	Input          int `json:"input"`
	OutsideBBox    int `json:"outside_bbox"`
	OutsidePolygon int `json:"outside_polygon"`
	Kept           int `json:"kept"`
}

// FilterByBoundary keeps the locations inside mp. The bounding box is a
// cheap pre-filter only; every survivor also passes Contains. bbox must
// contain mp (use mp.Bound()).
func FilterByBoundary(locs []model.Location, bbox orb.Bound, mp orb.MultiPolygon) ([]model.Location, FilterStats) {
	stats := FilterStats{Input: len(locs)}
	out := make([]model.Location, 0, len(locs))
	for _, l := range locs {
		p := l.Point()
		if !bbox.Contains(p) {
			stats.OutsideBBox++
			continue
		}
		if !Contains(mp, p) {
			stats.OutsidePolygon++
			continue
		}
		out = append(out, l)
	}
	stats.Kept = len(out)
	return out, stats
}
