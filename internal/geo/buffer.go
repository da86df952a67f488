package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// DefaultSegments is the number of vertices used for a full buffer circle.
const DefaultSegments = 64

const twoPi = 2 * math.Pi

// BufferUnion returns the union of disks of radiusM meters around points.
// The disks are built and merged in a transverse Mercator projection centred
// on the points and the result is returned in WGS84. Zero points yield an
// empty multipolygon.
func BufferUnion(points []orb.Point, radiusM float64, segments int) (orb.MultiPolygon, error) {
	if len(points) == 0 {
		return orb.MultiPolygon{}, nil
	}
	var b orb.Bound
	for i, p := range points {
		if i == 0 {
			b = p.Bound()
			continue
		}
		b = b.Extend(p)
	}
	return BufferUnionWith(NewProjection(b.Center()), points, radiusM, segments)
}

// BufferUnionWith is BufferUnion with an explicit projection, so several
// radii for one municipality share the same planar frame.
func BufferUnionWith(proj *Projection, points []orb.Point, radiusM float64, segments int) (orb.MultiPolygon, error) {
	if len(points) == 0 {
		return orb.MultiPolygon{}, nil
	}
	centers := make([]orb.Point, len(points))
	for i, p := range points {
		centers[i] = proj.Forward(p)
	}
	planarUnion, err := DiskUnion(centers, radiusM, segments)
	if err != nil {
		return nil, err
	}
	return proj.InverseMultiPolygon(planarUnion), nil
}

// DiskUnion returns the union of equal disks of radius r around planar
// centers. The boundary of the union is assembled from the arcs of each
// circle not covered by another disk, so the result is exact up to the
// arc sampling given by segments. Outer rings are counter-clockwise and
// holes clockwise.
func DiskUnion(centers []orb.Point, r float64, segments int) (orb.MultiPolygon, error) {
	if r <= 0 {
		return nil, eris.Errorf("geo: buffer radius must be positive, got %v", r)
	}
	if segments < 8 {
		segments = DefaultSegments
	}
	centers = uniqueCenters(centers, r)
	if len(centers) == 0 {
		return orb.MultiPolygon{}, nil
	}

	idx := newPointGrid(2 * r)
	for i, c := range centers {
		idx.insert(c, i)
	}

	var arcs []diskArc
	var rings []orb.Ring
	for i, c := range centers {
		var covered [][2]float64
		for _, j := range idx.near(c) {
			if j == i {
				continue
			}
			dx, dy := centers[j][0]-c[0], centers[j][1]-c[1]
			d := math.Hypot(dx, dy)
			if d >= 2*r {
				continue
			}
			theta := math.Atan2(dy, dx)
			half := math.Acos(d / (2 * r))
			covered = append(covered, [2]float64{theta - half, theta + half})
		}
		if len(covered) == 0 {
			rings = append(rings, circleRing(c, r, segments))
			continue
		}
		for _, gap := range uncovered(covered) {
			arcs = append(arcs, diskArc{center: c, start: gap[0], end: gap[1]})
		}
	}

	chained, err := chainArcs(arcs, r, segments)
	if err != nil {
		return nil, err
	}
	rings = append(rings, chained...)
	return assemblePolygons(rings), nil
}

type diskArc struct {
	center     orb.Point
	start, end float64
	used       bool
}

func (a diskArc) at(angle, r float64) orb.Point {
	return orb.Point{a.center[0] + r*math.Cos(angle), a.center[1] + r*math.Sin(angle)}
}

// uncovered merges the covered angular intervals and returns their
// complement on the circle, each gap as [start, end) with end > start.
func uncovered(covered [][2]float64) [][2]float64 {
	var norm [][2]float64
	for _, iv := range covered {
		s := math.Mod(iv[0], twoPi)
		if s < 0 {
			s += twoPi
		}
		e := s + (iv[1] - iv[0])
		if e > twoPi {
			norm = append(norm, [2]float64{s, twoPi}, [2]float64{0, e - twoPi})
		} else {
			norm = append(norm, [2]float64{s, e})
		}
	}
	sort.Slice(norm, func(i, j int) bool { return norm[i][0] < norm[j][0] })

	merged := [][2]float64{norm[0]}
	for _, iv := range norm[1:] {
		last := &merged[len(merged)-1]
		if iv[0] <= last[1] {
			last[1] = math.Max(last[1], iv[1])
			continue
		}
		merged = append(merged, iv)
	}

	var gaps [][2]float64
	for i := range merged {
		start := merged[i][1]
		var end float64
		if i+1 < len(merged) {
			end = merged[i+1][0]
		} else {
			end = merged[0][0] + twoPi
		}
		if end-start > 1e-12 {
			gaps = append(gaps, [2]float64{start, end})
		}
	}
	return gaps
}

// chainArcs walks uncovered arcs end to start into closed rings.
func chainArcs(arcs []diskArc, r float64, segments int) ([]orb.Ring, error) {
	if len(arcs) == 0 {
		return nil, nil
	}
	tol := r * 1e-6
	starts := newPointGrid(r)
	for i := range arcs {
		starts.insert(arcs[i].at(arcs[i].start, r), i)
	}
	step := twoPi / float64(segments)

	var rings []orb.Ring
	for first := range arcs {
		if arcs[first].used {
			continue
		}
		var ring orb.Ring
		cur := first
		for {
			a := &arcs[cur]
			a.used = true
			sweep := a.end - a.start
			n := int(math.Ceil(sweep / step))
			if n < 1 {
				n = 1
			}
			for k := 0; k < n; k++ {
				ring = append(ring, a.at(a.start+sweep*float64(k)/float64(n), r))
			}

			end := a.at(a.end, r)
			next, closes := -1, false
			best := tol
			for _, j := range starts.near(end) {
				d := planar.Distance(end, arcs[j].at(arcs[j].start, r))
				if d > best {
					continue
				}
				if j == first {
					next, closes, best = j, true, d
				} else if !arcs[j].used {
					next, closes, best = j, false, d
				}
			}
			if next < 0 {
				return nil, eris.Errorf("geo: buffer boundary does not close near (%.3f, %.3f)", end[0], end[1])
			}
			if closes {
				break
			}
			cur = next
		}
		if len(ring) >= 3 {
			rings = append(rings, append(ring, ring[0]))
		}
	}
	return rings, nil
}

func circleRing(c orb.Point, r float64, segments int) orb.Ring {
	ring := make(orb.Ring, 0, segments+1)
	for k := 0; k < segments; k++ {
		a := twoPi * float64(k) / float64(segments)
		ring = append(ring, orb.Point{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	return append(ring, ring[0])
}

// assemblePolygons turns counter-clockwise rings into polygons and assigns
// each clockwise ring as a hole of the smallest outer ring containing it.
func assemblePolygons(rings []orb.Ring) orb.MultiPolygon {
	type outer struct {
		ring orb.Ring
		area float64
		poly orb.Polygon
	}
	var outers []*outer
	var holes []orb.Ring
	for _, ring := range rings {
		a := signedArea(ring)
		if a > 0 {
			outers = append(outers, &outer{ring: ring, area: a, poly: orb.Polygon{ring}})
		} else if a < 0 {
			holes = append(holes, ring)
		}
	}
	for _, h := range holes {
		var owner *outer
		for _, o := range outers {
			if !planar.RingContains(o.ring, h[0]) {
				continue
			}
			if owner == nil || o.area < owner.area {
				owner = o
			}
		}
		if owner != nil {
			owner.poly = append(owner.poly, h)
		}
	}
	sort.SliceStable(outers, func(i, j int) bool { return outers[i].area > outers[j].area })
	mp := make(orb.MultiPolygon, 0, len(outers))
	for _, o := range outers {
		mp = append(mp, o.poly)
	}
	return mp
}

func signedArea(r orb.Ring) float64 {
	var s float64
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

// uniqueCenters drops centers closer than a micrometer-scale tolerance to
// an earlier one; identical disks add nothing to the union.
func uniqueCenters(centers []orb.Point, r float64) []orb.Point {
	tol := r * 1e-9
	grid := newPointGrid(r)
	out := make([]orb.Point, 0, len(centers))
	for _, c := range centers {
		dup := false
		for _, j := range grid.near(c) {
			if planar.Distance(c, out[j]) <= tol {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		grid.insert(c, len(out))
		out = append(out, c)
	}
	return out
}

// pointGrid is a uniform hash grid for neighbor lookups. near returns the
// indexes in the 3x3 cells around p, so it finds everything within size.
type pointGrid struct {
	size  float64
	cells map[[2]int64][]int
}

func newPointGrid(size float64) *pointGrid {
	return &pointGrid{size: size, cells: make(map[[2]int64][]int)}
}

func (g *pointGrid) key(p orb.Point) [2]int64 {
	return [2]int64{int64(math.Floor(p[0] / g.size)), int64(math.Floor(p[1] / g.size))}
}

func (g *pointGrid) insert(p orb.Point, i int) {
	k := g.key(p)
	g.cells[k] = append(g.cells[k], i)
}

func (g *pointGrid) near(p orb.Point) []int {
	k := g.key(p)
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			out = append(out, g.cells[[2]int64{k[0] + dx, k[1] + dy}]...)
		}
	}
	return out
}
