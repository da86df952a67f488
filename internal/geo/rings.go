package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// AssembleRings builds a multipolygon from closed rings of unknown
// orientation and role, as delivered by shapefiles and OSM relations.
// A ring nested inside an even number of larger rings is an outer ring;
// an odd nesting depth makes it a hole of its innermost container.
// Outer rings are returned counter-clockwise and holes clockwise.
func AssembleRings(rings []orb.Ring) orb.MultiPolygon {
	type entry struct {
		ring  orb.Ring
		area  float64
		depth int
		owner int
	}
	entries := make([]*entry, 0, len(rings))
	for _, r := range rings {
		r = closeRing(r)
		if len(r) < 4 {
			continue
		}
		a := math.Abs(signedArea(r))
		if a == 0 {
			continue
		}
		entries = append(entries, &entry{ring: r, area: a, owner: -1})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].area > entries[j].area })

	for i, e := range entries {
		probe := e.ring[0]
		for j := i - 1; j >= 0; j-- {
			if planar.RingContains(entries[j].ring, probe) {
				e.depth = entries[j].depth + 1
				e.owner = j
				break
			}
		}
	}

	polys := make(map[int]orb.Polygon)
	var order []int
	for i, e := range entries {
		if e.depth%2 == 0 {
			polys[i] = orb.Polygon{orient(e.ring, true)}
			order = append(order, i)
		}
	}
	for _, e := range entries {
		if e.depth%2 == 1 && e.owner >= 0 {
			polys[e.owner] = append(polys[e.owner], orient(e.ring, false))
		}
	}
	mp := make(orb.MultiPolygon, 0, len(order))
	for _, i := range order {
		mp = append(mp, polys[i])
	}
	return mp
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r[0].Equal(r[len(r)-1]) {
		r = append(r[:len(r):len(r)], r[0])
	}
	return r
}

func orient(r orb.Ring, ccw bool) orb.Ring {
	if (signedArea(r) > 0) == ccw {
		return r
	}
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}
