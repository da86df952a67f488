// Package gridfetch covers an envelope with overlapping circle searches and
// subdivides every circle whose result count hits the carrier's cap.
package gridfetch

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
)

// metersPerDegreeLat is the length of one degree of latitude on the
// sphere orb/geo measures distances on.
const metersPerDegreeLat = orb.EarthRadius * math.Pi / 180

// Cell is one circle search.
type Cell struct {
	Center  orb.Point `json:"center"`
	RadiusM float64   `json:"radius_m"`
	Depth   int       `json:"depth"`
}

// GenerateGrid returns the depth-0 cells covering env. Rows are spacingM
// apart and each row steps spacingM in longitude at its own latitude. Both
// axes get enough positions to reach past the far edge and are centred on
// the envelope, so every point of env lies within spacingM/2 of a row and
// of a column in it. Full coverage then requires spacingM <= radiusM·√2;
// the caller chooses the spacing.
func GenerateGrid(env orb.Bound, radiusM, spacingM float64) ([]Cell, error) {
	if radiusM <= 0 || spacingM <= 0 {
		return nil, eris.Errorf("gridfetch: radius and spacing must be positive, got %v and %v", radiusM, spacingM)
	}
	if env.Min[0] > env.Max[0] || env.Min[1] > env.Max[1] {
		return nil, eris.New("gridfetch: envelope is empty")
	}

	latStep := spacingM / metersPerDegreeLat
	latExtent := env.Max[1] - env.Min[1]
	rows := steps(latExtent, latStep)
	lat0 := env.Min[1] - overhang(latExtent, latStep, rows)

	var cells []Cell
	for i := 0; i < rows; i++ {
		lat := lat0 + float64(i)*latStep
		lonStep := latStep / math.Cos(lat*math.Pi/180)
		lonExtent := env.Max[0] - env.Min[0]
		cols := steps(lonExtent, lonStep)
		lon0 := env.Min[0] - overhang(lonExtent, lonStep, cols)
		for j := 0; j < cols; j++ {
			cells = append(cells, Cell{
				Center:  orb.Point{lon0 + float64(j)*lonStep, lat},
				RadiusM: radiusM,
			})
		}
	}
	return cells, nil
}

// steps is the smallest number of positions step apart that span extent.
func steps(extent, step float64) int {
	return int(math.Ceil(extent/step-1e-6)) + 1
}

// overhang is how far n positions step apart reach past each side of extent.
func overhang(extent, step float64, n int) float64 {
	return math.Max(0, (float64(n-1)*step-extent)/2)
}

// Subdivide replaces c by four cells of half its radius. The children sit
// on the diagonals at r/2 from the center, so each covers one quadrant of
// the square inscribed in c.
func Subdivide(c Cell) [4]Cell {
	r := c.RadiusM / 2
	var out [4]Cell
	for i, bearing := range [4]float64{45, 135, 225, 315} {
		out[i] = Cell{
			Center:  orbgeo.PointAtBearingAndDistance(c.Center, bearing, r),
			RadiusM: r,
			Depth:   c.Depth + 1,
		}
	}
	return out
}
