package boundary

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/geo"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

// ShapefileResolver serves boundaries from a municipality shapefile such
// as the CBS/PDOK gemeentegrenzen release reprojected to WGS84. The file
// is read once at construction.
type ShapefileResolver struct {
	byCode map[string]orb.MultiPolygon
	byName map[string]orb.MultiPolygon
}

// NewShapefileResolver reads every polygon record of shpPath, keyed by the
// nameField and codeField attributes (CBS uses statnaam and statcode).
func NewShapefileResolver(shpPath, nameField, codeField string) (*ShapefileResolver, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	nameIdx, ok := fieldIdx[strings.ToLower(nameField)]
	if !ok {
		return nil, resilience.NewConfigError(eris.Errorf("boundary: shapefile %s has no field %q", shpPath, nameField))
	}
	codeIdx, hasCode := fieldIdx[strings.ToLower(codeField)]

	r := &ShapefileResolver{
		byCode: make(map[string]orb.MultiPolygon),
		byName: make(map[string]orb.MultiPolygon),
	}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}
		mp := polygonRecord(poly)
		if len(mp) == 0 {
			skipped++
			continue
		}
		if !geo.WGS84Bound.Contains(mp.Bound().Min) || !geo.WGS84Bound.Contains(mp.Bound().Max) {
			return nil, resilience.NewConfigError(eris.Errorf("boundary: shapefile %s is not in WGS84 coordinates", shpPath))
		}
		name := attr(reader, nameIdx)
		r.byName[nameKey(name)] = mp
		if hasCode {
			if code := normalizeCode(attr(reader, codeIdx)); code != "" {
				r.byCode[code] = mp
			}
		}
	}
	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records", zap.String("path", shpPath), zap.Int("skipped", skipped))
	}
	if len(r.byName) == 0 {
		return nil, resilience.NewConfigError(eris.Errorf("boundary: shapefile %s has no polygon records", shpPath))
	}
	return r, nil
}

// Len returns the number of municipalities loaded.
func (r *ShapefileResolver) Len() int {
	return len(r.byName)
}

// Resolve implements Resolver. The CBS code wins over the name when both
// are known.
func (r *ShapefileResolver) Resolve(_ context.Context, m municipality.Municipality) (*Boundary, error) {
	if code := normalizeCode(m.Code); code != "" {
		if mp, ok := r.byCode[code]; ok {
			return New(m, mp)
		}
	}
	if mp, ok := r.byName[nameKey(m.Name)]; ok {
		return New(m, mp)
	}
	return nil, eris.Wrapf(ErrNotFound, "%q not in shapefile", m.Name)
}

// polygonRecord splits a shapefile polygon into its parts and nests them.
func polygonRecord(p *shp.Polygon) orb.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	rings := make([]orb.Ring, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}
		rings = append(rings, ring)
	}
	return geo.AssembleRings(rings)
}

func attr(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// normalizeCode strips the CBS "GM" prefix so "GM0344" and "0344" match.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.TrimPrefix(code, "GM")
}

func nameKey(name string) string {
	return municipality.Slugify(name)
}
