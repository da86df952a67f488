package boundary

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/geo"
	"github.com/geodekking/pakketpunten/internal/municipality"
)

// DefaultOverpassURL is the public Overpass interpreter endpoint.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// osmNames maps municipality list names to the name tag OSM uses.
var osmNames = map[string]string{
	"s-Hertogenbosch": "'s-Hertogenbosch",
	"Bergen (L.)":     "Bergen",
	"Bergen (NH.)":    "Bergen",
	"Nuenen":          "Nuenen c.a.",
}

// osmCodes disambiguates municipalities sharing an OSM name by their
// ref:gemeentecode tag.
var osmCodes = map[string]string{
	"Bergen (L.)":  "0893",
	"Bergen (NH.)": "0373",
}

// OverpassResolver fetches admin_level=8 boundary relations inside the
// Netherlands from the Overpass API. Retries on 429, 503 and 504 are done
// by the fetcher.
type OverpassResolver struct {
	f           fetcher.Fetcher
	url         string
	timeoutSecs int
	log         *zap.Logger
}

// NewOverpassResolver creates a resolver. An empty endpoint selects
// DefaultOverpassURL.
func NewOverpassResolver(f fetcher.Fetcher, endpoint string, timeoutSecs int) *OverpassResolver {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if timeoutSecs <= 0 {
		timeoutSecs = 45
	}
	return &OverpassResolver{
		f:           f,
		url:         endpoint,
		timeoutSecs: timeoutSecs,
		log:         zap.L().With(zap.String("component", "boundary.overpass")),
	}
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type    string            `json:"type"`
	ID      int64             `json:"id"`
	Tags    map[string]string `json:"tags"`
	Members []overpassMember  `json:"members"`
}

type overpassMember struct {
	Type     string `json:"type"`
	Role     string `json:"role"`
	Geometry []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"geometry"`
}

// Resolve implements Resolver.
func (r *OverpassResolver) Resolve(ctx context.Context, m municipality.Municipality) (*Boundary, error) {
	name, code := osmQueryName(m)
	form := url.Values{"data": {r.query(name, code)}}

	var resp overpassResponse
	if err := r.f.PostFormJSON(ctx, r.url, form, &resp); err != nil {
		return nil, eris.Wrapf(err, "boundary: overpass query for %q", m.Name)
	}

	var rel *overpassElement
	for i := range resp.Elements {
		if resp.Elements[i].Type == "relation" {
			rel = &resp.Elements[i]
			break
		}
	}
	if rel == nil {
		return nil, eris.Wrapf(ErrNotFound, "no admin_level=8 relation for %q", m.Name)
	}
	if len(resp.Elements) > 1 {
		r.log.Warn("multiple boundary relations, using the first",
			zap.String("municipality", m.Name),
			zap.Int64("relation", rel.ID),
			zap.Int("count", len(resp.Elements)),
		)
	}

	poly, err := relationPolygon(rel)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: geometry of %q", m.Name)
	}
	if m.Code == "" {
		m.Code = rel.Tags["ref:gemeentecode"]
	}
	return New(m, poly)
}

func (r *OverpassResolver) query(name, code string) string {
	filter := fmt.Sprintf(`["name"="%s"]`, escapeQL(name))
	if code != "" {
		filter += fmt.Sprintf(`["ref:gemeentecode"="%s"]`, escapeQL(code))
	}
	return fmt.Sprintf(`[out:json][timeout:%d];
area["ISO3166-1"="NL"]["admin_level"="2"]->.searchArea;
(
  relation(area.searchArea)["admin_level"="8"]["boundary"="administrative"]%s;
);
out geom;`, r.timeoutSecs, filter)
}

func osmQueryName(m municipality.Municipality) (string, string) {
	name := m.Name
	if mapped, ok := osmNames[name]; ok {
		name = mapped
	}
	return name, osmCodes[m.Name]
}

func escapeQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// relationPolygon joins the relation's member ways into closed rings and
// nests them into polygons. Member roles are not trusted; nesting decides
// which rings are holes.
func relationPolygon(rel *overpassElement) (orb.MultiPolygon, error) {
	var outer, inner []orb.LineString
	for _, mem := range rel.Members {
		if mem.Type != "way" || len(mem.Geometry) < 2 {
			continue
		}
		ls := make(orb.LineString, len(mem.Geometry))
		for i, g := range mem.Geometry {
			ls[i] = orb.Point{g.Lon, g.Lat}
		}
		switch mem.Role {
		case "outer", "":
			outer = append(outer, ls)
		case "inner":
			inner = append(inner, ls)
		}
	}
	if len(outer) == 0 {
		return nil, eris.New("boundary: relation has no outer ways")
	}
	rings := append(mergeWays(outer), mergeWays(inner)...)
	mp := geo.AssembleRings(rings)
	if len(mp) == 0 {
		return nil, eris.New("boundary: outer ways do not form a polygon")
	}
	return mp, nil
}

// mergeWays chains ways sharing end points into rings. A chain that cannot
// be closed is closed with a straight segment.
func mergeWays(ways []orb.LineString) []orb.Ring {
	remaining := append([]orb.LineString(nil), ways...)
	var rings []orb.Ring
	for len(remaining) > 0 {
		cur := append(orb.LineString(nil), remaining[0]...)
		remaining = remaining[1:]
		for !cur[0].Equal(cur[len(cur)-1]) {
			end := cur[len(cur)-1]
			next, reverse := -1, false
			for i, w := range remaining {
				if w[0].Equal(end) {
					next = i
					break
				}
				if w[len(w)-1].Equal(end) {
					next, reverse = i, true
					break
				}
			}
			if next < 0 {
				break
			}
			w := remaining[next]
			remaining = append(remaining[:next], remaining[next+1:]...)
			if reverse {
				w = reversed(w)
			}
			cur = append(cur, w[1:]...)
		}
		rings = append(rings, orb.Ring(cur))
	}
	return rings
}

func reversed(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[len(ls)-1-i] = p
	}
	return out
}
