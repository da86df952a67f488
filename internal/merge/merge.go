// Package merge combines the municipality files into the national point
// file and the national boundaries file.
package merge

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/output"
)

// ErrNoInput is returned when the directory holds no municipality files.
var ErrNoInput = eris.New("merge: no municipality files")

// ReasonMissing is the Skipped reason of a listed municipality without a file.
const ReasonMissing = "missing"

// Skipped is a municipality file left out of the merge.
type Skipped struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Options tune Merge.
type Options struct {
	// Expected holds the slugs of the municipality list. A listed slug
	// without a file is reported as skipped.
	Expected []string
	// StaleBefore marks files generated before it as stale. Stale files are
	// merged but logged and listed. Zero disables the check.
	StaleBefore time.Time
}

// Result is the outcome of Merge.
type Result struct {
	Collection    *geojson.FeatureCollection
	Boundaries    *geojson.FeatureCollection
	Processed     []string
	Skipped       []Skipped
	Stale         []string
	InputPoints   int
	ProviderStats map[model.Carrier]int
}

// Merge reads every municipality file in dir. Point features are
// deduplicated by location key, first occurrence wins; boundary and buffer
// features are kept per municipality and tagged with its name. Unreadable
// files and listed municipalities without a file are skipped and reported.
func Merge(dir string, now time.Time, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "merge"), zap.String("dir", dir))

	paths, err := filepath.Glob(filepath.Join(dir, "*.geojson"))
	if err != nil {
		return nil, eris.Wrapf(err, "merge: list %s", dir)
	}
	sort.Strings(paths)

	res := &Result{ProviderStats: make(map[model.Carrier]int)}
	set := model.NewDedupSet()
	var points, areas []*geojson.Feature
	present := make(map[string]bool, len(paths))

	for _, path := range paths {
		base := filepath.Base(path)
		if base == output.NationalFile || base == output.BoundariesFile {
			continue
		}
		present[base] = true
		fc, err := output.Read(path)
		if err != nil {
			log.Warn("skipping unreadable municipality file", zap.String("file", base), zap.Error(err))
			res.Skipped = append(res.Skipped, Skipped{File: base, Reason: err.Error()})
			continue
		}

		name := strings.TrimSuffix(base, filepath.Ext(base))
		meta, err := output.GetMetadata(fc)
		if err == nil && meta.Gemeente != "" {
			name = meta.Gemeente
		}
		if !opts.StaleBefore.IsZero() && (err != nil || meta.GeneratedAt.Before(opts.StaleBefore)) {
			log.Warn("municipality file predates the last generate run",
				zap.String("file", base), zap.Time("stale_before", opts.StaleBefore))
			res.Stale = append(res.Stale, name)
		}
		res.Processed = append(res.Processed, name)

		for _, f := range fc.Features {
			if l, ok := output.LocationFromFeature(f); ok {
				res.InputPoints++
				if set.Add(l) {
					points = append(points, f)
					res.ProviderStats[l.Carrier]++
				}
				continue
			}
			if f.Properties == nil {
				f.Properties = geojson.Properties{}
			}
			f.Properties["gemeente"] = name
			areas = append(areas, f)
		}
	}

	if len(res.Processed) == 0 && len(res.Skipped) == 0 {
		return nil, eris.Wrapf(ErrNoInput, "%s", dir)
	}
	for _, slug := range opts.Expected {
		if file := output.FileName(slug); !present[file] {
			log.Warn("listed municipality has no file", zap.String("slug", slug))
			res.Skipped = append(res.Skipped, Skipped{File: file, Reason: ReasonMissing})
		}
	}

	locs := set.Locations()
	skippedNames := make([]string, len(res.Skipped))
	for i, s := range res.Skipped {
		skippedNames[i] = strings.TrimSuffix(s.File, filepath.Ext(s.File))
	}

	res.Collection = output.NewCollection(output.Metadata{
		Gemeente:               "Nederland",
		Slug:                   output.NationalSlug,
		GeneratedAt:            now.UTC(),
		TotalPoints:            len(locs),
		Providers:              providerNames(res.ProviderStats),
		Bounds:                 output.Bounds(locs),
		MunicipalitiesIncluded: len(res.Processed),
		MunicipalitiesSkipped:  skippedNames,
		ProviderStats:          res.ProviderStats,
	}, points...)
	res.Boundaries = output.NewCollection(output.Metadata{
		Gemeente:               "Nederland",
		Slug:                   output.BoundariesSlug,
		GeneratedAt:            now.UTC(),
		MunicipalitiesIncluded: len(res.Processed),
		BoundariesCount:        countType(areas, output.TypeBoundary),
	}, areas...)

	log.Info("merge complete",
		zap.Int("municipalities", len(res.Processed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("stale", len(res.Stale)),
		zap.Int("input_points", res.InputPoints),
		zap.Int("unique_points", len(locs)),
	)
	return res, nil
}

// Write stores both national files in dir.
func Write(dir string, res *Result) error {
	if err := output.Write(filepath.Join(dir, output.NationalFile), res.Collection); err != nil {
		return eris.Wrap(err, "merge: write national file")
	}
	if err := output.Write(filepath.Join(dir, output.BoundariesFile), res.Boundaries); err != nil {
		return eris.Wrap(err, "merge: write boundaries file")
	}
	return nil
}

func providerNames(stats map[model.Carrier]int) []string {
	var out []string
	for _, c := range model.AllCarriers() {
		if stats[c] > 0 {
			out = append(out, string(c))
		}
	}
	return out
}

func countType(fs []*geojson.Feature, typ string) int {
	n := 0
	for _, f := range fs {
		if output.FeatureType(f) == typ {
			n++
		}
	}
	return n
}
