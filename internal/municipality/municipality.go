// Package municipality loads the list of Dutch municipalities the batch
// processes and derives their URL slugs.
package municipality

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Municipality is one entry of the municipality list.
type Municipality struct {
	Name string `json:"name" yaml:"name"`
	Slug string `json:"slug" yaml:"slug"`
	// Code is the CBS gemeentecode, e.g. "0344" for Utrecht. Optional.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
	// Province is informational only.
	Province string `json:"province,omitempty" yaml:"province,omitempty"`
}

// Load reads a municipality list from a .json file or a YAML file. Missing
// slugs are derived from the name; duplicate slugs are rejected.
func Load(path string) ([]Municipality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "municipality: read %s", path)
	}
	var list []Municipality
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &list)
	} else {
		err = yaml.Unmarshal(data, &list)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "municipality: parse %s", filepath.Base(path))
	}
	return Normalize(list)
}

// Normalize trims names, fills missing slugs and rejects empty names and
// duplicate slugs.
func Normalize(list []Municipality) ([]Municipality, error) {
	seen := make(map[string]string, len(list))
	out := make([]Municipality, 0, len(list))
	for i, m := range list {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return nil, eris.Errorf("municipality: entry %d has no name", i)
		}
		if m.Slug == "" {
			m.Slug = Slugify(m.Name)
		}
		if prev, ok := seen[m.Slug]; ok {
			return nil, eris.Errorf("municipality: slug %q used by both %q and %q", m.Slug, prev, m.Name)
		}
		seen[m.Slug] = m.Name
		out = append(out, m)
	}
	return out, nil
}

// Slugify lowercases name, strips diacritics and replaces every run of
// other characters with a single hyphen: "'s-Hertogenbosch" becomes
// "s-hertogenbosch" and "Súdwest-Fryslân" becomes "sudwest-fryslan".
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if r == '\'' {
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Find looks up a municipality by slug, CBS code or case-insensitive name.
func Find(list []Municipality, key string) (Municipality, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Municipality{}, false
	}
	slug := Slugify(key)
	for _, m := range list {
		if m.Slug == key || m.Slug == slug || (m.Code != "" && m.Code == key) || strings.EqualFold(m.Name, key) {
			return m, true
		}
	}
	return Municipality{}, false
}

// Filter returns the municipalities matching any of keys, in list order.
// Unknown keys are returned separately.
func Filter(list []Municipality, keys []string) ([]Municipality, []string) {
	if len(keys) == 0 {
		return list, nil
	}
	want := make(map[string]bool)
	var unknown []string
	for _, k := range keys {
		m, ok := Find(list, k)
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		want[m.Slug] = true
	}
	var out []Municipality
	for _, m := range list {
		if want[m.Slug] {
			out = append(out, m)
		}
	}
	return out, unknown
}
