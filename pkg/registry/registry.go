// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"inspection-export/internal/models"
	"inspection-export/internal/report/flatten"
)

//go:embed default_registry.yaml
var defaultRegistry []byte

var (
	ErrRevisionNotFound = errors.New("TEMPLATE_REVISION_UNKNOWN")
	ErrInvalidRegistry  = errors.New("INVALID_TEMPLATE_REGISTRY")
)

// LoadRegistry reads a registry file. An empty path yields the embedded default.
func LoadRegistry(path string) (*TemplateRegistry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Default returns the registry compiled into the binary.
func Default() (*TemplateRegistry, error) {
	return Parse(defaultRegistry)
}

// Parse validates a YAML (or JSON) registry document and decodes it.
func Parse(data []byte) (*TemplateRegistry, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(registrySchema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRegistry, strings.Join(msgs, "; "))
	}

	var reg TemplateRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}

	seen := make(map[string]bool, len(reg.Revisions))
	for _, rev := range reg.Revisions {
		if seen[rev.ID] {
			return nil, fmt.Errorf("%w: duplicate revision %q", ErrInvalidRegistry, rev.ID)
		}
		seen[rev.ID] = true
		for group := range rev.Groups {
			if _, ok := flatten.LayoutFor(group); !ok {
				return nil, fmt.Errorf("%w: revision %q: unknown row group %q", ErrInvalidRegistry, rev.ID, group)
			}
		}
		for group := range rev.Manifest.Rows {
			if _, ok := flatten.LayoutFor(group); !ok {
				return nil, fmt.Errorf("%w: revision %q: unknown row group %q", ErrInvalidRegistry, rev.ID, group)
			}
		}
	}
	if reg.DefaultRevision != "" && !seen[reg.DefaultRevision] {
		return nil, fmt.Errorf("%w: default revision %q is not declared", ErrInvalidRegistry, reg.DefaultRevision)
	}
	return &reg, nil
}

// Lookup returns the revision with the given id; an empty id selects the
// default revision.
func (r *TemplateRegistry) Lookup(id string) (*Revision, error) {
	if id == "" {
		id = r.DefaultRevision
	}
	for i := range r.Revisions {
		if r.Revisions[i].ID == id {
			return &r.Revisions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrRevisionNotFound, id)
}

// FlattenOptions returns the flattening options bound to this revision.
func (rev *Revision) FlattenOptions(filesBaseURL string) flatten.Options {
	opts := flatten.Options{
		Glyphs:       flatten.GlyphConvention(rev.Glyphs),
		Dates:        flatten.DateStyle(rev.Dates),
		FilesBaseURL: filesBaseURL,
	}
	if opts.Glyphs == "" {
		opts.Glyphs = flatten.GlyphsBoth
	}
	if opts.Dates == "" {
		opts.Dates = flatten.DatesRaw
	}
	if len(rev.Groups) > 0 {
		opts.RowLimits = make(map[string]int, len(rev.Groups))
		for g, n := range rev.Groups {
			opts.RowLimits[g] = n
		}
	}
	return opts
}

// RowCapacity is the number of row slots the revision declares for a group.
func (rev *Revision) RowCapacity(group string) int {
	if n, ok := rev.Groups[group]; ok {
		return n
	}
	if layout, ok := flatten.LayoutFor(group); ok {
		return layout.Max
	}
	return 0
}

// ExpectedKeys expands the manifest into the sorted list of every key the
// template declares.
func (rev *Revision) ExpectedKeys() []string {
	set := make(map[string]struct{}, len(rev.Manifest.Keys))
	for _, k := range rev.Manifest.Keys {
		set[k] = struct{}{}
	}
	for group, patterns := range rev.Manifest.Rows {
		n := rev.RowCapacity(group)
		for _, pattern := range patterns {
			for i := 1; i <= n; i++ {
				for _, k := range expand(strings.ReplaceAll(pattern, "{i}", strconv.Itoa(i))) {
					set[k] = struct{}{}
				}
			}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expand substitutes the defect slot and defect photo slot variables.
func expand(pattern string) []string {
	out := []string{pattern}
	for _, v := range []struct {
		name string
		n    int
	}{
		{"{d}", flatten.DefectSlots},
		{"{k}", flatten.PhotosPerDefect},
	} {
		if !strings.Contains(pattern, v.name) {
			continue
		}
		next := make([]string, 0, len(out)*v.n)
		for _, p := range out {
			for j := 1; j <= v.n; j++ {
				next = append(next, strings.ReplaceAll(p, v.name, strconv.Itoa(j)))
			}
		}
		out = next
	}
	return out
}

// Missing lists the declared keys that values does not populate.
func (rev *Revision) Missing(values models.PlaceholderMap) []string {
	var missing []string
	for _, k := range rev.ExpectedKeys() {
		if _, ok := values[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
