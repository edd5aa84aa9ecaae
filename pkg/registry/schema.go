// pkg/registry/schema.go
package registry

// TemplateRegistry lists every slide template revision the exporter knows.
type TemplateRegistry struct {
	Version         string     `yaml:"version" json:"version"`
	LastUpdated     string     `yaml:"lastUpdated" json:"lastUpdated"`
	DefaultRevision string     `yaml:"defaultRevision" json:"defaultRevision"`
	Revisions       []Revision `yaml:"revisions" json:"revisions"`
}

// Revision binds one template file to its rendering conventions and to the
// manifest of every key the template declares.
type Revision struct {
	ID          string         `yaml:"id" json:"id"`
	DisplayName string         `yaml:"displayName" json:"displayName"`
	File        string         `yaml:"file" json:"file"`
	Glyphs      string         `yaml:"glyphs" json:"glyphs"`       // checkbox, tick or both
	Dates       string         `yaml:"dateStyle" json:"dateStyle"` // raw or thai
	Images      bool           `yaml:"images" json:"images"`       // template carries {%key} image tokens
	Groups      map[string]int `yaml:"groups" json:"groups"`       // row capacity per group
	Manifest    Manifest       `yaml:"manifest" json:"manifest"`
}

// Manifest declares template keys. Row patterns may use {i} (row slot),
// {d} (defect slot) and {k} (defect photo slot).
type Manifest struct {
	Keys []string            `yaml:"keys" json:"keys"`
	Rows map[string][]string `yaml:"rows" json:"rows"`
}

// registrySchema is checked against the raw document before decoding.
var registrySchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"version", "revisions"},
	"properties": map[string]interface{}{
		"version":         map[string]interface{}{"type": "string"},
		"lastUpdated":     map[string]interface{}{"type": "string"},
		"defaultRevision": map[string]interface{}{"type": "string"},
		"revisions": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"id", "file", "manifest"},
				"properties": map[string]interface{}{
					"id":        map[string]interface{}{"type": "string", "minLength": 1},
					"file":      map[string]interface{}{"type": "string", "pattern": `\.pptx$`},
					"glyphs":    map[string]interface{}{"enum": []interface{}{"checkbox", "tick", "both"}},
					"dateStyle": map[string]interface{}{"enum": []interface{}{"raw", "thai"}},
					"images":    map[string]interface{}{"type": "boolean"},
					"groups": map[string]interface{}{
						"type":                 "object",
						"additionalProperties": map[string]interface{}{"type": "integer", "minimum": 0},
					},
					"manifest": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"keys": map[string]interface{}{
								"type":  "array",
								"items": map[string]interface{}{"type": "string"},
							},
							"rows": map[string]interface{}{
								"type": "object",
								"additionalProperties": map[string]interface{}{
									"type":  "array",
									"items": map[string]interface{}{"type": "string", "pattern": `\{i\}`},
								},
							},
						},
					},
				},
			},
		},
	},
}
