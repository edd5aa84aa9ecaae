package flattenreport

import "inspection-export/internal/models"

// Input names a stored report or carries the document inline.
type Input struct {
	ReportID         string                 `json:"reportId,omitempty"`
	Document         map[string]interface{} `json:"document,omitempty"`
	TemplateRevision string                 `json:"templateRevision,omitempty"`
}

type Output struct {
	ReportID         string                `json:"reportId,omitempty"`
	TemplateRevision string                `json:"templateRevision"`
	Values           models.PlaceholderMap `json:"placeholders,omitempty"`
	KeyCount         int                   `json:"placeholderCount"`
	ImageKeys        []string              `json:"imageKeys,omitempty"`
	MissingKeys      []string              `json:"missingKeys,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	Complete         bool                  `json:"complete"`
}
