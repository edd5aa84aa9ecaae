package exportreport

import "inspection-export/internal/notify"

type Input struct {
	ReportID         string `json:"reportId"`
	TemplateRevision string `json:"templateRevision,omitempty"`
	RequestedBy      string `json:"requestedBy,omitempty"` // e-mail of the requester
}

type Output struct {
	ExportID         string          `json:"exportId"`
	ReportID         string          `json:"reportId"`
	TemplateRevision string          `json:"templateRevision"`
	ArtifactName     string          `json:"artifactName"`
	ArtifactURL      string          `json:"artifactUrl"`
	SHA256           string          `json:"artifactSha256"`
	Size             int             `json:"artifactSize"`
	TextTokens       int             `json:"textTokens"`
	MissingKeys      []string        `json:"missingKeys,omitempty"`
	ImagesEmbedded   int             `json:"imagesEmbedded"`
	ImagesFailed     int             `json:"imagesFailed"`
	Warnings         []string        `json:"warnings,omitempty"`
	Notification     notify.Delivery `json:"notification"`
	CreatedAt        string          `json:"createdAt"` // RFC 3339
}
