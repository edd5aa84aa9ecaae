package reconcileupload

import "inspection-export/internal/upload"

// FieldInput is one photo field to make durable. When TargetFilename is
// empty the name is derived from Prefix and CapturedAt.
type FieldInput struct {
	Field          string `json:"field"`
	Ref            string `json:"ref"`
	TargetFilename string `json:"targetFilename,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	CapturedAt     string `json:"capturedAt,omitempty"` // RFC 3339
}

type Input struct {
	ReportID string       `json:"reportId"`
	Fields   []FieldInput `json:"fields"`
}

type Output struct {
	ReportID   string          `json:"reportId"`
	Results    []upload.Result `json:"reconciliation"`
	Stored     int             `json:"storedRefs"`
	Failed     int             `json:"failedRefs"`
	Superseded int             `json:"supersededRefs"`
	AllDurable bool            `json:"allDurable"`
}
