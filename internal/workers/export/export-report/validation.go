package exportreport

import "inspection-export/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"reportId"},
		Properties: map[string]validation.Property{
			"reportId": {
				Type:        "string",
				Description: "Stored report to export",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(100),
			},
			"templateRevision": {
				Type:        "string",
				Description: "Template revision id; the report's or the registry default when empty",
				Pattern:     strPtr(`^[a-z0-9-]*$`),
			},
			"requestedBy": {
				Type:        "string",
				Description: "E-mail address notified about the outcome",
				MaxLength:   intPtr(255),
			},
		},
		AdditionalProperties: true,
	}
}

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}
