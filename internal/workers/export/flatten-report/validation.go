package flattenreport

import "inspection-export/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"reportId": {
				Type:        "string",
				Description: "Stored report to flatten",
				MaxLength:   intPtr(100),
			},
			"document": {
				Type:        "object",
				Description: "Inline report document; takes precedence over reportId",
			},
			"templateRevision": {
				Type:        "string",
				Description: "Template revision id; the report's or the registry default when empty",
				Pattern:     strPtr(`^[a-z0-9-]*$`),
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
