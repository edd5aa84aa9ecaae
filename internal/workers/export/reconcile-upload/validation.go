package reconcileupload

import "inspection-export/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"reportId", "fields"},
		Properties: map[string]validation.Property{
			"reportId": {
				Type:        "string",
				Description: "Identifier of the report owning the photos",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(100),
			},
			"fields": {
				Type:        "array",
				Description: "Photo fields to reconcile",
				Items: &validation.Property{
					Type:     "object",
					Required: []string{"field", "ref"},
					Properties: map[string]validation.Property{
						"field":          {Type: "string", MinLength: intPtr(1)},
						"ref":            {Type: "string"},
						"targetFilename": {Type: "string", MaxLength: intPtr(255)},
						"prefix":         {Type: "string", MaxLength: intPtr(100)},
						"capturedAt":     {Type: "string"},
					},
				},
			},
		},
		AdditionalProperties: true,
	}
}

func intPtr(i int) *int {
	return &i
}
