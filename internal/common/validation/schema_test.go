package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func createTestSchema() JSONSchema {
	return JSONSchema{
		Type:     "object",
		Required: []string{"reportId", "fields"},
		Properties: map[string]Property{
			"reportId": {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(10)},
			"revision": {Type: "string", Pattern: strPtr(`^[a-z0-9-]*$`)},
			"mode":     {Type: "string", Enum: []string{"text", "images"}},
			"fields": {
				Type: "array",
				Items: &Property{
					Type:     "object",
					Required: []string{"field", "ref"},
					Properties: map[string]Property{
						"field": {Type: "string"},
						"ref":   {Type: "string"},
					},
				},
			},
		},
	}
}

func TestValidateInput_Valid(t *testing.T) {
	result := ValidateInput(map[string]interface{}{
		"reportId": "R-1",
		"revision": "signboard-v2",
		"mode":     "images",
		"fields": []interface{}{
			map[string]interface{}{"field": "photos.cover", "ref": "cover.jpg", "extra": true},
		},
	}, createTestSchema())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateInput_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]interface{}
		field string
		code  string
	}{
		{
			name:  "missing required",
			input: map[string]interface{}{"fields": []interface{}{}},
			field: "reportId",
			code:  "REQUIRED_FIELD_MISSING",
		},
		{
			name:  "wrong type",
			input: map[string]interface{}{"reportId": 7.0, "fields": []interface{}{}},
			field: "reportId",
			code:  "INVALID_TYPE",
		},
		{
			name:  "too long",
			input: map[string]interface{}{"reportId": "REPORT-12345", "fields": []interface{}{}},
			field: "reportId",
			code:  "MAX_LENGTH_VIOLATION",
		},
		{
			name:  "pattern",
			input: map[string]interface{}{"reportId": "R", "revision": "V2!", "fields": []interface{}{}},
			field: "revision",
			code:  "PATTERN_MISMATCH",
		},
		{
			name:  "enum",
			input: map[string]interface{}{"reportId": "R", "mode": "video", "fields": []interface{}{}},
			field: "mode",
			code:  "INVALID_ENUM_VALUE",
		},
		{
			name:  "extra top-level field",
			input: map[string]interface{}{"reportId": "R", "fields": []interface{}{}, "surprise": 1},
			field: "(root)",
			code:  "EXTRA_FIELD",
		},
		{
			name: "nested required",
			input: map[string]interface{}{"reportId": "R", "fields": []interface{}{
				map[string]interface{}{"field": "photos.cover", "ref": "a.jpg"},
				map[string]interface{}{"field": "photos.main"},
			}},
			field: "fields[1].ref",
			code:  "REQUIRED_FIELD_MISSING",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateInput(tt.input, createTestSchema())
			require.False(t, result.Valid)

			var codes []string
			for _, e := range result.Errors {
				if e.Field == tt.field {
					codes = append(codes, e.Code)
				}
			}
			assert.Contains(t, codes, tt.code, "errors: %v", result.GetErrorMessages())
		})
	}
}

func TestValidationResult_HasErrors(t *testing.T) {
	result := &ValidationResult{Errors: []ValidationError{{Field: "fields[0].ref"}}}
	assert.True(t, result.HasErrors("fields"))
	assert.True(t, result.HasErrors("fields[0].ref"))
	assert.False(t, result.HasErrors("reportId"))
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "", fieldPath("(root)"))
	assert.Equal(t, "fields[0].ref", fieldPath("fields.0.ref"))
	assert.Equal(t, "rows[2][1]", fieldPath("rows.2.1"))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("inspector@example.co.th"))
	assert.False(t, ValidateEmail("inspector"))
	assert.False(t, ValidateEmail("a@b"))
}
