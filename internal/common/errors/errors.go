// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeMalformedDocument ErrorCode = "MALFORMED_DOCUMENT"

	ErrCodeReportNotFound ErrorCode = "REPORT_NOT_FOUND"
	ErrCodeReportLoad     ErrorCode = "REPORT_LOAD_FAILED"

	ErrCodeTemplateLoad            ErrorCode = "TEMPLATE_LOAD_FAILED"
	ErrCodeTemplateRevisionUnknown ErrorCode = "TEMPLATE_REVISION_UNKNOWN"
	ErrCodeSubstitution            ErrorCode = "SUBSTITUTION_FAILED"
	ErrCodeImageFetch              ErrorCode = "IMAGE_FETCH_FAILED"

	ErrCodeUploadReconciliation ErrorCode = "UPLOAD_RECONCILIATION_FAILED"
	ErrCodeArtifactStore        ErrorCode = "ARTIFACT_STORE_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func details(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid job input", details, false)
}

func NewMalformedDocumentError(err error) *StandardError {
	return newError(ErrCodeMalformedDocument, "Report document is not a JSON object", details(err), false)
}

func NewReportNotFoundError(reportID string) *StandardError {
	return newError(ErrCodeReportNotFound, "Report not found", fmt.Sprintf("report %s does not exist", reportID), false)
}

// NewReportLoadError creates a retryable error for storage outages.
func NewReportLoadError(err error) *StandardError {
	return newError(ErrCodeReportLoad, "Failed to load report", details(err), true)
}

// NewTemplateLoadError creates a retryable error; every template source failed.
func NewTemplateLoadError(err error) *StandardError {
	return newError(ErrCodeTemplateLoad, "Failed to load template", details(err), true)
}

func NewTemplateRevisionUnknownError(revision string) *StandardError {
	return newError(ErrCodeTemplateRevisionUnknown, "Unknown template revision", revision, false)
}

func NewSubstitutionError(err error) *StandardError {
	return newError(ErrCodeSubstitution, "Placeholder substitution failed", details(err), false)
}

func NewImageFetchError(err error) *StandardError {
	return newError(ErrCodeImageFetch, "Failed to fetch image", details(err), true)
}

func NewUploadReconciliationError(err error) *StandardError {
	return newError(ErrCodeUploadReconciliation, "Photo upload failed", details(err), true)
}

func NewArtifactStoreError(err error) *StandardError {
	return newError(ErrCodeArtifactStore, "Failed to store export artifact", details(err), true)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := newError(ErrCodeNotificationSendFailed, "Failed to send notification", details(err), true)
	e.Metadata = map[string]interface{}{"channel": channel}
	return e
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", details(err), false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes (same as internal).
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidInput:            "INVALID_INPUT",
	ErrCodeMalformedDocument:       "MALFORMED_DOCUMENT",
	ErrCodeReportNotFound:          "REPORT_NOT_FOUND",
	ErrCodeReportLoad:              "REPORT_LOAD_FAILED",
	ErrCodeTemplateLoad:            "TEMPLATE_LOAD_FAILED",
	ErrCodeTemplateRevisionUnknown: "TEMPLATE_REVISION_UNKNOWN",
	ErrCodeSubstitution:            "SUBSTITUTION_FAILED",
	ErrCodeImageFetch:              "IMAGE_FETCH_FAILED",
	ErrCodeUploadReconciliation:    "UPLOAD_RECONCILIATION_FAILED",
	ErrCodeArtifactStore:           "ARTIFACT_STORE_FAILED",
	ErrCodeNotificationSendFailed:  "NOTIFICATION_SEND_FAILED",
	ErrCodeInternal:                "INTERNAL_ERROR",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeReportLoad,
		ErrCodeTemplateLoad,
		ErrCodeUploadReconciliation,
		ErrCodeArtifactStore,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeImageFetch:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code) // Fallback
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TEMPLATE"), strings.Contains(codeStr, "SUBSTITUTION"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "REPORT"), strings.Contains(codeStr, "DOCUMENT"):
		return "REPORT"
	case strings.Contains(codeStr, "IMAGE"), strings.Contains(codeStr, "UPLOAD"), strings.Contains(codeStr, "ARTIFACT"):
		return "STORAGE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
