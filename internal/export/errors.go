package export

import (
	"errors"

	commonerrors "inspection-export/internal/common/errors"
	"inspection-export/internal/notify"
	"inspection-export/internal/pptx"
	"inspection-export/internal/report/normalize"
	"inspection-export/internal/report/store"
	"inspection-export/internal/upload"
	"inspection-export/pkg/registry"
)

// Classify maps a pipeline error onto its standard error code.
func Classify(err error) *commonerrors.StandardError {
	var std *commonerrors.StandardError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &std):
		return std
	case errors.Is(err, normalize.ErrMalformedDocument):
		return commonerrors.NewMalformedDocumentError(err)
	case errors.Is(err, registry.ErrRevisionNotFound):
		return commonerrors.NewTemplateRevisionUnknownError(err.Error())
	case errors.Is(err, pptx.ErrTemplateLoad):
		return commonerrors.NewTemplateLoadError(err)
	case errors.Is(err, pptx.ErrSubstitution):
		return commonerrors.NewSubstitutionError(err)
	case errors.Is(err, store.ErrReportNotFound):
		return commonerrors.NewReportNotFoundError(err.Error())
	case errors.Is(err, store.ErrReportLoad):
		return commonerrors.NewReportLoadError(err)
	case errors.Is(err, store.ErrExportRecord):
		return commonerrors.NewArtifactStoreError(err)
	case errors.Is(err, upload.ErrReconciliation):
		return commonerrors.NewUploadReconciliationError(err)
	case errors.Is(err, notify.ErrNotificationSend):
		return commonerrors.NewNotificationSendFailedError("export", err)
	default:
		return commonerrors.NewInternalError(err)
	}
}
