package exportreport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inspection-export/internal/audit"
	"inspection-export/internal/common/config"
	commonerrors "inspection-export/internal/common/errors"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/common/metrics"
	"inspection-export/internal/common/validation"
	"inspection-export/internal/export"
	"inspection-export/internal/notify"
	"inspection-export/internal/report/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const TaskType = "export-report"

type ReportStore interface {
	Load(ctx context.Context, id string) (*store.Report, error)
	RecordExport(ctx context.Context, rec *store.ExportRecord) error
	SetExportStatus(ctx context.Context, id, status string) error
}

type Renderer interface {
	Export(ctx context.Context, doc []byte, revisionID string) (*export.Result, error)
}

// ArtifactStore keeps generated presentations.
type ArtifactStore interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string) error
	FileURL(name string) string
}

type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) error
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) (notify.Delivery, error)
}

type Handler struct {
	config       *Config
	reports      ReportStore
	renderer     Renderer
	artifacts    ArtifactStore
	audit        AuditRecorder
	notifier     Notifier
	errorHandler *commonerrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
	newID        func() string
}

// HandlerOptions wires the collaborators. Audit and Notifier are optional.
type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Reports      ReportStore
	Renderer     Renderer
	Artifacts    ArtifactStore
	Audit        AuditRecorder
	Notifier     Notifier
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Reports == nil || opts.Renderer == nil || opts.Artifacts == nil {
		return nil, fmt.Errorf("%s requires a report store, a renderer and an artifact store", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		reports:      opts.Reports,
		renderer:     opts.Renderer,
		artifacts:    opts.Artifacts,
		audit:        opts.Audit,
		notifier:     opts.Notifier,
		errorHandler: commonerrors.NewErrorHandler(log),
		logger:       log,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		if output, err = h.Execute(ctx, input); err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
			return
		}
	}

	stdErr := export.Classify(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, commonerrors.NewInvalidInputError(fmt.Sprintf("parse job variables: %v", err))
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return nil, commonerrors.NewInvalidInputError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := job.GetVariablesAs(&input); err != nil {
		return nil, commonerrors.NewInvalidInputError(fmt.Sprintf("decode job variables: %v", err))
	}
	if input.RequestedBy != "" && !validation.ValidateEmail(input.RequestedBy) {
		return nil, commonerrors.NewInvalidInputError("requestedBy is not an e-mail address")
	}
	return &input, nil
}

// Execute loads the report, renders it, stores the artifact and records the
// export. Audit and notification failures are logged and never fail the
// export.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.ReportID) == "" {
		return nil, commonerrors.NewInvalidInputError("reportId is required")
	}
	started := h.now()
	exportID := h.newID()

	report, err := h.reports.Load(ctx, input.ReportID)
	if err != nil {
		return nil, export.Classify(err)
	}
	revision := input.TemplateRevision
	if revision == "" {
		revision = report.TemplateRevision
	}

	out, err := h.render(ctx, exportID, report, revision, input)
	if err != nil {
		stdErr := export.Classify(err)
		h.recordAudit(ctx, audit.Record{
			ExportID:         exportID,
			ReportID:         input.ReportID,
			TemplateRevision: revision,
			Status:           audit.StatusFailed,
			ErrorCode:        string(stdErr.Code),
			Error:            stdErr.Details,
			DurationMs:       h.now().Sub(started).Milliseconds(),
			RequestedBy:      input.RequestedBy,
		})
		if h.config.NotifyFailures {
			h.sendNotification(ctx, notify.Event{
				ExportID:  exportID,
				ReportID:  input.ReportID,
				ErrorCode: string(stdErr.Code),
				Recipient: input.RequestedBy,
			})
		}
		return nil, stdErr
	}

	h.recordAudit(ctx, audit.Record{
		ExportID:         exportID,
		ReportID:         out.ReportID,
		TemplateRevision: out.TemplateRevision,
		Status:           audit.StatusCompleted,
		ArtifactName:     out.ArtifactName,
		SHA256:           out.SHA256,
		Size:             out.Size,
		TextTokens:       out.TextTokens,
		MissingKeys:      out.MissingKeys,
		ImagesEmbedded:   out.ImagesEmbedded,
		ImagesFailed:     out.ImagesFailed,
		Warnings:         out.Warnings,
		DurationMs:       h.now().Sub(started).Milliseconds(),
		RequestedBy:      input.RequestedBy,
	})
	return out, nil
}

func (h *Handler) render(ctx context.Context, exportID string, report *store.Report, revision string, input *Input) (*Output, error) {
	res, err := h.renderer.Export(ctx, report.Document, revision)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Flat.Warnings {
		h.logger.Warn("photo not reconciled before export", map[string]interface{}{
			"reportId":  input.ReportID,
			"errorCode": string(commonerrors.ErrCodeUploadReconciliation),
			"warning":   w,
		})
	}

	artifact := res.Artifact
	createdAt := h.now().UTC()

	out := &Output{
		ExportID:         exportID,
		ReportID:         input.ReportID,
		TemplateRevision: res.Revision.ID,
		ArtifactName:     artifact.Name,
		ArtifactURL:      h.artifacts.FileURL(artifact.Name),
		SHA256:           artifact.SHA256,
		Size:             artifact.Size,
		TextTokens:       res.Substitution.TextTokens,
		MissingKeys:      res.Substitution.MissingKeys,
		ImagesEmbedded:   res.ImagesEmbedded(),
		ImagesFailed:     res.ImagesFailed(),
		Warnings:         res.Warnings,
		CreatedAt:        createdAt.Format(time.RFC3339),
	}

	// The row exists before the artifact so a stored file is never unrecorded.
	if err := h.reports.RecordExport(ctx, &store.ExportRecord{
		ID:               exportID,
		ReportID:         out.ReportID,
		TemplateRevision: out.TemplateRevision,
		Name:             out.ArtifactName,
		URL:              out.ArtifactURL,
		SHA256:           out.SHA256,
		Size:             out.Size,
		Warnings:         out.Warnings,
		RequestedBy:      input.RequestedBy,
		Status:           store.ExportPending,
		CreatedAt:        createdAt,
	}); err != nil {
		return nil, err
	}

	if err := h.artifacts.Upload(ctx, artifact.Name, artifact.Data, artifact.ContentType); err != nil {
		if serr := h.reports.SetExportStatus(ctx, exportID, store.ExportFailed); serr != nil {
			h.logger.Warn("failed export not marked", map[string]interface{}{
				"exportId": exportID,
				"error":    serr.Error(),
			})
		}
		return nil, commonerrors.NewArtifactStoreError(err)
	}
	if err := h.reports.SetExportStatus(ctx, exportID, store.ExportStored); err != nil {
		return nil, err
	}

	out.Notification = h.sendNotification(ctx, notify.Event{
		ExportID:     exportID,
		ReportID:     out.ReportID,
		Title:        title(res),
		Succeeded:    true,
		ArtifactName: out.ArtifactName,
		DownloadURL:  out.ArtifactURL,
		Warnings:     out.Warnings,
		Recipient:    input.RequestedBy,
	})
	return out, nil
}

func title(res *export.Result) string {
	if t := res.Report.Header.Title; t != "" {
		return t
	}
	return export.Subject(res.Report)
}

func (h *Handler) recordAudit(ctx context.Context, rec audit.Record) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, rec); err != nil {
		h.logger.Warn("export audit not recorded", map[string]interface{}{
			"exportId": rec.ExportID,
			"error":    err.Error(),
		})
	}
}

func (h *Handler) sendNotification(ctx context.Context, ev notify.Event) notify.Delivery {
	if h.notifier == nil {
		return notify.Delivery{}
	}
	delivery, err := h.notifier.Notify(ctx, ev)
	if err != nil {
		stdErr := export.Classify(err)
		h.logger.Warn("export notification failed", map[string]interface{}{
			"exportId":  ev.ExportID,
			"errorCode": string(stdErr.Code),
			"error":     err.Error(),
		})
	}
	return delivery
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":   job.GetKey(),
		"exportId": output.ExportID,
		"artifact": output.ArtifactName,
	})
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
