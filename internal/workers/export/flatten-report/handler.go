package flattenreport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"inspection-export/internal/common/config"
	commonerrors "inspection-export/internal/common/errors"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/common/metrics"
	"inspection-export/internal/common/validation"
	"inspection-export/internal/export"
	"inspection-export/internal/report/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "flatten-report"

type ReportLoader interface {
	Load(ctx context.Context, id string) (*store.Report, error)
}

type Previewer interface {
	Preview(ctx context.Context, doc []byte, revisionID string) (*export.Preview, error)
}

type Handler struct {
	config       *Config
	reports      ReportLoader
	previewer    Previewer
	errorHandler *commonerrors.ErrorHandler
	logger       logger.Logger
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Reports      ReportLoader
	Previewer    Previewer
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Previewer == nil {
		return nil, fmt.Errorf("%s requires a previewer", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		reports:      opts.Reports,
		previewer:    opts.Previewer,
		errorHandler: commonerrors.NewErrorHandler(log),
		logger:       log,
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
	return &input, nil
}

// Execute flattens the inline document, or the stored one when none is
// given, and reports how well it covers the revision's manifest.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	doc, revision, err := h.document(ctx, input)
	if err != nil {
		return nil, err
	}

	preview, err := h.previewer.Preview(ctx, doc, revision)
	if err != nil {
		return nil, export.Classify(err)
	}

	out := &Output{
		ReportID:         input.ReportID,
		TemplateRevision: preview.Revision.ID,
		KeyCount:         len(preview.Flat.Values),
		MissingKeys:      preview.MissingKeys,
		Warnings:         preview.Flat.Warnings,
		Complete:         len(preview.MissingKeys) == 0,
	}
	if out.ReportID == "" {
		out.ReportID = preview.Report.ID
	}
	if h.config.IncludeValues {
		out.Values = preview.Flat.Values
	}
	for k := range preview.Flat.Images {
		out.ImageKeys = append(out.ImageKeys, k)
	}
	sort.Strings(out.ImageKeys)

	h.logger.Info("report flattened", map[string]interface{}{
		"reportId":    out.ReportID,
		"revision":    out.TemplateRevision,
		"keys":        out.KeyCount,
		"missingKeys": len(out.MissingKeys),
		"warnings":    len(out.Warnings),
	})
	return out, nil
}

func (h *Handler) document(ctx context.Context, input *Input) ([]byte, string, error) {
	if input.Document != nil {
		doc, err := json.Marshal(input.Document)
		if err != nil {
			return nil, "", commonerrors.NewMalformedDocumentError(err)
		}
		return doc, input.TemplateRevision, nil
	}
	if strings.TrimSpace(input.ReportID) == "" {
		return nil, "", commonerrors.NewInvalidInputError("either document or reportId is required")
	}
	if h.reports == nil {
		return nil, "", commonerrors.NewInvalidInputError("no report store configured; pass the document inline")
	}

	report, err := h.reports.Load(ctx, input.ReportID)
	if err != nil {
		return nil, "", export.Classify(err)
	}
	revision := input.TemplateRevision
	if revision == "" {
		revision = report.TemplateRevision
	}
	return report.Document, revision, nil
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
		"complete": output.Complete,
	})
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
