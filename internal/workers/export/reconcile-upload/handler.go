package reconcileupload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inspection-export/internal/common/config"
	commonerrors "inspection-export/internal/common/errors"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/common/metrics"
	"inspection-export/internal/common/validation"
	"inspection-export/internal/export"
	"inspection-export/internal/report/store"
	"inspection-export/internal/upload"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "reconcile-upload"

// FieldReconciler makes photo references durable.
type FieldReconciler interface {
	ReconcileFields(ctx context.Context, scope string, reqs []upload.FieldRequest) []upload.Result
}

// PhotoStore writes durable references back into the report document. A
// write older than the stored generation fails with store.ErrSuperseded.
type PhotoStore interface {
	SetPhotoRef(ctx context.Context, reportID, field, ref string, generation int64) error
}

type Handler struct {
	config       *Config
	reconciler   FieldReconciler
	store        PhotoStore
	errorHandler *commonerrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Reconciler   FieldReconciler
	Store        PhotoStore
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Reconciler == nil || opts.Store == nil {
		return nil, fmt.Errorf("%s requires a reconciler and a report store", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		reconciler:   opts.Reconciler,
		store:        opts.Store,
		errorHandler: commonerrors.NewErrorHandler(log),
		logger:       log,
		now:          time.Now,
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
	if len(input.Fields) > h.config.MaxFields {
		return nil, commonerrors.NewInvalidInputError(fmt.Sprintf("%d fields exceed the limit of %d", len(input.Fields), h.config.MaxFields))
	}
	return &input, nil
}

// Execute reconciles every field and stores the durable names it obtained.
// A field that fails keeps its previous reference and is reported, not
// raised; only a failure to write the report fails the job. A write that a
// newer trigger for the same field has overtaken is dropped as superseded.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.ReportID) == "" {
		return nil, commonerrors.NewInvalidInputError("reportId is required")
	}

	reqs := make([]upload.FieldRequest, 0, len(input.Fields))
	seen := make(map[string]bool, len(input.Fields))
	for _, f := range input.Fields {
		if seen[f.Field] {
			return nil, commonerrors.NewInvalidInputError(fmt.Sprintf("field %s listed twice", f.Field))
		}
		seen[f.Field] = true
		reqs = append(reqs, upload.FieldRequest{
			Field:          f.Field,
			Ref:            f.Ref,
			TargetFilename: h.targetFilename(f),
		})
	}

	results := h.reconciler.ReconcileFields(ctx, input.ReportID, reqs)

	out := &Output{ReportID: input.ReportID, Results: results, AllDurable: true}
	for i, res := range results {
		if res.Outcome == upload.OutcomeSuperseded {
			out.Superseded++
			continue
		}
		if !res.OK() {
			out.Failed++
			out.AllDurable = false
			continue
		}
		if res.Outcome == upload.OutcomeDurable {
			continue
		}
		err := h.store.SetPhotoRef(ctx, input.ReportID, res.Field, res.Ref, res.Generation)
		if errors.Is(err, store.ErrSuperseded) {
			h.logger.Info("photo reference overtaken by a newer save", map[string]interface{}{
				"reportId":   input.ReportID,
				"field":      res.Field,
				"generation": res.Generation,
			})
			results[i].Outcome = upload.OutcomeSuperseded
			results[i].Ref = ""
			out.Superseded++
			continue
		}
		if err != nil {
			return nil, commonerrors.NewUploadReconciliationError(err)
		}
		out.Stored++
	}

	h.logger.Info("photo fields reconciled", map[string]interface{}{
		"reportId":   input.ReportID,
		"fields":     len(results),
		"stored":     out.Stored,
		"failed":     out.Failed,
		"superseded": out.Superseded,
	})
	return out, nil
}

func (h *Handler) targetFilename(f FieldInput) string {
	if f.TargetFilename != "" {
		return f.TargetFilename
	}
	capturedAt := h.now()
	if f.CapturedAt != "" {
		if t, err := time.Parse(time.RFC3339, f.CapturedAt); err == nil {
			capturedAt = t
		}
	}
	prefix := f.Prefix
	if prefix == "" {
		prefix = f.Field[strings.LastIndex(f.Field, ".")+1:]
	}
	return upload.Filename(prefix, capturedAt, upload.ExtensionFor(dataURLContentType(f.Ref), f.Ref))
}

// dataURLContentType returns the media type of a data: reference.
func dataURLContentType(ref string) string {
	if !strings.HasPrefix(ref, "data:") {
		return ""
	}
	rest := ref[len("data:"):]
	if i := strings.IndexAny(rest, ";,"); i >= 0 {
		return rest[:i]
	}
	return ""
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
		"jobKey":     job.GetKey(),
		"allDurable": output.AllDurable,
	})
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
