// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	TemplateLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_template_loads_total",
			Help: "Template loads by outcome",
		},
		[]string{"result"},
	)

	ImageEmbeds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_image_embeds_total",
			Help: "Image tokens processed by outcome (embedded, omitted)",
		},
		[]string{"result"},
	)

	UploadReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_reconciliations_total",
			Help: "Photo reconciliations by outcome (durable, unchanged, uploaded, failed, superseded)",
		},
		[]string{"result"},
	)

	ArtifactBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "export_artifact_bytes",
			Help:    "Size of generated presentation artifacts",
			Buckets: prometheus.ExponentialBuckets(64<<10, 2, 10),
		},
	)
)
