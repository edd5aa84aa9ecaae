// Package export runs the report export pipeline: normalize the stored
// document, flatten it for a template revision, load the template, rewrite
// its slides and package the result.
package export

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"inspection-export/internal/common/logger"
	"inspection-export/internal/common/metrics"
	"inspection-export/internal/common/observability"
	"inspection-export/internal/models"
	"inspection-export/internal/pptx"
	"inspection-export/internal/report/flatten"
	"inspection-export/internal/report/normalize"
	"inspection-export/pkg/registry"
)

// TemplateLoader returns template container bytes by file name.
type TemplateLoader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

type Options struct {
	Component    string // first part of artifact names
	PartPattern  string // slide parts to rewrite; pptx.DefaultPartPattern when empty
	FilesBaseURL string // retrieval endpoint for durable photo names
	Now          func() time.Time
}

// Exporter is safe for concurrent use; every call works on its own copies.
type Exporter struct {
	registry  *registry.TemplateRegistry
	templates TemplateLoader
	textOnly  *pptx.Substituter
	embedding *pptx.Substituter
	opts      Options
	obs       *observability.Observability
	logger    logger.Logger
}

// New builds an exporter. A nil images strategy disables embedding for every
// revision; image tokens then render their text fallback.
func New(reg *registry.TemplateRegistry, templates TemplateLoader, images pptx.ImageStrategy, opts Options, obs *observability.Observability, log logger.Logger) (*Exporter, error) {
	if opts.PartPattern == "" {
		opts.PartPattern = pptx.DefaultPartPattern
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if obs == nil {
		obs = &observability.Observability{}
	}

	textOnly, err := pptx.NewSubstituter(opts.PartPattern, nil, log)
	if err != nil {
		return nil, err
	}
	e := &Exporter{
		registry:  reg,
		templates: templates,
		textOnly:  textOnly,
		opts:      opts,
		obs:       obs,
		logger:    log,
	}
	if images != nil {
		if e.embedding, err = pptx.NewSubstituter(opts.PartPattern, images, log); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Preview is the flattened form of a report for one revision.
type Preview struct {
	Revision    *registry.Revision
	Report      *models.InspectionReport
	Flat        *flatten.Result
	MissingKeys []string // manifest keys the flattener did not produce
}

// Preview normalizes and flattens doc without touching any template.
func (e *Exporter) Preview(ctx context.Context, doc []byte, revisionID string) (*Preview, error) {
	rev, err := e.registry.Lookup(revisionID)
	if err != nil {
		return nil, err
	}

	_, end := e.obs.StartSpan(ctx, "export.flatten", attribute.String("revision", rev.ID))
	report, err := normalize.Normalize(doc)
	if err != nil {
		end(err)
		return nil, err
	}
	flat := flatten.Flatten(report, rev.FlattenOptions(e.opts.FilesBaseURL))
	end(nil)

	return &Preview{
		Revision:    rev,
		Report:      report,
		Flat:        flat,
		MissingKeys: rev.Missing(flat.Values),
	}, nil
}

// Result is a finished export.
type Result struct {
	*Preview
	Artifact     *pptx.Artifact
	Substitution *pptx.SubstituteReport
	Warnings     []string
}

// ImagesEmbedded counts the image tokens replaced by pictures.
func (r *Result) ImagesEmbedded() int {
	n := 0
	for _, img := range r.Substitution.Images {
		if img.Embedded {
			n++
		}
	}
	return n
}

// ImagesFailed counts the image tokens that were omitted.
func (r *Result) ImagesFailed() int {
	return len(r.Substitution.Images) - r.ImagesEmbedded()
}

// Export renders doc with the template of revisionID. Template and
// substitution failures abort with no artifact; image failures only add
// warnings.
func (e *Exporter) Export(ctx context.Context, doc []byte, revisionID string) (*Result, error) {
	preview, err := e.Preview(ctx, doc, revisionID)
	if err != nil {
		return nil, err
	}
	rev := preview.Revision

	spanCtx, end := e.obs.StartSpan(ctx, "export.template", attribute.String("file", rev.File))
	tmpl, err := e.templates.Load(spanCtx, rev.File)
	end(err)
	if err != nil {
		metrics.TemplateLoads.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.TemplateLoads.WithLabelValues("success").Inc()

	sub := e.textOnly
	if rev.Images && e.embedding != nil {
		sub = e.embedding
	}

	spanCtx, end = e.obs.StartSpan(ctx, "export.substitute", attribute.Bool("images", sub == e.embedding))
	out, report, err := sub.Substitute(spanCtx, tmpl, preview.Flat.Values, preview.Flat.Images)
	end(err)
	if err != nil {
		return nil, err
	}

	artifact := pptx.Package(out, e.opts.Component, Subject(preview.Report), e.opts.Now())
	metrics.ArtifactBytes.Observe(float64(artifact.Size))

	res := &Result{
		Preview:      preview,
		Artifact:     artifact,
		Substitution: report,
		Warnings:     append([]string(nil), preview.Flat.Warnings...),
	}
	for _, img := range report.Images {
		if img.Embedded {
			metrics.ImageEmbeds.WithLabelValues("embedded").Inc()
			continue
		}
		metrics.ImageEmbeds.WithLabelValues("omitted").Inc()
		res.Warnings = append(res.Warnings, fmt.Sprintf("image %s omitted: %s", img.Key, img.Error))
	}

	e.logger.Info("report exported", map[string]interface{}{
		"revision":       rev.ID,
		"artifact":       artifact.Name,
		"bytes":          artifact.Size,
		"missingKeys":    len(report.MissingKeys),
		"imagesEmbedded": res.ImagesEmbedded(),
		"warnings":       len(res.Warnings),
	})
	return res, nil
}

// Subject identifies a report in artifact names: the report number, then
// the record id, then the sign name.
func Subject(r *models.InspectionReport) string {
	switch {
	case r.Header.ReportNo != "":
		return r.Header.ReportNo
	case r.ID != "":
		return r.ID
	default:
		return r.General.SignName
	}
}
