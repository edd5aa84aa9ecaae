// Package upload moves transient photo references (unsaved data payloads and
// staged local files) into durable storage ahead of export.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"inspection-export/internal/common/logger"
	"inspection-export/internal/common/metrics"
	"inspection-export/internal/models"
)

var ErrReconciliation = errors.New("UPLOAD_RECONCILIATION_FAILED")

// Uploader persists bytes under a filename.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string) error
}

// Outcome names what a reconciliation did.
type Outcome string

const (
	OutcomeDurable    Outcome = "durable"    // already durable, nothing to do
	OutcomeUnchanged  Outcome = "unchanged"  // same bytes already persisted under the filename
	OutcomeUploaded   Outcome = "uploaded"   // bytes persisted now
	OutcomeFailed     Outcome = "failed"     // nothing persisted; keep the previous reference
	OutcomeSuperseded Outcome = "superseded" // a newer trigger for the same field owns the result
)

// Result is the detailed outcome of one reconciliation.
type Result struct {
	Field      string  `json:"field,omitempty"`
	Ref        string  `json:"ref"`      // durable reference to store; empty unless Outcome is durable, unchanged or uploaded
	Filename   string  `json:"filename"` // target filename
	Outcome    Outcome `json:"outcome"`
	Error      string  `json:"error,omitempty"`
	Generation int64   `json:"generation,omitempty"` // orders results for the same field; set by ReconcileFields
}

// OK reports whether the reference may replace the stored one.
func (r Result) OK() bool {
	switch r.Outcome {
	case OutcomeDurable, OutcomeUnchanged, OutcomeUploaded:
		return true
	}
	return false
}

// Reconciler persists transient references exactly once per distinct
// filename and content. It enforces no timeout of its own; callers bound
// the work through ctx.
type Reconciler struct {
	uploader    Uploader
	ledger      Ledger
	generations Generations
	stagingDir  string
	logger      logger.Logger
}

func NewReconciler(uploader Uploader, ledger Ledger, generations Generations, stagingDir string, log logger.Logger) *Reconciler {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	if generations == nil {
		generations = NewMemoryGenerations()
	}
	return &Reconciler{
		uploader:    uploader,
		ledger:      ledger,
		generations: generations,
		stagingDir:  stagingDir,
		logger:      log,
	}
}

// Reconcile reports whether ref is durable once the call returns.
func (r *Reconciler) Reconcile(ctx context.Context, ref, targetFilename string) bool {
	res, _ := r.Persist(ctx, ref, targetFilename)
	return res.OK()
}

// Persist makes ref durable under targetFilename. A durable ref is returned
// untouched without any network call.
func (r *Reconciler) Persist(ctx context.Context, ref, targetFilename string) (Result, error) {
	ref = strings.TrimSpace(ref)
	res := Result{Ref: ref, Filename: targetFilename}

	if (models.PhotoItem{Ref: ref}).IsDurable() {
		res.Outcome = OutcomeDurable
		metrics.UploadReconciliations.WithLabelValues(string(res.Outcome)).Inc()
		return res, nil
	}

	fail := func(err error) (Result, error) {
		err = fmt.Errorf("%w: %s: %v", ErrReconciliation, targetFilename, err)
		res.Ref = ""
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		metrics.UploadReconciliations.WithLabelValues(string(res.Outcome)).Inc()
		r.logger.Warn("photo reconciliation failed", map[string]interface{}{
			"filename": targetFilename,
			"error":    err.Error(),
		})
		return res, err
	}

	if ref == "" {
		return fail(errors.New("empty reference"))
	}
	if targetFilename == "" || strings.ContainsAny(targetFilename, `/\`) {
		return fail(fmt.Errorf("invalid target filename %q", targetFilename))
	}

	payload, err := readTransient(ref, r.stagingDir)
	if err != nil {
		return fail(err)
	}

	sum := sha256.Sum256(payload.Data)
	digest := hex.EncodeToString(sum[:])

	prev, seen, err := r.ledger.Digest(ctx, targetFilename)
	if err != nil {
		r.logger.Warn("upload ledger unavailable", map[string]interface{}{"error": err.Error()})
	}
	if seen && prev == digest {
		res.Ref = targetFilename
		res.Outcome = OutcomeUnchanged
		metrics.UploadReconciliations.WithLabelValues(string(res.Outcome)).Inc()
		return res, nil
	}

	if err := r.uploader.Upload(ctx, targetFilename, payload.Data, payload.ContentType); err != nil {
		return fail(err)
	}
	if err := r.ledger.Record(ctx, targetFilename, digest); err != nil {
		r.logger.Warn("upload ledger not updated", map[string]interface{}{
			"filename": targetFilename,
			"error":    err.Error(),
		})
	}

	res.Ref = targetFilename
	res.Outcome = OutcomeUploaded
	metrics.UploadReconciliations.WithLabelValues(string(res.Outcome)).Inc()
	r.logger.Info("photo persisted", map[string]interface{}{
		"filename": targetFilename,
		"bytes":    len(payload.Data),
	})
	return res, nil
}

// FieldRequest asks for one photo field to be reconciled.
type FieldRequest struct {
	Field          string `json:"field"`
	Ref            string `json:"ref"`
	TargetFilename string `json:"targetFilename"`
}

// ReconcileFields reconciles independent fields concurrently. Each request
// takes a new generation for its field; a result whose generation is no
// longer current when it completes is reported as superseded and must not
// be stored. A result that may be stored carries its generation so the
// write itself can refuse to overwrite a newer one. Failures are reported
// per field, never as an error.
func (r *Reconciler) ReconcileFields(ctx context.Context, scope string, reqs []FieldRequest) []Result {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			key := scope + ":" + req.Field
			gen, err := r.generations.Next(gctx, key)
			if err != nil {
				r.logger.Warn("field generation unavailable", map[string]interface{}{"field": req.Field, "error": err})
				metrics.UploadReconciliations.WithLabelValues(string(OutcomeFailed)).Inc()
				results[i] = Result{
					Field:    req.Field,
					Filename: req.TargetFilename,
					Outcome:  OutcomeFailed,
					Error:    fmt.Sprintf("%v: generation unavailable: %v", ErrReconciliation, err),
				}
				return nil
			}

			res, _ := r.Persist(gctx, req.Ref, req.TargetFilename)
			res.Field = req.Field
			res.Generation = gen

			cur, cerr := r.generations.Current(gctx, key)
			if cerr == nil && cur != gen {
				res.Outcome = OutcomeSuperseded
				res.Ref = ""
				metrics.UploadReconciliations.WithLabelValues(string(res.Outcome)).Inc()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
