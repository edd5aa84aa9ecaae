// Package store reads persisted inspection report documents and records
// their exports in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

var (
	ErrReportNotFound = errors.New("REPORT_NOT_FOUND")
	ErrReportLoad     = errors.New("REPORT_LOAD_FAILED")
	ErrExportRecord   = errors.New("ARTIFACT_STORE_FAILED")
	// ErrSuperseded means a newer reconciliation already stored the field.
	ErrSuperseded = errors.New("PHOTO_REF_SUPERSEDED")
)

// Export statuses. An export is recorded as pending before its artifact is
// uploaded and only listed once stored.
const (
	ExportPending = "pending"
	ExportStored  = "stored"
	ExportFailed  = "failed"
)

// Report is a persisted report document as stored.
type Report struct {
	ID               string
	Document         []byte
	TemplateRevision string
	UpdatedAt        time.Time
}

// ExportRecord describes one generated artifact.
type ExportRecord struct {
	ID               string
	ReportID         string
	TemplateRevision string
	Name             string
	URL              string
	SHA256           string
	Size             int
	Warnings         []string
	RequestedBy      string
	Status           string
	CreatedAt        time.Time
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectReport = `
	SELECT id, document, COALESCE(template_revision, ''), updated_at
	FROM inspection_reports
	WHERE id = $1 AND deleted_at IS NULL`

func (s *Store) Load(ctx context.Context, id string) (*Report, error) {
	var r Report
	err := s.db.QueryRowContext(ctx, selectReport, id).Scan(&r.ID, &r.Document, &r.TemplateRevision, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportLoad, err)
	}
	return &r, nil
}

const updatePhotoRef = `
	UPDATE inspection_reports
	SET document = jsonb_set(document, $2::text[], to_jsonb($3::text), true),
	    photo_generations = jsonb_set(photo_generations, ARRAY[$4::text], to_jsonb($5::bigint), true),
	    updated_at = NOW()
	WHERE id = $1 AND deleted_at IS NULL
	  AND COALESCE((photo_generations ->> $4::text)::bigint, 0) < $5`

const selectReportExists = `
	SELECT EXISTS (SELECT 1 FROM inspection_reports WHERE id = $1 AND deleted_at IS NULL)`

// SetPhotoRef stores a durable reference at a dotted field path such as
// "photos.cover" or "checklist.groups.structural.rows.0.defects.1.photos.0".
// The generation of the stored reference is kept beside the document; a
// write whose generation is not above it is refused with ErrSuperseded.
func (s *Store) SetPhotoRef(ctx context.Context, reportID, field, ref string, generation int64) error {
	path := strings.Split(field, ".")
	for _, p := range path {
		if p == "" {
			return fmt.Errorf("invalid field path %q", field)
		}
	}
	if generation <= 0 {
		return fmt.Errorf("invalid generation %d for %s", generation, field)
	}
	res, err := s.db.ExecContext(ctx, updatePhotoRef, reportID, pq.Array(path), ref, field, generation)
	if err != nil {
		return fmt.Errorf("update %s.%s: %w", reportID, field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s.%s: %w", reportID, field, err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, selectReportExists, reportID).Scan(&exists); err != nil {
		return fmt.Errorf("update %s.%s: %w", reportID, field, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrReportNotFound, reportID)
	}
	return fmt.Errorf("%w: %s.%s generation %d", ErrSuperseded, reportID, field, generation)
}

const insertExport = `
	INSERT INTO report_exports
		(id, report_id, template_revision, name, url, sha256, size, warnings, requested_by, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// RecordExport inserts an export, as pending unless rec.Status says otherwise.
func (s *Store) RecordExport(ctx context.Context, rec *ExportRecord) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportRecord, err)
	}
	if rec.Status == "" {
		rec.Status = ExportPending
	}
	_, err = s.db.ExecContext(ctx, insertExport,
		rec.ID, rec.ReportID, rec.TemplateRevision, rec.Name, rec.URL,
		rec.SHA256, rec.Size, warnings, rec.RequestedBy, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportRecord, err)
	}
	return nil
}

const updateExportStatus = `UPDATE report_exports SET status = $2 WHERE id = $1`

// SetExportStatus moves a recorded export to stored or failed.
func (s *Store) SetExportStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, updateExportStatus, id, status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportRecord, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: export %s not recorded", ErrExportRecord, id)
	}
	return nil
}

const selectExports = `
	SELECT id, report_id, template_revision, name, url, sha256, size, warnings, requested_by, status, created_at
	FROM report_exports
	WHERE report_id = $1 AND status = 'stored'
	ORDER BY created_at DESC
	LIMIT $2`

// ListExports returns the most recent stored exports of a report.
func (s *Store) ListExports(ctx context.Context, reportID string, limit int) ([]ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectExports, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportLoad, err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		var warnings []byte
		if err := rows.Scan(&rec.ID, &rec.ReportID, &rec.TemplateRevision, &rec.Name, &rec.URL,
			&rec.SHA256, &rec.Size, &warnings, &rec.RequestedBy, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReportLoad, err)
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &rec.Warnings); err != nil {
				return nil, fmt.Errorf("%w: warnings of export %s: %v", ErrReportLoad, rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportLoad, err)
	}
	return out, nil
}
