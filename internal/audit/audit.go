// Package audit indexes one document per export attempt in Elasticsearch.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const DefaultIndex = "inspection-exports"

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrAuditWrite = errors.New("AUDIT_WRITE_FAILED")

// Record is the indexed document.
type Record struct {
	ExportID         string    `json:"exportId"`
	ReportID         string    `json:"reportId"`
	TemplateRevision string    `json:"templateRevision"`
	Status           string    `json:"status"`
	ArtifactName     string    `json:"artifactName,omitempty"`
	SHA256           string    `json:"sha256,omitempty"`
	Size             int       `json:"size,omitempty"`
	TextTokens       int       `json:"textTokens"`
	MissingKeys      []string  `json:"missingKeys,omitempty"`
	ImagesEmbedded   int       `json:"imagesEmbedded"`
	ImagesFailed     int       `json:"imagesFailed"`
	Warnings         []string  `json:"warnings,omitempty"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	Error            string    `json:"error,omitempty"`
	DurationMs       int64     `json:"durationMs"`
	RequestedBy      string    `json:"requestedBy,omitempty"`
	Timestamp        time.Time `json:"@timestamp"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
}

func NewIndexer(client *elasticsearch.Client, index string) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{client: client, index: index}
}

// Record indexes rec under its export id, so repeating it overwrites.
func (i *Indexer) Record(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: rec.ExportID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: %s", ErrAuditWrite, res.Status())
	}
	return nil
}

// Recent returns the latest records of a report, newest first.
func (i *Indexer) Recent(ctx context.Context, reportID string, size int) ([]Record, error) {
	if size < 1 || size > 100 {
		size = 20
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"reportId": reportID},
		},
		"sort": []interface{}{
			map[string]interface{}{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(&buf),
		i.client.Search.WithSize(size),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("audit search failed: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

var indexMapping = `{
  "mappings": {
    "properties": {
      "exportId":         {"type": "keyword"},
      "reportId":         {"type": "keyword"},
      "templateRevision": {"type": "keyword"},
      "status":           {"type": "keyword"},
      "artifactName":     {"type": "keyword"},
      "sha256":           {"type": "keyword"},
      "errorCode":        {"type": "keyword"},
      "missingKeys":      {"type": "keyword"},
      "requestedBy":      {"type": "keyword"},
      "warnings":         {"type": "text"},
      "error":            {"type": "text"},
      "@timestamp":       {"type": "date"}
    }
  }
}`

// EnsureIndex creates the audit index with keyword mappings when it does not
// exist yet.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}
	if res.StatusCode != 404 {
		return fmt.Errorf("check index %s: %s", i.index, res.Status())
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	// 400 means another worker created it first.
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("create index %s: %s", i.index, res.Status())
	}
	return nil
}
