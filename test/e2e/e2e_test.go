// test/e2e/e2e_test.go
package e2e

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspection-export/internal/audit"
	"inspection-export/internal/common/config"
	"inspection-export/internal/common/database"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/export"
	"inspection-export/internal/pptx"
	"inspection-export/internal/report/store"
	"inspection-export/internal/storage"
	"inspection-export/internal/upload"
	exportreport "inspection-export/internal/workers/export/export-report"
	flattenreport "inspection-export/internal/workers/export/flatten-report"
	reconcileupload "inspection-export/internal/workers/export/reconcile-upload"
	"inspection-export/pkg/registry"
)

// The suite needs PostgreSQL, Redis and (optionally) Elasticsearch on
// localhost. Set E2E_ENABLED=1 to run it.
func TestMain(m *testing.M) {
	if os.Getenv("E2E_ENABLED") == "" {
		fmt.Println("⚠️  E2E_ENABLED not set, skipping end-to-end tests")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// ==========================
// Fake storage service
// ==========================

type storageServer struct {
	mu    sync.Mutex
	files map[string][]byte
	srv   *httptest.Server
}

func newStorageServer(t *testing.T) *storageServer {
	s := &storageServer{files: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		name := r.FormValue("filename")

		s.mu.Lock()
		s.files[name] = data
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"filename":%q}`, name)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/files/")
		s.mu.Lock()
		data, ok := s.files[name]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data) //nolint:errcheck
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *storageServer) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

// ==========================
// Setup
// ==========================

type env struct {
	cfg      *config.Config
	db       *sql.DB
	store    *store.Store
	storage  *storageServer
	exporter *export.Exporter
	recon    *upload.Reconciler
	audit    *audit.Indexer
	log      logger.Logger
}

func setup(t *testing.T) *env {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "❌ PostgreSQL connection failed")
	t.Cleanup(func() { pg.Close() })
	require.NoError(t, pg.Ping(context.Background()))

	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err, "❌ Redis connection failed")
	t.Cleanup(func() { rdb.Close() })

	require.NoError(t, pg.Migrate(context.Background()))

	log := logger.NewTestLogger(t)
	files := newStorageServer(t)
	client := storage.NewClient(storage.Config{
		UploadURL: files.srv.URL + "/upload",
		FilesURL:  files.srv.URL + "/files",
		Timeout:   10 * time.Second,
	})

	slide := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>{{12nm}} / {{10tx1}}</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	templates := t.TempDir()
	require.NoError(t, os.WriteFile(templates+"/signboard_inspection_v1.pptx", buildTemplate(t, slide), 0o644))

	reg, err := registry.Default()
	require.NoError(t, err)
	exp, err := export.New(reg, pptx.NewLoader(log, time.Minute, &pptx.DirSource{Dir: templates}), nil,
		export.Options{Component: "inspection", FilesBaseURL: files.srv.URL + "/files"}, nil, log)
	require.NoError(t, err)

	prefix := "e2e:" + uuid.NewString() + ":"
	e := &env{
		cfg:      cfg,
		db:       pg.GetDB(),
		store:    store.New(pg.GetDB()),
		storage:  files,
		exporter: exp,
		recon: upload.NewReconciler(client,
			upload.NewRedisLedger(rdb.GetClient(), prefix+"ledger:", time.Hour),
			upload.NewRedisGenerations(rdb.GetClient(), prefix+"gen:", time.Hour),
			t.TempDir(), log),
		log: log,
	}

	if es, err := database.NewElasticsearch(cfg.Database.Elasticsearch); err == nil && es.Ping(context.Background()) == nil {
		e.audit = audit.NewIndexer(es.Client, "inspection-exports-e2e")
		require.NoError(t, e.audit.EnsureIndex(context.Background()))
	} else {
		t.Log("⚠️  Elasticsearch unavailable, audit disabled")
	}
	return e
}

func insertReport(t *testing.T, db *sql.DB, id, doc, revision string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO inspection_reports (id, document, template_revision) VALUES ($1, $2::jsonb, $3)`, id, doc, revision)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM report_exports WHERE report_id = $1`, id) //nolint:errcheck
		db.Exec(`DELETE FROM inspection_reports WHERE id = $1`, id)    //nolint:errcheck
	})
}

func buildTemplate(t *testing.T, slide string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range []struct{ name, data string }{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`},
		{"ppt/slides/slide1.xml", slide},
	} {
		w, err := zw.Create(p.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// ==========================
// Pipeline
// ==========================

func TestExportPipeline(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reportID := "e2e-" + uuid.NewString()
	doc := `{"id":"` + reportID + `","header":{"reportNo":"E2E-1"},"general":{"signName":"Skyline <North>"},"photos":{"cover":"data:image/png;base64,iVBORw0KGgo="}}`
	insertReport(t, e.db, reportID, doc, "signboard-v1")

	t.Run("reconcile-upload", func(t *testing.T) {
		h, err := reconcileupload.NewHandler(reconcileupload.HandlerOptions{
			AppConfig:  e.cfg,
			Reconciler: e.recon,
			Store:      e.store,
			Logger:     e.log,
		})
		require.NoError(t, err)

		out, err := h.Execute(ctx, &reconcileupload.Input{
			ReportID: reportID,
			Fields: []reconcileupload.FieldInput{{
				Field:      "photos.cover",
				Ref:        "data:image/png;base64,iVBORw0KGgo=",
				CapturedAt: "2025-01-15T09:00:00Z",
			}},
		})
		require.NoError(t, err)
		assert.True(t, out.AllDurable)
		assert.Equal(t, 1, out.Stored)
		require.Len(t, out.Results, 1)
		assert.True(t, e.storage.has(out.Results[0].Ref))

		// A second pass finds the stored name and uploads nothing.
		again, err := h.Execute(ctx, &reconcileupload.Input{
			ReportID: reportID,
			Fields:   []reconcileupload.FieldInput{{Field: "photos.cover", Ref: out.Results[0].Ref}},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, again.Failed)
	})

	t.Run("flatten-report", func(t *testing.T) {
		h, err := flattenreport.NewHandler(flattenreport.HandlerOptions{
			AppConfig: e.cfg,
			Reports:   e.store,
			Previewer: e.exporter,
			Logger:    e.log,
		})
		require.NoError(t, err)

		out, err := h.Execute(ctx, &flattenreport.Input{ReportID: reportID})
		require.NoError(t, err)
		assert.Equal(t, "signboard-v1", out.TemplateRevision)
		assert.Equal(t, "Skyline <North>", out.Values["12nm"])
		assert.Empty(t, out.Warnings)
	})

	t.Run("export-report", func(t *testing.T) {
		opts := exportreport.HandlerOptions{
			AppConfig: e.cfg,
			Reports:   e.store,
			Renderer:  e.exporter,
			Artifacts: storage.NewClient(storage.Config{
				UploadURL: e.storage.srv.URL + "/upload",
				FilesURL:  e.storage.srv.URL + "/files",
			}),
			Logger: e.log,
		}
		if e.audit != nil {
			opts.Audit = e.audit
		}
		h, err := exportreport.NewHandler(opts)
		require.NoError(t, err)

		out, err := h.Execute(ctx, &exportreport.Input{ReportID: reportID, RequestedBy: "qa@example.com"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out.ArtifactName, "inspection_E2E-1_"))
		assert.True(t, e.storage.has(out.ArtifactName))
		assert.Len(t, out.SHA256, 64)

		exports, err := e.store.ListExports(ctx, reportID, 5)
		require.NoError(t, err)
		require.Len(t, exports, 1)
		assert.Equal(t, out.ExportID, exports[0].ID)

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(mustReport(t, e, reportID), &doc))
		photos, _ := doc["photos"].(map[string]interface{})
		assert.False(t, strings.HasPrefix(fmt.Sprint(photos["cover"]), "data:"))
	})
}

func mustReport(t *testing.T, e *env, id string) []byte {
	t.Helper()
	r, err := e.store.Load(context.Background(), id)
	require.NoError(t, err)
	return r.Document
}
