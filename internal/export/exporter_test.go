package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	commonerrors "inspection-export/internal/common/errors"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/models"
	"inspection-export/internal/pptx"
	"inspection-export/internal/report/normalize"
	"inspection-export/internal/report/store"
	"inspection-export/pkg/registry"
)

// ==========================
// Mock Implementations
// ==========================

type MockTemplateLoader struct {
	mock.Mock
}

func (m *MockTemplateLoader) Load(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// recordingImages omits every image token and remembers the keys it saw.
type recordingImages struct {
	keys []string
}

func (r *recordingImages) RewriteImages(_ context.Context, _ *pptx.Container, part, _ string, tokens []pptx.Token, _ models.PlaceholderMap, _ map[string]models.ImageRef) ([]pptx.Edit, []pptx.ImageResult) {
	var (
		edits   []pptx.Edit
		results []pptx.ImageResult
	)
	for _, t := range tokens {
		r.keys = append(r.keys, t.Key)
		edits = append(edits, t.Strip())
		results = append(results, pptx.ImageResult{Part: part, Key: t.Key, Error: "no image reference"})
	}
	return edits, results
}

// ==========================
// Test Helper Functions
// ==========================

const (
	nsA = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsP = "http://schemas.openxmlformats.org/presentationml/2006/main"
)

var testMedia = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x01}

func createTestSlide(texts ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><p:sld xmlns:a="%s" xmlns:p="%s"><p:cSld><p:spTree>`, nsA, nsP)
	for i, t := range texts {
		fmt.Fprintf(&b, `<p:sp><p:nvSpPr><p:cNvPr id="%d" name="Box %d"/></p:nvSpPr><p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="100" cy="100"/></a:xfrm></p:spPr><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>`, i+2, i+2, t)
	}
	b.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func createTestTemplate(t *testing.T, slide string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`)},
		{"ppt/slides/slide1.xml", []byte(slide)},
		{"ppt/slides/_rels/slide1.xml.rels", []byte(`<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`)},
		{"ppt/media/image1.png", testMedia},
	}
	for _, p := range parts {
		w, err := zw.Create(p.name)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readTestPart(t *testing.T, container []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}
	t.Fatalf("part %s not found", name)
	return ""
}

const testReportJSON = `{
	"id": "rpt-1",
	"header": {"reportNo": "RPT-001", "title": "ตรวจป้าย"},
	"general": {"signName": "Acme & Sons <Tower>", "subdistrict": "บางรัก"},
	"photos": {"cover": "photo_20250101_1200.jpg"},
	"checklist": {"groups": {"structural": {"rows": [
		{"name": "ฐานราก", "status1": "usable"},
		{"name": "โครงสร้าง", "status1": "unusable"}
	]}}}
}`

var testNow = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func createTestExporter(t *testing.T, loader TemplateLoader, images pptx.ImageStrategy) *Exporter {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	e, err := New(reg, loader, images, Options{
		Component:    "inspection",
		FilesBaseURL: "https://files.example.com/files",
		Now:          func() time.Time { return testNow },
	}, nil, logger.NewTestLogger(t))
	require.NoError(t, err)
	return e
}

// ==========================
// Preview
// ==========================

func TestExporter_Preview(t *testing.T) {
	e := createTestExporter(t, &MockTemplateLoader{}, nil)

	p, err := e.Preview(context.Background(), []byte(testReportJSON), "signboard-v1")
	require.NoError(t, err)

	assert.Equal(t, "signboard-v1", p.Revision.ID)
	assert.Equal(t, "บางรัก", p.Flat.Values["12tx5"])
	assert.Equal(t, "photo_20250101_1200.jpg", p.Flat.Values["11ph1"])
	assert.Empty(t, p.MissingKeys)
}

func TestExporter_Preview_Errors(t *testing.T) {
	e := createTestExporter(t, &MockTemplateLoader{}, nil)

	_, err := e.Preview(context.Background(), []byte(`[1,2]`), "")
	assert.True(t, errors.Is(err, normalize.ErrMalformedDocument))

	_, err = e.Preview(context.Background(), []byte(testReportJSON), "signboard-v99")
	assert.True(t, errors.Is(err, registry.ErrRevisionNotFound))
}

// ==========================
// Export
// ==========================

func TestExporter_Export_TextOnly(t *testing.T) {
	tmpl := createTestTemplate(t, createTestSlide("{{12tx5}}", "{{12nm}}", "{{13mok1}}", "{{unknown}}"))
	loader := &MockTemplateLoader{}
	loader.On("Load", mock.Anything, "signboard_inspection_v1.pptx").Return(tmpl, nil)

	e := createTestExporter(t, loader, nil)
	res, err := e.Export(context.Background(), []byte(testReportJSON), "signboard-v1")
	require.NoError(t, err)

	assert.Equal(t, "inspection_RPT-001_20250115_090000.pptx", res.Artifact.Name)
	assert.Equal(t, pptx.ContentType, res.Artifact.ContentType)
	assert.Equal(t, len(res.Artifact.Data), res.Artifact.Size)

	slide := readTestPart(t, res.Artifact.Data, "ppt/slides/slide1.xml")
	assert.Contains(t, slide, "<a:t>บางรัก</a:t>")
	assert.Contains(t, slide, "Acme &amp; Sons &lt;Tower&gt;")
	assert.Contains(t, slide, "<a:t>✓</a:t>")
	assert.NotContains(t, slide, "{{")
	assert.Equal(t, []string{"unknown"}, res.Substitution.MissingKeys)

	assert.Equal(t, string(testMedia), readTestPart(t, res.Artifact.Data, "ppt/media/image1.png"))
	loader.AssertExpectations(t)
}

func TestExporter_Export_ImageTokensWithoutEmbedding(t *testing.T) {
	tmpl := createTestTemplate(t, createTestSlide("{%11ph1}"))
	loader := &MockTemplateLoader{}
	loader.On("Load", mock.Anything, "signboard_inspection_v2.pptx").Return(tmpl, nil)

	e := createTestExporter(t, loader, nil)
	res, err := e.Export(context.Background(), []byte(testReportJSON), "signboard-v2")
	require.NoError(t, err)

	slide := readTestPart(t, res.Artifact.Data, "ppt/slides/slide1.xml")
	assert.Contains(t, slide, "<a:t>photo_20250101_1200.jpg</a:t>")
	assert.Equal(t, 0, res.ImagesEmbedded())
}

func TestExporter_Export_ImageStrategyFollowsRevision(t *testing.T) {
	tests := []struct {
		name       string
		revision   string
		file       string
		wantCalled bool
	}{
		{name: "revision with images", revision: "signboard-v2", file: "signboard_inspection_v2.pptx", wantCalled: true},
		{name: "text-only revision", revision: "signboard-v1", file: "signboard_inspection_v1.pptx", wantCalled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := createTestTemplate(t, createTestSlide("{%11ph1}"))
			loader := &MockTemplateLoader{}
			loader.On("Load", mock.Anything, tt.file).Return(tmpl, nil)
			images := &recordingImages{}

			e := createTestExporter(t, loader, images)
			res, err := e.Export(context.Background(), []byte(testReportJSON), tt.revision)
			require.NoError(t, err)

			if tt.wantCalled {
				assert.Equal(t, []string{"11ph1"}, images.keys)
				assert.Equal(t, 1, res.ImagesFailed())
				assert.Contains(t, res.Warnings, "image 11ph1 omitted: no image reference")
			} else {
				assert.Empty(t, images.keys)
				assert.Empty(t, res.Substitution.Images)
			}
		})
	}
}

func TestExporter_Export_TemplateLoadFails(t *testing.T) {
	loader := &MockTemplateLoader{}
	loader.On("Load", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: all sources failed", pptx.ErrTemplateLoad))

	e := createTestExporter(t, loader, nil)
	res, err := e.Export(context.Background(), []byte(testReportJSON), "")
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, pptx.ErrTemplateLoad))
}

func TestExporter_Export_SubstitutionFails(t *testing.T) {
	broken := createTestTemplate(t, "\xff\xfe not utf-8 {{12tx5}}")
	loader := &MockTemplateLoader{}
	loader.On("Load", mock.Anything, mock.Anything).Return(broken, nil)

	e := createTestExporter(t, loader, nil)
	res, err := e.Export(context.Background(), []byte(testReportJSON), "")
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, pptx.ErrSubstitution))
}

func TestExporter_Export_TransientPhotoWarning(t *testing.T) {
	doc := `{"id":"rpt-2","photos":{"cover":"data:image/png;base64,iVBORw0KGgo="}}`
	tmpl := createTestTemplate(t, createTestSlide("{{11ph1}}"))
	loader := &MockTemplateLoader{}
	loader.On("Load", mock.Anything, mock.Anything).Return(tmpl, nil)

	e := createTestExporter(t, loader, nil)
	res, err := e.Export(context.Background(), []byte(doc), "signboard-v1")
	require.NoError(t, err)

	slide := readTestPart(t, res.Artifact.Data, "ppt/slides/slide1.xml")
	assert.NotContains(t, slide, "base64")
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, "inspection_rpt-2_20250115_090000.pptx", res.Artifact.Name)
}

// ==========================
// Helpers
// ==========================

func TestSubject(t *testing.T) {
	assert.Equal(t, "R-1", Subject(&models.InspectionReport{ID: "x", Header: models.Header{ReportNo: "R-1"}}))
	assert.Equal(t, "x", Subject(&models.InspectionReport{ID: "x"}))
	assert.Equal(t, "ป้าย", Subject(&models.InspectionReport{General: models.General{SignName: "ป้าย"}}))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want commonerrors.ErrorCode
	}{
		{fmt.Errorf("%w: x", normalize.ErrMalformedDocument), commonerrors.ErrCodeMalformedDocument},
		{fmt.Errorf("%w: x", registry.ErrRevisionNotFound), commonerrors.ErrCodeTemplateRevisionUnknown},
		{fmt.Errorf("%w: x", pptx.ErrTemplateLoad), commonerrors.ErrCodeTemplateLoad},
		{fmt.Errorf("%w: x", pptx.ErrSubstitution), commonerrors.ErrCodeSubstitution},
		{fmt.Errorf("%w: x", store.ErrReportNotFound), commonerrors.ErrCodeReportNotFound},
		{fmt.Errorf("%w: x", store.ErrReportLoad), commonerrors.ErrCodeReportLoad},
		{fmt.Errorf("%w: x", store.ErrExportRecord), commonerrors.ErrCodeArtifactStore},
		{commonerrors.NewInvalidInputError("reportId"), commonerrors.ErrCodeInvalidInput},
		{errors.New("boom"), commonerrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Code)
		})
	}
	assert.Nil(t, Classify(nil))
}
