package pptx

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type testPart struct {
	name string
	data string
}

const (
	slideOpen  = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>`
	slideClose = `</p:spTree></p:cSld></p:sld>`

	testContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`
	testSlideRels    = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/></Relationships>`
)

func createTestSlide(body string) string {
	return slideOpen + body + slideClose
}

// createTestShape wraps runs in a text shape placed at x, y.
func createTestShape(id, x, y, runs string) string {
	return `<p:sp><p:nvSpPr><p:cNvPr id="` + id + `" name="TextBox ` + id + `"/><p:cNvSpPr txBox="1"/><p:nvPr/></p:nvSpPr>` +
		`<p:spPr><a:xfrm><a:off x="` + x + `" y="` + y + `"/><a:ext cx="100" cy="100"/></a:xfrm></p:spPr>` +
		`<p:txBody><a:bodyPr/><a:p>` + runs + `</a:p></p:txBody></p:sp>`
}

func createTestRun(text string) string {
	return `<a:r><a:rPr lang="th-TH"/><a:t>` + text + `</a:t></a:r>`
}

func createTestPPTX(t *testing.T, parts ...testPart) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate})
		require.NoError(t, err)
		_, err = w.Write([]byte(p.data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func createDefaultTestPPTX(t *testing.T, slide1 string) []byte {
	return createTestPPTX(t,
		testPart{name: contentTypesPart, data: testContentTypes},
		testPart{name: "ppt/presentation.xml", data: `<p:presentation xmlns:p="p"/>`},
		testPart{name: "ppt/slides/slide1.xml", data: slide1},
		testPart{name: "ppt/slides/_rels/slide1.xml.rels", data: testSlideRels},
		testPart{name: "ppt/media/image1.png", data: "\x89PNG\r\n\x1a\nbinary{{12tx5}}"},
	)
}

func readTestPart(t *testing.T, container []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(data)
		}
	}
	t.Fatalf("part %s not found", name)
	return ""
}

func testZipFiles(t *testing.T, container []byte) map[string]*zip.File {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
	require.NoError(t, err)
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	return files
}

func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
