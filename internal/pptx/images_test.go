package pptx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inspection-export/internal/common/logger"
	"inspection-export/internal/models"
)

// ==========================
// Mock Fetcher
// ==========================

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func createTestEmbedder(t *testing.T, f Fetcher) *ImageEmbedder {
	return NewImageEmbedder(f, 0, 1, logger.NewTestLogger(t))
}

// ==========================
// Embedding
// ==========================

func TestImageEmbedder_EmbedsPicture(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://files.example.com/cover.png").Return(createTestPNG(t, 800, 400), nil)

	slide := createTestSlide(
		createTestShape("7", "1000", "2000", createTestRun("{%11ph1}")) +
			createTestShape("8", "0", "0", createTestRun("{{12tx5}}")))
	container := createDefaultTestPPTX(t, slide)
	images := map[string]models.ImageRef{"11ph1": {URL: "https://files.example.com/cover.png", Category: models.ImageCover}}

	s := createTestSubstituter(t, createTestEmbedder(t, fetcher))
	out, report, err := s.Substitute(context.Background(), container, models.PlaceholderMap{"12tx5": "บางรัก"}, images)
	require.NoError(t, err)

	got := readTestPart(t, out, "ppt/slides/slide1.xml")
	assert.NoError(t, checkWellFormed(got))
	assert.NotContains(t, got, "{%")
	assert.NotContains(t, got, `name="TextBox 7"`)
	assert.Contains(t, got, `<p:cNvPr id="7" name="Picture 11ph1"/>`)
	assert.Contains(t, got, `<a:blip r:embed="rIdExport1"/>`)
	assert.Contains(t, got, `<a:off x="1000" y="2000"/>`)
	// 800x400 fitted into the 640x480 cover box
	assert.Contains(t, got, fmt.Sprintf(`<a:ext cx="%d" cy="%d"/>`, 640*emuPerPixel, 320*emuPerPixel))
	assert.Contains(t, got, "<a:t>บางรัก</a:t>")

	rels := readTestPart(t, out, "ppt/slides/_rels/slide1.xml.rels")
	assert.Contains(t, rels, `Id="rId1"`)
	assert.Contains(t, rels, `<Relationship Id="rIdExport1" Type="`+relTypeImage+`" Target="../media/export_image1.png"/>`)

	types := readTestPart(t, out, contentTypesPart)
	assert.Contains(t, types, `<Default Extension="png" ContentType="image/png"/>`)

	assert.Equal(t, string(createTestPNG(t, 800, 400)), readTestPart(t, out, "ppt/media/export_image1.png"))
	require.Len(t, report.Images, 1)
	assert.True(t, report.Images[0].Embedded)
	fetcher.AssertExpectations(t)
}

func TestImageEmbedder_FailuresOmitImage(t *testing.T) {
	tests := []struct {
		name   string
		images map[string]models.ImageRef
		setup  func(f *MockFetcher)
		body   string
	}{
		{
			name:   "missing reference",
			images: map[string]models.ImageRef{},
			setup:  func(f *MockFetcher) {},
			body:   createTestShape("3", "0", "0", createTestRun("{%11ph2}")),
		},
		{
			name:   "fetch error",
			images: map[string]models.ImageRef{"11ph2": {URL: "https://files.example.com/x.jpg", Category: models.ImageMainSign}},
			setup: func(f *MockFetcher) {
				f.On("Fetch", mock.Anything, "https://files.example.com/x.jpg").Return(nil, errors.New("status 404"))
			},
			body: createTestShape("3", "0", "0", createTestRun("{%11ph2}")),
		},
		{
			name:   "not an image",
			images: map[string]models.ImageRef{"11ph2": {URL: "https://files.example.com/x.jpg", Category: models.ImageMainSign}},
			setup: func(f *MockFetcher) {
				f.On("Fetch", mock.Anything, "https://files.example.com/x.jpg").Return([]byte("<html>login</html>"), nil)
			},
			body: createTestShape("3", "0", "0", createTestRun("{%11ph2}")),
		},
		{
			name:   "token outside a shape",
			images: map[string]models.ImageRef{"11ph2": {URL: "https://files.example.com/x.jpg", Category: models.ImageMainSign}},
			setup:  func(f *MockFetcher) {},
			body:   createTestRun("{%11ph2}"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := new(MockFetcher)
			tt.setup(fetcher)
			container := createDefaultTestPPTX(t, createTestSlide(tt.body))

			s := createTestSubstituter(t, createTestEmbedder(t, fetcher))
			out, report, err := s.Substitute(context.Background(), container, models.PlaceholderMap{"11ph2": "x.jpg"}, tt.images)
			require.NoError(t, err)

			got := readTestPart(t, out, "ppt/slides/slide1.xml")
			assert.NoError(t, checkWellFormed(got))
			assert.NotContains(t, got, "{%11ph2}")
			assert.NotContains(t, got, "<p:pic>")
			require.Len(t, report.Images, 1)
			assert.False(t, report.Images[0].Embedded)
			assert.NotEmpty(t, report.Images[0].Error)

			for name := range testZipFiles(t, out) {
				assert.False(t, strings.HasPrefix(name, "ppt/media/export_image"), name)
			}
			fetcher.AssertExpectations(t)
		})
	}
}

func TestImageEmbedder_CreatesMissingRelsPart(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(createTestPNG(t, 10, 10), nil)

	container := createTestPPTX(t,
		testPart{name: contentTypesPart, data: testContentTypes},
		testPart{name: "ppt/slides/slide2.xml", data: createTestSlide(
			createTestShape("5", "0", "0", createTestRun("{%11ph5}"))+
				createTestShape("6", "0", "0", createTestRun("{%11ph6}")))},
	)
	images := map[string]models.ImageRef{
		"11ph5": {URL: "https://a/1.png", Category: models.ImageOther},
		"11ph6": {URL: "https://a/2.png", Category: models.ImageOther},
	}

	out, report, err := createTestSubstituter(t, createTestEmbedder(t, fetcher)).Substitute(context.Background(), container, nil, images)
	require.NoError(t, err)

	rels := readTestPart(t, out, "ppt/slides/_rels/slide2.xml.rels")
	assert.NoError(t, checkWellFormed(rels))
	assert.Contains(t, rels, `Id="rIdExport1"`)
	assert.Contains(t, rels, `Id="rIdExport2"`)
	assert.Contains(t, rels, "../media/export_image2.png")
	assert.Equal(t, 1, strings.Count(readTestPart(t, out, contentTypesPart), `Extension="png"`))
	// square image in a 240x180 box
	assert.Contains(t, readTestPart(t, out, "ppt/slides/slide2.xml"), fmt.Sprintf(`cx="%d" cy="%d"`, 180*emuPerPixel, 180*emuPerPixel))
	assert.Len(t, report.Images, 2)
}

func TestImageEmbedder_SharedShapeKeepsItsContent(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, "https://a/cover.png").Return(createTestPNG(t, 4, 3), nil)
	fetcher.On("Fetch", mock.Anything, "https://a/sign.png").Return(createTestPNG(t, 4, 3), nil)

	slide := createTestSlide(createTestShape("7", "1000", "2000",
		createTestRun("{%11ph1}{%11ph2}caption {{12tx5}}")))
	container := createDefaultTestPPTX(t, slide)
	images := map[string]models.ImageRef{
		"11ph1": {URL: "https://a/cover.png", Category: models.ImageCover},
		"11ph2": {URL: "https://a/sign.png", Category: models.ImageMainSign},
	}

	out, report, err := createTestSubstituter(t, createTestEmbedder(t, fetcher)).
		Substitute(context.Background(), container, models.PlaceholderMap{"12tx5": "บางรัก"}, images)
	require.NoError(t, err)

	got := readTestPart(t, out, "ppt/slides/slide1.xml")
	assert.NoError(t, checkWellFormed(got))
	assert.Contains(t, got, `name="TextBox 7"`)
	assert.Contains(t, got, "<a:t>caption บางรัก</a:t>")
	assert.NotContains(t, got, "{%")
	assert.Equal(t, 2, strings.Count(got, "<p:pic>"))
	assert.Contains(t, got, `<p:cNvPr id="8" name="Picture 11ph1"/>`)
	assert.Contains(t, got, `<p:cNvPr id="9" name="Picture 11ph2"/>`)
	assert.Less(t, strings.Index(got, "</p:sp>"), strings.Index(got, "<p:pic>"))

	assert.Equal(t, 1, report.TextTokens)
	require.Len(t, report.Images, 2)
	assert.True(t, report.Images[0].Embedded)
	assert.True(t, report.Images[1].Embedded)
	fetcher.AssertExpectations(t)
}

func TestImageEmbedder_FailedLinkLeavesContainerUnchanged(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(createTestPNG(t, 10, 10), nil)

	container := createTestPPTX(t,
		testPart{name: contentTypesPart, data: testContentTypes},
		testPart{name: "ppt/slides/slide1.xml", data: createTestSlide(createTestShape("3", "0", "0", createTestRun("{%11ph2}")))},
		testPart{name: "ppt/slides/_rels/slide1.xml.rels", data: `<Relationships xmlns="x">`},
	)
	images := map[string]models.ImageRef{"11ph2": {URL: "https://a/sign.png", Category: models.ImageMainSign}}

	out, report, err := createTestSubstituter(t, createTestEmbedder(t, fetcher)).Substitute(context.Background(), container, nil, images)
	require.NoError(t, err)

	require.Len(t, report.Images, 1)
	assert.False(t, report.Images[0].Embedded)
	assert.Contains(t, report.Images[0].Error, "no Relationships element")
	for name := range testZipFiles(t, out) {
		assert.False(t, strings.HasPrefix(name, "ppt/media/export_image"), name)
	}
	assert.Equal(t, testContentTypes, readTestPart(t, out, contentTypesPart))
	assert.NotContains(t, readTestPart(t, out, "ppt/slides/slide1.xml"), "<p:pic>")
}

func TestContainer_AddImage(t *testing.T) {
	c, err := OpenContainer(createDefaultTestPPTX(t, createTestSlide("")))
	require.NoError(t, err)

	rid, err := c.AddImage("ppt/slides/slide1.xml", "png", "image/png", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "rIdExport1", rid)
	rid, err = c.AddImage("ppt/slides/slide1.xml", "png", "image/png", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "rIdExport2", rid)

	assert.True(t, c.Has("ppt/media/export_image1.png"))
	assert.True(t, c.Has("ppt/media/export_image2.png"))
	types, err := c.Read(contentTypesPart)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(types), `Extension="png"`))

	_, err = c.AddImage("ppt/slides/slide9.xml", "gif", "image/gif", []byte("c"))
	require.NoError(t, err)
	assert.True(t, c.Has("ppt/slides/_rels/slide9.xml.rels"))

	broken, err := OpenContainer(createTestPPTX(t, testPart{name: contentTypesPart, data: "<Types>"}))
	require.NoError(t, err)
	_, err = broken.AddImage("ppt/slides/slide1.xml", "png", "image/png", []byte("a"))
	assert.Error(t, err)
	assert.False(t, broken.Has("ppt/media/export_image1.png"))
	assert.False(t, broken.Has("ppt/slides/_rels/slide1.xml.rels"))
}

func TestDetectImage(t *testing.T) {
	ext, ct, err := detectImage(createTestPNG(t, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, "png", ext)
	assert.Equal(t, "image/png", ct)

	ext, _, err = detectImage([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", ext)

	_, _, err = detectImage([]byte("plain text"))
	assert.ErrorIs(t, err, errUnsupportedType)
}

func TestRelTarget(t *testing.T) {
	assert.Equal(t, "../media/a.png", relTarget("ppt/slides/slide1.xml", "ppt/media/a.png"))
	assert.Equal(t, "media/a.png", relTarget("ppt/presentation.xml", "ppt/media/a.png"))
	assert.Equal(t, "ppt/slides/_rels/slide9.xml.rels", RelsPart("ppt/slides/slide9.xml"))
}
