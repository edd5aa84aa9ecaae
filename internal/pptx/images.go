package pptx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	httpclient "inspection-export/internal/common/http"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/models"
)

const emuPerPixel = 9525

// Size is a picture box in pixels.
type Size struct {
	Width  int
	Height int
}

// DefaultSizes is the picture box per photo category.
var DefaultSizes = map[models.ImageCategory]Size{
	models.ImageCover:       {Width: 640, Height: 480},
	models.ImageMainSign:    {Width: 480, Height: 360},
	models.ImageMapOrLayout: {Width: 400, Height: 300},
	models.ImageOther:       {Width: 240, Height: 180},
}

var (
	errNoImageRef      = errors.New("no image reference")
	errUnsupportedType = errors.New("unsupported image type")
	errNoShape         = errors.New("token is not inside a shape")
)

// Fetcher downloads image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches images with plain GET requests.
type HTTPFetcher struct {
	client   *httpclient.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{client: httpclient.NewClient(timeout), maxBytes: maxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, _, err := f.client.GetBytes(ctx, url, f.maxBytes)
	return body, err
}

// ImageEmbedder puts a picture of the fetched photo where an image token
// sits. A shape whose only text is the token becomes the picture; in a shape
// with other content the token is removed and the picture is placed over the
// shape as a sibling. A failed embed removes the token, leaves the container
// unchanged and never fails the substitution.
type ImageEmbedder struct {
	fetcher Fetcher
	limiter *rate.Limiter
	sizes   map[models.ImageCategory]Size
	logger  logger.Logger
}

// NewImageEmbedder limits fetches to perSecond (0 disables the limit).
func NewImageEmbedder(fetcher Fetcher, perSecond float64, burst int, log logger.Logger) *ImageEmbedder {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &ImageEmbedder{
		fetcher: fetcher,
		limiter: rate.NewLimiter(limit, burst),
		sizes:   DefaultSizes,
		logger:  log,
	}
}

func (e *ImageEmbedder) RewriteImages(ctx context.Context, c *Container, part, doc string, tokens []Token, _ models.PlaceholderMap, images map[string]models.ImageRef) ([]Edit, []ImageResult) {
	var (
		edits   []Edit
		results []ImageResult
		nextID  = maxShapeID(doc) + 1
	)
	for _, t := range tokens {
		res := ImageResult{Part: part, Key: t.Key}

		placed, err := e.embed(ctx, c, part, doc, t, images[t.Key], &nextID)
		if err != nil {
			res.Error = err.Error()
			placed = []Edit{t.Strip()}
			e.logger.Warn("image omitted", map[string]interface{}{
				"part":  part,
				"key":   t.Key,
				"error": err,
			})
		} else {
			res.Embedded = true
		}
		results = append(results, res)
		edits = append(edits, placed...)
	}
	return edits, results
}

func (e *ImageEmbedder) embed(ctx context.Context, c *Container, part, doc string, t Token, ref models.ImageRef, nextID *int) ([]Edit, error) {
	if ref.URL == "" {
		return nil, errNoImageRef
	}
	start, end, ok := enclosingShape(doc, t)
	if !ok {
		return nil, errNoShape
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := e.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	ext, contentType, err := detectImage(data)
	if err != nil {
		return nil, err
	}
	rid, err := c.AddImage(part, ext, contentType, data)
	if err != nil {
		return nil, err
	}

	shape := doc[start:end]
	x, y := shapeOffset(shape)
	cx, cy := e.fit(ref.Category, data)

	if strings.TrimSpace(newTextView(shape).text) == t.Text {
		return []Edit{{Start: start, End: end, Text: pictureXML(shapeID(shape), t.Key, rid, x, y, cx, cy)}}, nil
	}
	id := strconv.Itoa(*nextID)
	*nextID++
	return []Edit{
		t.Strip(),
		{Start: end, End: end, Text: pictureXML(id, t.Key, rid, x, y, cx, cy)},
	}, nil
}

// fit scales the image into the category box keeping its aspect ratio.
func (e *ImageEmbedder) fit(cat models.ImageCategory, data []byte) (cx, cy int64) {
	box, ok := e.sizes[cat]
	if !ok {
		box = e.sizes[models.ImageOther]
	}
	bw, bh := int64(box.Width)*emuPerPixel, int64(box.Height)*emuPerPixel

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return bw, bh
	}
	if int64(cfg.Width)*bh >= int64(cfg.Height)*bw {
		return bw, bw * int64(cfg.Height) / int64(cfg.Width)
	}
	return bh * int64(cfg.Width) / int64(cfg.Height), bh
}

func detectImage(data []byte) (ext, contentType string, err error) {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return "png", ct, nil
	case "image/jpeg":
		return "jpeg", ct, nil
	case "image/gif":
		return "gif", ct, nil
	case "image/bmp":
		return "bmp", ct, nil
	default:
		return "", "", fmt.Errorf("%w: %s", errUnsupportedType, ct)
	}
}

// enclosingShape returns the raw range of the <p:sp> element holding t.
func enclosingShape(doc string, t Token) (start, end int, ok bool) {
	before := doc[:t.Start]
	start = max(strings.LastIndex(before, "<p:sp>"), strings.LastIndex(before, "<p:sp "))
	if start < 0 || strings.Contains(doc[start:t.Start], "</p:sp>") {
		return 0, 0, false
	}
	rel := strings.Index(doc[t.End:], "</p:sp>")
	if rel < 0 {
		return 0, 0, false
	}
	return start, t.End + rel + len("</p:sp>"), true
}

var (
	offsetPattern    = regexp.MustCompile(`<a:off\s+x="(-?\d+)"\s+y="(-?\d+)"`)
	shapeIDPattern   = regexp.MustCompile(`<p:cNvPr\s+id="(\d+)"`)
	drawingIDPattern = regexp.MustCompile(`<p:cNvPr\s[^>]*?\bid="(\d+)"`)
)

func shapeOffset(shape string) (x, y int64) {
	m := offsetPattern.FindStringSubmatch(shape)
	if m == nil {
		return 0, 0
	}
	x, _ = strconv.ParseInt(m[1], 10, 64)
	y, _ = strconv.ParseInt(m[2], 10, 64)
	return x, y
}

func shapeID(shape string) string {
	if m := shapeIDPattern.FindStringSubmatch(shape); m != nil {
		return m[1]
	}
	return "9000"
}

// maxShapeID is the highest drawing object id used in a part.
func maxShapeID(doc string) int {
	highest := 0
	for _, m := range drawingIDPattern.FindAllStringSubmatch(doc, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func pictureXML(id, key, rid string, x, y, cx, cy int64) string {
	return fmt.Sprintf(`<p:pic><p:nvPicPr><p:cNvPr id="%s" name="%s"/><p:cNvPicPr><a:picLocks noChangeAspect="1"/></p:cNvPicPr><p:nvPr/></p:nvPicPr>`+
		`<p:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></p:blipFill>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr></p:pic>`,
		id, EscapeXML("Picture "+key), rid, x, y, cx, cy)
}
