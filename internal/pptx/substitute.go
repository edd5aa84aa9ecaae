package pptx

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"inspection-export/internal/common/logger"
	"inspection-export/internal/models"
)

var ErrSubstitution = errors.New("SUBSTITUTION_FAILED")

// DefaultPartPattern selects the slide content parts of a presentation.
const DefaultPartPattern = `^ppt/slides/slide[0-9]+\.xml$`

// ImageStrategy resolves the {%key} tokens of one slide part. It returns
// edits against the unmodified part: each covers one of the given tokens or
// a shape whose only text is such a token, or inserts at a shape boundary.
// Media it adds to the container must be referenced by its edits.
type ImageStrategy interface {
	RewriteImages(ctx context.Context, c *Container, part, xml string, tokens []Token, values models.PlaceholderMap, images map[string]models.ImageRef) ([]Edit, []ImageResult)
}

// ImageResult records the outcome of one image token.
type ImageResult struct {
	Part     string `json:"part"`
	Key      string `json:"key"`
	Embedded bool   `json:"embedded"`
	Error    string `json:"error,omitempty"`
}

// SubstituteReport describes what a substitution changed.
type SubstituteReport struct {
	Parts       []string      `json:"parts"`
	TextTokens  int           `json:"textTokens"`
	MissingKeys []string      `json:"missingKeys,omitempty"`
	Images      []ImageResult `json:"images,omitempty"`
}

// Substituter rewrites the tokens of slide parts.
type Substituter struct {
	parts  *regexp.Regexp
	images ImageStrategy
	logger logger.Logger
}

// NewSubstituter returns a substituter for parts matching pattern (empty
// selects DefaultPartPattern). A nil strategy renders image tokens as text.
func NewSubstituter(pattern string, images ImageStrategy, log logger.Logger) (*Substituter, error) {
	if pattern == "" {
		pattern = DefaultPartPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid part pattern: %w", err)
	}
	if images == nil {
		images = TextFallback{}
	}
	return &Substituter{parts: re, images: images, logger: log}, nil
}

// Substitute returns the rewritten container. Any target part that is not
// UTF-8, or that is not well-formed XML after rewriting, aborts the whole
// operation and no bytes are returned.
func (s *Substituter) Substitute(ctx context.Context, container []byte, values models.PlaceholderMap, images map[string]models.ImageRef) ([]byte, *SubstituteReport, error) {
	c, err := OpenContainer(container)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open container: %v", ErrSubstitution, err)
	}

	report := &SubstituteReport{}
	missing := make(map[string]struct{})

	for _, part := range c.Parts() {
		if !s.parts.MatchString(part) {
			continue
		}
		raw, err := c.Read(part)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read %s: %v", ErrSubstitution, part, err)
		}
		if !utf8.Valid(raw) {
			return nil, nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrSubstitution, part)
		}

		doc := string(raw)
		var textTokens, imageTokens []Token
		for _, t := range scanTokens(doc) {
			if t.Image {
				imageTokens = append(imageTokens, t)
			} else {
				textTokens = append(textTokens, t)
			}
		}
		if len(textTokens) == 0 && len(imageTokens) == 0 {
			continue
		}

		var edits []Edit
		if len(imageTokens) > 0 {
			var results []ImageResult
			edits, results = s.images.RewriteImages(ctx, c, part, doc, imageTokens, values, images)
			report.Images = append(report.Images, results...)
		}
		for _, t := range textTokens {
			v, ok := values[t.Key]
			if !ok {
				missing[t.Key] = struct{}{}
			}
			edits = append(edits, t.Render(EscapeXML(v)))
		}
		report.TextTokens += len(textTokens)

		doc, err = applyEdits(doc, edits)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrSubstitution, part, err)
		}
		if doc == string(raw) {
			continue
		}
		if err := checkWellFormed(doc); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrSubstitution, part, err)
		}
		c.Replace(part, []byte(doc))
		report.Parts = append(report.Parts, part)
	}

	for k := range missing {
		report.MissingKeys = append(report.MissingKeys, k)
	}
	sort.Strings(report.MissingKeys)

	out, err := c.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSubstitution, err)
	}

	s.logger.Debug("container substituted", map[string]interface{}{
		"parts":       len(report.Parts),
		"textTokens":  report.TextTokens,
		"missingKeys": len(report.MissingKeys),
		"images":      len(report.Images),
	})
	return out, report, nil
}

func checkWellFormed(doc string) error {
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// TextFallback renders image tokens as the flattened text of their key.
type TextFallback struct{}

func (TextFallback) RewriteImages(_ context.Context, _ *Container, _ string, _ string, tokens []Token, values models.PlaceholderMap, _ map[string]models.ImageRef) ([]Edit, []ImageResult) {
	edits := make([]Edit, 0, len(tokens))
	for _, t := range tokens {
		edits = append(edits, t.Render(EscapeXML(values[t.Key])))
	}
	return edits, nil
}
