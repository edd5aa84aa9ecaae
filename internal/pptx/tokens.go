package pptx

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// tokenPattern matches {{key}} text tokens (group 1) and {%key} image tokens
// (group 2) in one scan.
var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}<>]+?)\s*\}\}|\{%\s*([^{}<>%]+?)\s*\}`)

// Token is one placeholder occurrence in raw part XML. Start and End delimit
// the raw bytes it covers; Tags holds the markup that sits inside that range
// when the token was split across runs by the editor.
type Token struct {
	Key   string
	Image bool
	Start int
	End   int
	Tags  string
	Text  string // the token as it reads in the character data
}

// Render replaces the token with text, keeping the markup it spanned.
func (t Token) Render(text string) Edit {
	return Edit{Start: t.Start, End: t.End, Text: text + t.Tags}
}

// Strip removes the token, keeping the markup it spanned.
func (t Token) Strip() Edit {
	return t.Render("")
}

// Edit replaces the raw bytes [Start, End) of a part with Text. An edit with
// Start == End inserts.
type Edit struct {
	Start int
	End   int
	Text  string
}

// textView is the character data of an XML document with a map back to raw
// byte offsets.
type textView struct {
	text   string
	offset []int
}

func newTextView(xml string) textView {
	var b strings.Builder
	offset := make([]int, 0, len(xml)/2)
	inTag := false
	for i := 0; i < len(xml); i++ {
		c := xml[i]
		switch {
		case inTag:
			if c == '>' {
				inTag = false
			}
		case c == '<':
			inTag = true
		default:
			b.WriteByte(c)
			offset = append(offset, i)
		}
	}
	return textView{text: b.String(), offset: offset}
}

// scanTokens finds every text and image token in the character data of xml.
func scanTokens(xml string) []Token {
	view := newTextView(xml)
	matches := tokenPattern.FindAllStringSubmatchIndex(view.text, -1)
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		start := view.offset[m[0]]
		end := view.offset[m[1]-1] + 1
		t := Token{
			Start: start,
			End:   end,
			Tags:  markupIn(xml[start:end]),
			Text:  view.text[m[0]:m[1]],
		}
		if m[2] >= 0 {
			t.Key = view.text[m[2]:m[3]]
		} else {
			t.Key = view.text[m[4]:m[5]]
			t.Image = true
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// markupIn returns the tags of s in order, without the character data.
func markupIn(s string) string {
	var b strings.Builder
	inTag := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '<' {
			inTag = true
		}
		if inTag {
			b.WriteByte(c)
		}
		if c == '>' {
			inTag = false
		}
	}
	return b.String()
}

// applyEdits rewrites xml in one pass. Edits may come in any order but must
// not overlap. An insert goes before a replacement starting at the same
// offset; inserts at the same offset keep their given order.
func applyEdits(xml string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return xml, nil
	}
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var b strings.Builder
	b.Grow(len(xml))
	last := 0
	for _, e := range sorted {
		if e.Start < last || e.End < e.Start || e.End > len(xml) {
			return "", fmt.Errorf("overlapping edit at %d", e.Start)
		}
		b.WriteString(xml[last:e.Start])
		b.WriteString(e.Text)
		last = e.End
	}
	b.WriteString(xml[last:])
	return b.String(), nil
}
