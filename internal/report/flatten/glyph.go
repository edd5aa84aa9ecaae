package flatten

import "inspection-export/internal/models"

// GlyphConvention selects which checkbox rendering a template revision uses.
type GlyphConvention string

const (
	// GlyphsBoth writes both key families; used for revisions that mix them
	// and when no revision is known.
	GlyphsBoth     GlyphConvention = "both"
	GlyphsCheckbox GlyphConvention = "checkbox"
	GlyphsTick     GlyphConvention = "tick"
)

const (
	checkboxOn  = "☑"
	checkboxOff = "☐"
	tickOn      = "✓"
	tickOff     = " "

	// Matrix cells are empty rather than blank-padded.
	markOn  = "✓"
	markOff = ""
)

type glyphPair struct {
	checkbox string
	tick     string
}

func glyphs(b bool) glyphPair {
	if b {
		return glyphPair{checkbox: checkboxOn, tick: tickOn}
	}
	return glyphPair{checkbox: checkboxOff, tick: tickOff}
}

func mark(b bool) string {
	if b {
		return markOn
	}
	return markOff
}

// marks renders one round's status as its usable and unusable cells.
func marks(s models.Status) (ok, ng string) {
	return mark(s == models.StatusUsable), mark(s == models.StatusUnusable)
}
