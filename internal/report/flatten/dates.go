package flatten

import (
	"fmt"
	"strings"
	"time"
)

// DateStyle controls how ISO dates in the report are rendered.
type DateStyle string

const (
	DatesRaw  DateStyle = "raw"
	DatesThai DateStyle = "thai"
)

var thaiMonths = [...]string{
	"ม.ค.", "ก.พ.", "มี.ค.", "เม.ย.", "พ.ค.", "มิ.ย.",
	"ก.ค.", "ส.ค.", "ก.ย.", "ต.ค.", "พ.ย.", "ธ.ค.",
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// formatDate renders s in the requested style. Values that are not ISO
// dates are returned unchanged.
func formatDate(s string, style DateStyle) string {
	s = strings.TrimSpace(s)
	if style != DatesThai || s == "" {
		return s
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return fmt.Sprintf("%d %s %d", t.Day(), thaiMonths[t.Month()-1], t.Year()+543)
	}
	return s
}
