package flatten

import (
	"fmt"
	"strconv"
	"strings"

	"inspection-export/internal/models"
)

const (
	// DefectSlots is the number of defect placeholders per checklist row.
	DefectSlots = 2
	// PhotosPerDefect matches the capture-time cap on defect photos.
	PhotosPerDefect = 2
)

// GroupLayout is the fixed slide table a row group is flattened into.
type GroupLayout struct {
	Name   string
	Prefix string // full key prefix, e.g. "13m"
	Alias  string // short alias prefix, e.g. "m"
	Max    int
}

// DefaultGroups are the row-group tables of the current template family.
var DefaultGroups = []GroupLayout{
	{Name: models.GroupStructural, Prefix: "13m", Alias: "m", Max: 6},
	{Name: models.GroupElectrical, Prefix: "14e", Alias: "e", Max: 6},
	{Name: models.GroupLightning, Prefix: "15l", Alias: "l", Max: 4},
	{Name: models.GroupOthers, Prefix: "16o", Alias: "x", Max: 4},
}

// LayoutFor returns the default layout of a group.
func LayoutFor(name string) (GroupLayout, bool) {
	for _, g := range DefaultGroups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupLayout{}, false
}

// group emits exactly limit slots: rows past it are dropped and missing
// rows are padded with empty values.
func (w *writer) group(layout GroupLayout, rows []models.InspectionRow) {
	limit := w.opts.rowLimit(layout)
	if len(rows) > limit {
		w.warn(fmt.Sprintf("%s: %d row(s) beyond the template capacity of %d were dropped", layout.Name, len(rows)-limit, limit))
	}
	for i := 1; i <= limit; i++ {
		var row models.InspectionRow
		if i <= len(rows) {
			row = rows[i-1]
		}
		w.row(layout, i, row)
	}
}

func (w *writer) row(layout GroupLayout, i int, row models.InspectionRow) {
	idx := strconv.Itoa(i)
	p, a := layout.Prefix, layout.Alias

	w.set(p+"nm"+idx, row.Name)

	ok1, ng1 := marks(row.Status1)
	w.setAll(ok1, p+"ok"+idx, a+idx+"o")
	w.setAll(ng1, p+"ng"+idx, a+idx+"n")

	ok2, ng2 := marks(row.Status2)
	w.setAll(ok2, p+"ok"+idx+"r2", a+idx+"o2")
	w.setAll(ng2, p+"ng"+idx+"r2", a+idx+"n2")

	w.setAll(row.Note, p+"nt"+idx, a+idx+"t")

	var defects []models.DefectItem
	if row.HasUnusable() {
		defects = row.Defects
	}
	w.setAll(defectSummary(defects), p+"df"+idx, a+idx+"d")

	for d := 1; d <= DefectSlots; d++ {
		var item models.DefectItem
		if d <= len(defects) {
			item = defects[d-1]
		}
		slot := idx + "_" + strconv.Itoa(d)
		w.set(p+"df"+slot, item.Problem)
		w.set(p+"fx"+slot, item.Suggestion)
		for k := 1; k <= PhotosPerDefect; k++ {
			var ph models.PhotoItem
			if k <= len(item.Photos) {
				ph = item.Photos[k-1]
			}
			label := fmt.Sprintf("%s[%d].defects[%d].photos[%d]", layout.Name, i, d, k)
			w.photo(p+"ph"+slot+"_"+strconv.Itoa(k), label, ph, models.ImageOther)
		}
	}
}

func defectSummary(defects []models.DefectItem) string {
	parts := make([]string, 0, len(defects))
	for _, d := range defects {
		if d.Problem != "" {
			parts = append(parts, d.Problem)
		}
	}
	return strings.Join(parts, ", ")
}
