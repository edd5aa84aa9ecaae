// Package flatten turns a canonical inspection report into the flat
// placeholder map consumed by slide templates.
//
// Flatten is a pure function of its inputs: it performs no I/O, reads no
// clock and never fails. Missing or malformed data degrades to empty strings
// or to NoPhotoText so that a half-filled report still exports.
package flatten

import (
	"strconv"

	"inspection-export/internal/models"
)

// Options binds flattening to one template revision.
type Options struct {
	Glyphs       GlyphConvention
	Dates        DateStyle
	RowLimits    map[string]int // per group; falls back to GroupLayout.Max
	FilesBaseURL string         // retrieval endpoint used to build absolute photo URLs
}

func (o Options) rowLimit(layout GroupLayout) int {
	if n, ok := o.RowLimits[layout.Name]; ok && n >= 0 {
		return n
	}
	return layout.Max
}

// Result is the flattened form of one report.
type Result struct {
	Values   models.PlaceholderMap
	Images   map[string]models.ImageRef
	Warnings []string
}

type writer struct {
	opts     Options
	values   models.PlaceholderMap
	images   map[string]models.ImageRef
	warnings []string
}

func (w *writer) set(key, value string) {
	w.values[key] = value
}

// setAll writes one computed value under every naming convention of a field.
func (w *writer) setAll(value string, keys ...string) {
	for _, k := range keys {
		w.values[k] = value
	}
}

// flag renders one boolean with the glyph families of the revision.
func (w *writer) flag(section, id string, b bool) {
	g := glyphs(b)
	if w.opts.Glyphs != GlyphsTick {
		w.values[section+"cb"+id] = g.checkbox
	}
	if w.opts.Glyphs != GlyphsCheckbox {
		w.values[section+"tk"+id] = g.tick
	}
}

func (w *writer) warn(msg string) {
	w.warnings = append(w.warnings, msg)
}

// Flatten builds the placeholder map for report. A nil report yields the
// full key set with empty values.
func Flatten(report *models.InspectionReport, opts Options) *Result {
	if report == nil {
		report = &models.InspectionReport{}
	}
	w := &writer{
		opts:   opts,
		values: make(models.PlaceholderMap, 1024),
		images: make(map[string]models.ImageRef),
	}

	w.header(report.Header)
	w.photos(report.Photos)
	w.general(report.General)
	for _, layout := range DefaultGroups {
		w.group(layout, report.Checklist.Groups[layout.Name].Rows)
	}
	w.parties(report.Owner, report.Designer)
	w.materials(report.Materials)
	w.summary(report.Checklist)
	w.maintenance(report.Maintenance)

	return &Result{Values: w.values, Images: w.images, Warnings: w.warnings}
}

func (w *writer) header(h models.Header) {
	w.set("10tx1", h.Title)
	w.set("10tx2", h.ReportNo)
	w.set("10tx3", formatDate(h.InspectionDate, w.opts.Dates))
	w.set("10tx4", h.InspectorName)
	w.set("10tx5", h.InspectorLicense)
	w.set("10tx6", formatDate(h.Round1Date, w.opts.Dates))
	w.set("10tx7", formatDate(h.Round2Date, w.opts.Dates))
}

func (w *writer) photos(p models.PhotoSet) {
	w.photo("11ph1", "photos.cover", p.Cover, models.ImageCover)
	w.photo("11ph2", "photos.mainSign", p.MainSign, models.ImageMainSign)
	w.photo("11ph3", "photos.map", p.Map, models.ImageMapOrLayout)
	w.photo("11ph4", "photos.layout", p.Layout, models.ImageMapOrLayout)
	for i := 0; i < OtherPhotoSlots; i++ {
		var ph models.PhotoItem
		if i < len(p.Others) {
			ph = p.Others[i]
		}
		w.photo("11ph"+strconv.Itoa(5+i), "photos.others["+strconv.Itoa(i+1)+"]", ph, models.ImageOther)
	}
}

func (w *writer) general(g models.General) {
	w.set("12nm", g.SignName)
	w.set("12tx1", g.HouseNo)
	w.set("12tx2", g.Moo)
	w.set("12tx3", g.Soi)
	w.set("12tx4", g.Road)
	w.set("12tx5", g.Subdistrict)
	w.set("12tx6", g.District)
	w.set("12tx7", g.Province)
	w.set("12tx8", g.Postcode)
	w.set("12tx9", g.Phone)
	w.set("12la", g.Latitude)
	w.set("12lo", g.Longitude)
	w.set("12ty", g.SignType)
	w.set("12pn", g.PermitNo)

	w.flag("12", "1", g.HasPermit)

	known := false
	for _, t := range models.SignTypes[:len(models.SignTypes)-1] {
		if g.SignType == t {
			known = true
		}
	}
	for i, t := range models.SignTypes {
		on := g.SignType == t
		if t == "other" {
			on = g.SignType != "" && !known
		}
		w.flag("12", "t"+strconv.Itoa(i+1), on)
	}
}

func (w *writer) parties(o models.Owner, d models.Designer) {
	w.set("17ow1", o.Name)
	w.set("17ow2", o.Address)
	w.set("17ow3", o.Phone)
	w.set("17ow4", o.Email)
	w.set("17ds1", d.Name)
	w.set("17ds2", d.License)
	w.set("17ds3", d.Phone)
}

func (w *writer) materials(m models.Materials) {
	w.set("18mt1", m.Structure)
	w.set("18mt2", m.Face)
	w.set("18mt3", m.Frame)
	w.set("18mt4", m.Foundation)
	w.set("18mt5", m.Notes)
	w.set("18sz1", m.Width)
	w.set("18sz2", m.Height)
	w.set("18sz3", m.Area)
}

func (w *writer) summary(c models.Checklist) {
	ok1, ng1 := marks(c.Overall1)
	w.set("19ok", ok1)
	w.set("19ng", ng1)
	ok2, ng2 := marks(c.Overall2)
	w.set("19ok2", ok2)
	w.set("19ng2", ng2)

	w.flag("19", "1", c.Overall1 == models.StatusUsable)
	w.flag("19", "2", c.Overall1 == models.StatusUnusable)
	w.flag("19", "3", c.Overall2 == models.StatusUsable)
	w.flag("19", "4", c.Overall2 == models.StatusUnusable)

	w.set("19tx1", c.Opinion)
	w.set("19tx2", c.Recommendation)
}

func (w *writer) maintenance(m models.MaintenancePlan) {
	for i, f := range models.MaintenanceFrequencies {
		w.flag("20", strconv.Itoa(i+1), m.Frequency == f)
	}
	w.set("20tx1", m.Responsible)
	w.set("20tx2", formatDate(m.NextDate, w.opts.Dates))
	w.set("20tx3", m.Notes)
}
