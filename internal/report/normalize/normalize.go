// Package normalize migrates persisted inspection report documents of any
// stored schema version into the canonical models.InspectionReport.
//
// Older documents kept the checklist groups at the top level with a single
// "status" per row, used Thai romanised address field names and stored
// photos as bare strings. Newer documents win whenever both shapes are
// present. Only a document that is not a JSON object is rejected; every
// other gap degrades to a zero value.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"inspection-export/internal/models"
)

// CurrentSchemaVersion is stamped on every normalized report.
const CurrentSchemaVersion = 2

var ErrMalformedDocument = errors.New("MALFORMED_DOCUMENT")

// Normalize decodes a persisted document and migrates it.
func Normalize(raw []byte) (*models.InspectionReport, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformedDocument)
	}
	return NormalizeMap(doc), nil
}

// NormalizeMap migrates an already decoded document.
func NormalizeMap(doc map[string]interface{}) *models.InspectionReport {
	n := node(doc)

	return &models.InspectionReport{
		ID:            n.str("id", "_id", "reportId"),
		SchemaVersion: CurrentSchemaVersion,
		Header: models.Header{
			Title:            n.str("header.title", "title"),
			ReportNo:         n.str("header.reportNo", "header.reportNumber", "reportNo"),
			InspectionDate:   n.str("header.inspectionDate", "header.date", "inspectionDate"),
			InspectorName:    n.str("header.inspectorName", "header.inspector", "inspector.name"),
			InspectorLicense: n.str("header.inspectorLicense", "inspector.license"),
			Round1Date:       n.str("header.round1Date", "header.firstRoundDate"),
			Round2Date:       n.str("header.round2Date", "header.secondRoundDate"),
		},
		General: normalizeGeneral(n),
		Photos:  normalizePhotos(n),
		Owner: models.Owner{
			Name:    n.str("owner.name", "ownerName"),
			Address: n.str("owner.address", "ownerAddress"),
			Phone:   n.str("owner.phone", "ownerPhone"),
			Email:   n.str("owner.email", "ownerEmail"),
		},
		Designer: models.Designer{
			Name:    n.str("designer.name", "designerName"),
			License: n.str("designer.license", "designer.licenseNo", "designerLicense"),
			Phone:   n.str("designer.phone", "designerPhone"),
		},
		Materials: models.Materials{
			Structure:  n.str("materials.structure", "material.structure"),
			Face:       n.str("materials.face", "material.face"),
			Frame:      n.str("materials.frame", "material.frame"),
			Foundation: n.str("materials.foundation", "material.foundation"),
			Notes:      n.str("materials.notes", "material.notes"),
			Width:      n.str("materials.width", "size.width"),
			Height:     n.str("materials.height", "size.height"),
			Area:       n.str("materials.area", "size.area"),
		},
		Checklist: normalizeChecklist(n),
		Maintenance: models.MaintenancePlan{
			Frequency:   strings.ToLower(n.str("maintenance.frequency", "maintenance.period")),
			Responsible: n.str("maintenance.responsible", "maintenance.responsiblePerson"),
			NextDate:    n.str("maintenance.nextDate", "maintenance.nextInspectionDate"),
			Notes:       n.str("maintenance.notes", "maintenance.note"),
		},
	}
}

func normalizeGeneral(n node) models.General {
	return models.General{
		SignName:    n.str("general.signName", "general.name", "general.placeName"),
		HouseNo:     n.str("general.houseNo", "general.addressNo", "general.no"),
		Moo:         n.str("general.moo", "general.village"),
		Soi:         n.str("general.soi", "general.alley"),
		Road:        n.str("general.road", "general.street"),
		Subdistrict: n.str("general.subdistrict", "general.subDistrict", "general.tambon"),
		District:    n.str("general.district", "general.amphoe"),
		Province:    n.str("general.province", "general.changwat"),
		Postcode:    n.str("general.postcode", "general.postalCode", "general.zipcode"),
		Phone:       n.str("general.phone", "general.tel"),
		Latitude:    n.str("general.latitude", "general.lat", "location.lat"),
		Longitude:   n.str("general.longitude", "general.lng", "location.lng"),
		SignType:    strings.ToLower(n.str("general.signType", "general.type")),
		HasPermit:   n.boolean("general.hasPermit", "general.permit"),
		PermitNo:    n.str("general.permitNo", "general.permitNumber"),
	}
}

func normalizePhotos(n node) models.PhotoSet {
	set := models.PhotoSet{
		Cover:    photo(n.first("photos.cover", "photos.coverPhoto", "coverPhoto")),
		MainSign: photo(n.first("photos.mainSign", "photos.sign", "photos.signPhoto")),
		Map:      photo(n.first("photos.map", "photos.mapPhoto")),
		Layout:   photo(n.first("photos.layout", "photos.layoutPhoto", "photos.plan")),
	}
	if others := n.list("photos.others"); len(others) > 0 {
		for _, o := range others {
			set.Others = append(set.Others, photo(o))
		}
	} else if single := n.get("photos.other"); single != nil {
		set.Others = []models.PhotoItem{photo(single)}
	}
	return set
}

func normalizeChecklist(n node) models.Checklist {
	cl := models.Checklist{
		Groups:         make(map[string]models.RowGroup, len(models.RowGroups)),
		Overall1:       parseStatus(n.first("checklist.overall1", "checklist.overall", "checklist.summary.status")),
		Overall2:       parseStatus(n.first("checklist.overall2", "checklist.summary.status2")),
		Opinion:        n.str("checklist.opinion", "checklist.summary.opinion"),
		Recommendation: n.str("checklist.recommendation", "checklist.summary.recommendation"),
	}
	for _, g := range models.RowGroups {
		raw := n.list("checklist.groups." + g + ".rows")
		if len(raw) == 0 {
			raw = n.list("checklist." + g + ".rows")
		}
		if len(raw) == 0 {
			raw = n.list("checklist." + g)
		}
		if len(raw) == 0 {
			raw = n.list(g)
		}
		rows := make([]models.InspectionRow, 0, len(raw))
		for _, r := range raw {
			rows = append(rows, normalizeRow(asNode(r)))
		}
		cl.Groups[g] = models.RowGroup{Rows: rows}
	}
	return cl
}

func normalizeRow(r node) models.InspectionRow {
	row := models.InspectionRow{
		Name: r.str("name", "title", "item"),
		Note: r.str("note", "notes", "remark"),
	}

	// A legacy single-round status stands in for round 1 only.
	row.Status1 = parseStatus(r.first("status1", "round1"))
	if row.Status1 == models.StatusUnset {
		row.Status1 = parseStatus(r.get("status"))
	}
	row.Status2 = parseStatus(r.first("status2", "round2"))

	for _, d := range r.list("defects") {
		row.Defects = append(row.Defects, normalizeDefect(asNode(d)))
	}
	if len(row.Defects) == 0 {
		if legacy, ok := legacyDefect(r); ok {
			row.Defects = []models.DefectItem{legacy}
		}
	}
	return row
}

// legacyDefect lifts the row-level defect fields of older documents.
func legacyDefect(r node) (models.DefectItem, bool) {
	item := models.DefectItem{
		Problem:    r.str("defect", "problem"),
		Suggestion: r.str("suggestion", "fix"),
	}
	for _, p := range r.list("defectPhotos") {
		if ph := photo(p); !ph.IsEmpty() {
			item.Photos = append(item.Photos, ph)
		}
	}
	return item, item.Problem != "" || item.Suggestion != "" || len(item.Photos) > 0
}

func normalizeDefect(d node) models.DefectItem {
	item := models.DefectItem{
		Problem:    d.str("problem", "defect", "title", "text"),
		Suggestion: d.str("suggestion", "fix", "remedy", "remediation"),
	}
	photos := d.list("photos")
	if len(photos) == 0 {
		photos = d.list("defectPhotos")
	}
	for _, p := range photos {
		if ph := photo(p); !ph.IsEmpty() {
			item.Photos = append(item.Photos, ph)
		}
	}
	return item
}

// photo accepts a bare string or an object. Durable fields win over
// previews so that a saved upload is preferred to its local copy.
func photo(v interface{}) models.PhotoItem {
	switch t := v.(type) {
	case string:
		return models.PhotoItem{Ref: strings.TrimSpace(t)}
	case map[string]interface{}:
		n := node(t)
		return models.PhotoItem{Ref: n.str("ref", "url", "fileUrl", "filename", "fileName", "name", "uri", "preview", "dataUrl")}
	default:
		return models.PhotoItem{}
	}
}

func parseStatus(v interface{}) models.Status {
	switch t := v.(type) {
	case bool:
		if t {
			return models.StatusUsable
		}
		return models.StatusUnusable
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "usable", "ok", "pass", "good", "yes", "ใช้ได้":
			return models.StatusUsable
		case "unusable", "ng", "fail", "bad", "no", "ใช้ไม่ได้":
			return models.StatusUnusable
		}
	}
	return models.StatusUnset
}

// node is a loosely typed view over a decoded JSON object.
type node map[string]interface{}

func asNode(v interface{}) node {
	if m, ok := v.(map[string]interface{}); ok {
		return node(m)
	}
	return node{}
}

func (n node) get(path string) interface{} {
	var cur interface{} = map[string]interface{}(n)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// first returns the first path holding a non-empty value.
func (n node) first(paths ...string) interface{} {
	for _, p := range paths {
		v := n.get(p)
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

func (n node) str(paths ...string) string {
	switch t := n.first(paths...).(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func (n node) boolean(paths ...string) bool {
	switch t := n.first(paths...).(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "มี":
			return true
		}
	case json.Number:
		return t.String() != "0"
	case float64:
		return t != 0
	}
	return false
}

func (n node) list(path string) []interface{} {
	if l, ok := n.get(path).([]interface{}); ok {
		return l
	}
	return nil
}
