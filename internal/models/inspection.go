// internal/models/inspection.go
package models

import (
	"path"
	"regexp"
	"strings"
)

// Status is the result of one inspection round for a checklist row.
type Status string

const (
	StatusUnset    Status = ""
	StatusUsable   Status = "usable"
	StatusUnusable Status = "unusable"
)

// Group names of the checklist row groups.
const (
	GroupStructural = "structural"
	GroupElectrical = "electrical"
	GroupLightning  = "lightning"
	GroupOthers     = "others"
)

// RowGroups lists the checklist groups in template order.
var RowGroups = []string{GroupStructural, GroupElectrical, GroupLightning, GroupOthers}

// InspectionReport is the canonical, fully migrated report document.
type InspectionReport struct {
	ID            string          `json:"id"`
	SchemaVersion int             `json:"schemaVersion"`
	Header        Header          `json:"header"`
	General       General         `json:"general"`
	Photos        PhotoSet        `json:"photos"`
	Owner         Owner           `json:"owner"`
	Designer      Designer        `json:"designer"`
	Materials     Materials       `json:"materials"`
	Checklist     Checklist       `json:"checklist"`
	Maintenance   MaintenancePlan `json:"maintenance"`
}

type Header struct {
	Title            string `json:"title"`
	ReportNo         string `json:"reportNo"`
	InspectionDate   string `json:"inspectionDate"`
	InspectorName    string `json:"inspectorName"`
	InspectorLicense string `json:"inspectorLicense"`
	Round1Date       string `json:"round1Date"`
	Round2Date       string `json:"round2Date"`
}

type General struct {
	SignName    string `json:"signName"`
	HouseNo     string `json:"houseNo"`
	Moo         string `json:"moo"`
	Soi         string `json:"soi"`
	Road        string `json:"road"`
	Subdistrict string `json:"subdistrict"`
	District    string `json:"district"`
	Province    string `json:"province"`
	Postcode    string `json:"postcode"`
	Phone       string `json:"phone"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	SignType    string `json:"signType"` // ground, rooftop, wall or free text
	HasPermit   bool   `json:"hasPermit"`
	PermitNo    string `json:"permitNo"`
}

// Sign type options rendered as flags, in template order.
var SignTypes = []string{"ground", "rooftop", "wall", "other"}

type PhotoSet struct {
	Cover    PhotoItem   `json:"cover"`
	MainSign PhotoItem   `json:"mainSign"`
	Map      PhotoItem   `json:"map"`
	Layout   PhotoItem   `json:"layout"`
	Others   []PhotoItem `json:"others,omitempty"`
}

type Owner struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

type Designer struct {
	Name    string `json:"name"`
	License string `json:"license"`
	Phone   string `json:"phone"`
}

type Materials struct {
	Structure  string `json:"structure"`
	Face       string `json:"face"`
	Frame      string `json:"frame"`
	Foundation string `json:"foundation"`
	Notes      string `json:"notes"`
	Width      string `json:"width"`
	Height     string `json:"height"`
	Area       string `json:"area"`
}

type Checklist struct {
	Groups         map[string]RowGroup `json:"groups"`
	Overall1       Status              `json:"overall1"`
	Overall2       Status              `json:"overall2"`
	Opinion        string              `json:"opinion"`
	Recommendation string              `json:"recommendation"`
}

// RowGroup is the ordered row list of one checklist group. Capacity is
// decided by the template revision, not by the stored list.
type RowGroup struct {
	Rows []InspectionRow `json:"rows"`
}

type InspectionRow struct {
	Name    string       `json:"name"`
	Status1 Status       `json:"status1"`
	Status2 Status       `json:"status2"`
	Note    string       `json:"note"`
	Defects []DefectItem `json:"defects,omitempty"`
}

// HasUnusable reports whether either round marked the row unusable.
func (r InspectionRow) HasUnusable() bool {
	return r.Status1 == StatusUnusable || r.Status2 == StatusUnusable
}

type DefectItem struct {
	Problem    string      `json:"problem"`
	Suggestion string      `json:"suggestion"`
	Photos     []PhotoItem `json:"photos,omitempty"` // at most 2, enforced at capture
}

type MaintenancePlan struct {
	Frequency   string `json:"frequency"` // monthly, quarterly, semiannual, annual
	Responsible string `json:"responsible"`
	NextDate    string `json:"nextDate"`
	Notes       string `json:"notes"`
}

// Maintenance frequencies rendered as flags, in template order.
var MaintenanceFrequencies = []string{"monthly", "quarterly", "semiannual", "annual"}

// PhotoItem holds either a durable reference (absolute URL or server-known
// file name) or a transient local reference such as an unsaved data URL.
type PhotoItem struct {
	Ref string `json:"ref"`
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".heic": true,
}

// IsImageName reports whether name ends in a recognised image extension.
// Query strings and fragments are ignored.
func IsImageName(name string) bool {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

var schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)

// HasScheme reports whether ref starts with a URI scheme such as data: or blob:.
func HasScheme(ref string) bool {
	return schemePattern.MatchString(ref)
}

// IsAbsoluteURL reports whether ref is an http(s) URL.
func IsAbsoluteURL(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// IsEmpty reports whether nothing was captured.
func (p PhotoItem) IsEmpty() bool {
	return strings.TrimSpace(p.Ref) == ""
}

// IsDurable reports whether the reference is resolvable from persistent
// storage without the capturing client.
func (p PhotoItem) IsDurable() bool {
	ref := strings.TrimSpace(p.Ref)
	if ref == "" {
		return false
	}
	if IsAbsoluteURL(ref) {
		return true
	}
	if HasScheme(ref) {
		// data:, blob:, file: and friends
		return false
	}
	return IsImageName(ref)
}

// IsTransient reports whether a captured photo has not reached storage yet.
func (p PhotoItem) IsTransient() bool {
	return !p.IsEmpty() && !p.IsDurable()
}
