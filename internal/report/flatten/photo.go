package flatten

import (
	"net/url"
	"path"
	"strings"

	"inspection-export/internal/models"
)

// NoPhotoText replaces any photo reference that cannot be resolved from
// storage, most notably unsaved data payloads.
const NoPhotoText = "ไม่มีรูปภาพ"

// OtherPhotoSlots is the number of "other" photo placeholders on the photo slide.
const OtherPhotoSlots = 4

// ResolvePhoto returns the text rendering and the absolute URL of a photo.
// The URL is empty when the photo cannot be embedded.
func ResolvePhoto(p models.PhotoItem, filesBaseURL string) (text, absURL string) {
	ref := strings.TrimSpace(p.Ref)
	switch {
	case ref == "":
		return "", ""
	case !p.IsDurable():
		return NoPhotoText, ""
	case models.IsAbsoluteURL(ref):
		name := ""
		if u, err := url.Parse(ref); err == nil {
			name = path.Base(u.Path)
		}
		if name == "" || name == "/" || name == "." {
			name = NoPhotoText
		}
		return name, ref
	default:
		name := baseName(ref)
		return name, FileURL(filesBaseURL, name)
	}
}

// FileURL builds the retrieval URL of a stored file. It returns "" when no
// files endpoint is configured.
func FileURL(filesBaseURL, name string) string {
	if filesBaseURL == "" || name == "" {
		return ""
	}
	return strings.TrimRight(filesBaseURL, "/") + "/" + url.PathEscape(name)
}

func baseName(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.ReplaceAll(ref, "\\", "/")
	return path.Base(ref)
}

func (w *writer) photo(key, label string, p models.PhotoItem, cat models.ImageCategory) {
	text, absURL := ResolvePhoto(p, w.opts.FilesBaseURL)
	w.set(key, text)
	if absURL != "" {
		w.images[key] = models.ImageRef{URL: absURL, Category: cat}
	}
	if p.IsTransient() {
		w.warn(label + ": photo has not been uploaded; it will be exported as \"" + NoPhotoText + "\"")
	}
}
