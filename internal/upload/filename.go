package upload

import (
	"mime"
	"path"
	"regexp"
	"strings"
	"time"
)

var prefixUnsafe = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// Filename derives the durable name of a captured photo:
// prefix_YYYYMMDD_HHMMSS.ext. Two captures under the same prefix within one
// second map to the same name.
func Filename(prefix string, capturedAt time.Time, ext string) string {
	prefix = strings.Trim(prefixUnsafe.ReplaceAllString(prefix, "-"), "-")
	if prefix == "" {
		prefix = "photo"
	}
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		ext = "jpg"
	}
	return prefix + "_" + capturedAt.Format("20060102_150405") + "." + ext
}

// ExtensionFor picks a file extension from a content type or, failing that,
// from a source path.
func ExtensionFor(contentType, source string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/heic":
		return "heic"
	case "image/bmp":
		return "bmp"
	}
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(source)), "."); ext != "" {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "jpg"
}
