package pptx

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// ContentType is the media type of a presentation artifact.
const ContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// Artifact is a finished export ready for download.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	SHA256      string `json:"sha256"`
	Data        []byte `json:"-"`
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{M}\p{N}._-]+`)

// Package names a rewritten container as component_subject_YYYYMMDD_HHMMSS.pptx.
// The bytes are not modified.
func Package(container []byte, component, subject string, at time.Time) *Artifact {
	sum := sha256.Sum256(container)
	return &Artifact{
		Name:        ArtifactName(component, subject, at),
		ContentType: ContentType,
		Size:        len(container),
		SHA256:      hex.EncodeToString(sum[:]),
		Data:        container,
	}
}

// ArtifactName builds the download name. Empty parts are skipped.
func ArtifactName(component, subject string, at time.Time) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{component, subject} {
		if p = sanitizeNamePart(p); p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, at.Format("20060102_150405"))
	return strings.Join(parts, "_") + ".pptx"
}

func sanitizeNamePart(s string) string {
	s = unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, "-.")
}
