package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedRef = errors.New("unsupported photo reference")
	ErrOutsideStaging = errors.New("file reference outside staging directory")
)

// Payload is the content of a transient reference.
type Payload struct {
	Data        []byte
	ContentType string
	Source      string
}

// readTransient loads the bytes behind a data: payload or a file:// path
// inside stagingDir.
func readTransient(ref, stagingDir string) (*Payload, error) {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return decodeDataURL(ref)
	case strings.HasPrefix(lower, "file://"):
		return readStaged(ref, stagingDir)
	default:
		return nil, ErrUnsupportedRef
	}
}

func decodeDataURL(ref string) (*Payload, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: data payload without separator", ErrUnsupportedRef)
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]

	isBase64 := false
	params := strings.Split(meta, ";")
	contentType := strings.TrimSpace(params[0])
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	var err error
	if isBase64 {
		payload = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRef, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedRef)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Payload{Data: data, ContentType: contentType}, nil
}

func readStaged(ref, stagingDir string) (*Payload, error) {
	if stagingDir == "" {
		return nil, fmt.Errorf("%w: no staging directory configured", ErrOutsideStaging)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRef, err)
	}
	root, err := filepath.Abs(stagingDir)
	if err != nil {
		return nil, err
	}
	p := filepath.Clean(filepath.FromSlash(u.Path))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s", ErrOutsideStaging, u.Path)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return &Payload{Data: data, ContentType: http.DetectContentType(data), Source: p}, nil
}
