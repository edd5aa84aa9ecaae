// Package pptx rewrites presentation containers: zip packages of XML parts
// in which slide parts carry {{key}} text tokens and {%key} image tokens.
package pptx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

const contentTypesPart = "[Content_Types].xml"

type addedPart struct {
	name string
	data []byte
}

// Container is an opened template with staged edits. Parts that are not
// replaced are copied raw when the container is written.
type Container struct {
	files    []*zip.File
	byName   map[string]*zip.File
	replaced map[string][]byte
	added    []addedPart
	media    int
}

// OpenContainer opens zip bytes for editing.
func OpenContainer(data []byte) (*Container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	c := &Container{
		files:    zr.File,
		byName:   make(map[string]*zip.File, len(zr.File)),
		replaced: make(map[string][]byte),
	}
	for _, f := range zr.File {
		c.byName[f.Name] = f
	}
	return c, nil
}

// Parts returns the part names in container order.
func (c *Container) Parts() []string {
	names := make([]string, 0, len(c.files))
	for _, f := range c.files {
		names = append(names, f.Name)
	}
	return names
}

func (c *Container) Has(name string) bool {
	if _, ok := c.replaced[name]; ok {
		return true
	}
	for _, a := range c.added {
		if a.name == name {
			return true
		}
	}
	_, ok := c.byName[name]
	return ok
}

// Read returns the current content of a part, staged edits included.
func (c *Container) Read(name string) ([]byte, error) {
	if data, ok := c.replaced[name]; ok {
		return data, nil
	}
	for _, a := range c.added {
		if a.name == name {
			return a.data, nil
		}
	}
	f, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("part %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Replace stages new content for a part, adding it when absent.
func (c *Container) Replace(name string, data []byte) {
	if _, ok := c.byName[name]; ok {
		c.replaced[name] = data
		return
	}
	for i, a := range c.added {
		if a.name == name {
			c.added[i].data = data
			return
		}
	}
	c.added = append(c.added, addedPart{name: name, data: data})
}

// AddImage stores image bytes as a new ppt/media part, declares the
// extension's content type and links the media from part. It returns the
// relationship id. Nothing is staged unless every step succeeds.
func (c *Container) AddImage(part, ext, contentType string, data []byte) (string, error) {
	types, err := c.Read(contentTypesPart)
	if err != nil {
		return "", err
	}
	newTypes, err := withDefaultContentType(string(types), ext, contentType)
	if err != nil {
		return "", err
	}

	n, media := c.nextMedia(ext)
	rels := RelsPart(part)
	relsDoc := relsHeader + relsOpen + "</Relationships>"
	if c.Has(rels) {
		existing, err := c.Read(rels)
		if err != nil {
			return "", err
		}
		relsDoc = string(existing)
	}
	newRels, rid, err := withImageRel(relsDoc, relTarget(part, media))
	if err != nil {
		return "", fmt.Errorf("%s: %w", rels, err)
	}

	c.media = n
	c.Replace(media, data)
	if newTypes != string(types) {
		c.Replace(contentTypesPart, []byte(newTypes))
	}
	c.Replace(rels, []byte(newRels))
	return rid, nil
}

// nextMedia returns the next free ppt/media name and its sequence number.
func (c *Container) nextMedia(ext string) (int, string) {
	for n := c.media + 1; ; n++ {
		name := fmt.Sprintf("ppt/media/export_image%d.%s", n, ext)
		if !c.Has(name) {
			return n, name
		}
	}
}

// withDefaultContentType declares a content type for an extension unless
// one is declared already.
func withDefaultContentType(types, ext, contentType string) (string, error) {
	if strings.Contains(strings.ToLower(types), `extension="`+strings.ToLower(ext)+`"`) {
		return types, nil
	}
	i := strings.LastIndex(types, "</Types>")
	if i < 0 {
		return "", fmt.Errorf("%s has no Types element", contentTypesPart)
	}
	entry := fmt.Sprintf(`<Default Extension="%s" ContentType="%s"/>`, ext, contentType)
	return types[:i] + entry + types[i:], nil
}

const (
	relsHeader   = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"
	relsOpen     = `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`
	relTypeImage = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

// RelsPart returns the relationships part name of a part.
func RelsPart(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

// withImageRel adds an image relationship to target with a fresh id.
func withImageRel(rels, target string) (string, string, error) {
	i := strings.LastIndex(rels, "</Relationships>")
	if i < 0 {
		return "", "", errors.New("no Relationships element")
	}
	id := ""
	for n := 1; ; n++ {
		id = fmt.Sprintf("rIdExport%d", n)
		if !strings.Contains(rels, `Id="`+id+`"`) {
			break
		}
	}
	entry := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"/>`, id, relTypeImage, target)
	return rels[:i] + entry + rels[i:], id, nil
}

// relTarget expresses media relative to the directory of part.
func relTarget(part, media string) string {
	from := strings.Split(path.Dir(part), "/")
	to := strings.Split(media, "/")
	n := 0
	for n < len(from) && n < len(to)-1 && from[n] == to[n] {
		n++
	}
	var b strings.Builder
	for i := n; i < len(from); i++ {
		if from[i] == "." || from[i] == "" {
			continue
		}
		b.WriteString("../")
	}
	b.WriteString(strings.Join(to[n:], "/"))
	return b.String()
}

// Bytes writes the container. Unmodified parts keep their compressed bytes.
func (c *Container) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, f := range c.files {
		data, ok := c.replaced[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}
		hdr := &zip.FileHeader{Name: f.Name, Method: f.Method, Modified: f.Modified}
		if err := writePart(zw, hdr, data); err != nil {
			return nil, err
		}
	}
	for _, a := range c.added {
		hdr := &zip.FileHeader{Name: a.name, Method: zip.Deflate}
		if err := writePart(zw, hdr, a.data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(zw *zip.Writer, hdr *zip.FileHeader, data []byte) error {
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create %s: %w", hdr.Name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", hdr.Name, err)
	}
	return nil
}
