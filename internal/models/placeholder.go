// internal/models/placeholder.go
package models

// PlaceholderMap maps template keys to rendered text. It is rebuilt on every
// export and never persisted.
type PlaceholderMap map[string]string

// ImageCategory selects the picture size used when embedding a photo.
type ImageCategory string

const (
	ImageCover       ImageCategory = "cover"
	ImageMainSign    ImageCategory = "main-sign"
	ImageMapOrLayout ImageCategory = "map-or-layout"
	ImageOther       ImageCategory = "other"
)

// ImageRef is the resolvable source of one image token.
type ImageRef struct {
	URL      string        `json:"url"`
	Category ImageCategory `json:"category"`
}
