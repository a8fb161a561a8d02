// Package attachment decides how the images, files and stickers of a relayed
// message are presented: at most one inline image on the main envelope, the
// rest as follow-up images or file-link fields.
package attachment

import (
	"path"
	"strings"

	"github.com/memohai/modmail/internal/channel"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".gifv": {},
	".webp": {},
}

// Item is one media element of a message.
type Item struct {
	// URL is empty when the asset could not be retrieved.
	URL         string
	Filename    string
	ContentType string
	Size        int64
	Sticker     bool
	// File carries bytes that must be uploaded alongside the envelope.
	File *channel.File
}

// Named reports whether the item carries a filename.
func (i Item) Named() bool {
	return strings.TrimSpace(i.Filename) != ""
}

// Placeholder reports whether the item stands in for an unretrievable asset.
func (i Item) Placeholder() bool {
	return strings.TrimSpace(i.URL) == ""
}

// ImageCapable reports whether the item can be displayed as an image.
func (i Item) ImageCapable() bool {
	if i.Sticker {
		return true
	}
	if strings.HasPrefix(strings.ToLower(i.ContentType), "image/") {
		return true
	}
	if i.Placeholder() {
		return false
	}
	return IsImageURL(i.URL) || (i.Named() && hasImageExtension(i.Filename))
}

// Result is the outcome of Classify.
type Result struct {
	Inline     *Item
	Additional []Item
}

// AdditionalImages returns the follow-up items that render as images.
func (r Result) AdditionalImages() []Item {
	out := make([]Item, 0, len(r.Additional))
	for _, item := range r.Additional {
		if item.ImageCapable() {
			out = append(out, item)
		}
	}
	return out
}

// Files returns the follow-up items that render as file links.
func (r Result) Files() []Item {
	out := make([]Item, 0, len(r.Additional))
	for _, item := range r.Additional {
		if !item.ImageCapable() {
			out = append(out, item)
		}
	}
	return out
}

// Classify picks the inline image and orders the rest as additional items.
// When any image-capable item carries a filename, the first such item is inlined.
// Otherwise the first image-capable item is. Every other item, in input order,
// becomes additional. Calling Classify on its own output order is stable.
func Classify(items []Item) Result {
	prioritizeNamed := false
	for _, item := range items {
		if item.ImageCapable() && item.Named() {
			prioritizeNamed = true
			break
		}
	}

	inline := -1
	for idx, item := range items {
		if !item.ImageCapable() {
			continue
		}
		if prioritizeNamed && !item.Named() {
			continue
		}
		inline = idx
		break
	}

	var result Result
	for idx := range items {
		item := items[idx]
		if idx == inline {
			result.Inline = &item
			continue
		}
		result.Additional = append(result.Additional, item)
	}
	return result
}

// IsImageURL reports whether the url path ends in a known image extension.
func IsImageURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	return hasImageExtension(raw)
}

func hasImageExtension(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}
