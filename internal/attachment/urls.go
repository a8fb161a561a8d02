package attachment

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>()"']+`)

// ExtractImageURLs returns the bare image links found in text, in order of appearance.
// Links wrapped in angle brackets are suppressed by the platform and are skipped.
func ExtractImageURLs(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		if loc[0] > 0 && text[loc[0]-1] == '<' {
			continue
		}
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!*_~|")
		if !IsImageURL(raw) {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	return out
}
