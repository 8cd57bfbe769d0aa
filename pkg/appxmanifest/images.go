package appxmanifest

import (
	"regexp"
	"strings"
)

var (
	logoAttr    = regexp.MustCompile(`[A-Za-z0-9]*Logo=["']([^"']+)["']`)
	logoElement = regexp.MustCompile(`<(?:uap:)?Logo>([^<]+)</(?:uap:)?Logo>`)
)

// DeclaredImages lists every image path the manifest references through
// its logo attributes (Square44x44Logo, Wide310x150Logo, ...) and the
// package Logo element, deduplicated, in declaration order. Paths are
// returned as written, relative to the manifest's directory.
func DeclaredImages(doc []byte) []string {
	seen := make(map[string]bool)
	var images []string

	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		images = append(images, path)
	}

	for _, m := range logoElement.FindAllSubmatch(doc, -1) {
		add(string(m[1]))
	}
	for _, m := range logoAttr.FindAllSubmatch(doc, -1) {
		add(string(m[1]))
	}

	return images
}
