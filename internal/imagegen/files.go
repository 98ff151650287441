package imagegen

import (
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// Sanitize makes s safe to use as a file name stem. Spaces become
// underscores, as does every character outside [A-Za-z0-9_-]. An empty
// result becomes "prompt".
func Sanitize(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "_")
	if s == "" {
		return "prompt"
	}
	return s
}

// Extension returns the file extension for an image content type:
// the subtype with parameters removed, with "jpeg" shortened to "jpg".
func Extension(contentType string) string {
	ext := contentType
	if i := strings.LastIndex(ext, "/"); i >= 0 {
		ext = ext[i+1:]
	}
	if i := strings.Index(ext, ";"); i >= 0 {
		ext = ext[:i]
	}
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}
