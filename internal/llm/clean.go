package llm

import "strings"

// EndOfSequence is the end-of-sequence marker some models leak into
// their output.
const EndOfSequence = "</s>"

// StripMarkers removes every end-of-sequence marker from s.
func StripMarkers(s string) string {
	return strings.ReplaceAll(s, EndOfSequence, "")
}

// CleanAnswer prepares a raw model answer for display: markers are
// stripped and lines that are empty or whitespace-only are dropped.
// Remaining lines keep their order and are joined with "\n".
func CleanAnswer(s string) string {
	lines := strings.Split(StripMarkers(s), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
