package channels

import (
	"strings"
	"unicode"
)

// ChunkMessage splits a reply into pieces no longer than maxSize,
// preferring to break at paragraph boundaries, then line breaks, then
// sentence endings, then word boundaries, and only hard-cutting when
// a single token exceeds the limit.
func ChunkMessage(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = 4000
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxSize {
		cut := breakPoint(remaining, maxSize)
		chunk := strings.TrimRightFunc(remaining[:cut], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[cut:], unicode.IsSpace)
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func breakPoint(text string, maxSize int) int {
	window := text[:maxSize]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return maxSize
}
