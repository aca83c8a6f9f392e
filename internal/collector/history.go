package collector

import (
	"strings"
	"unicode/utf8"
)

const (
	thinkOpen       = "<think>"
	thinkClose      = "</think>"
	truncatedMarker = "... "
)

// TruncateThinking shortens the first <think> block of response before it is
// kept in the prompt history. The block keeps its last paragraph when that is
// shorter than the whole block, otherwise its last maxChars characters.
// Responses without a well-formed block are returned unchanged.
func TruncateThinking(response string, maxChars int) string {
	start := strings.Index(response, thinkOpen)
	end := strings.Index(response, thinkClose)
	if start == -1 || end == -1 || start >= end {
		return response
	}

	before := response[:start+len(thinkOpen)]
	after := response[end:]
	content := strings.TrimSpace(response[start+len(thinkOpen) : end])
	if content == "" {
		return response
	}

	kept := content
	truncated := false
	if last := lastParagraph(content); last != "" && len(last) < len(content) {
		kept, truncated = last, true
	} else if utf8.RuneCountInString(content) > maxChars {
		kept, truncated = lastRunes(content, maxChars), true
	}

	if truncated && kept != "" && !strings.HasPrefix(kept, truncatedMarker) {
		kept = truncatedMarker + strings.TrimLeft(kept, " \t\r\n\v\f")
	}

	block := ""
	if k := strings.TrimSpace(kept); k != "" && k != "..." {
		block = "\n" + k + "\n"
	}
	return strings.TrimRight(before, " \t\r\n\v\f") + block + strings.TrimLeft(after, " \t\r\n\v\f")
}

func lastParagraph(s string) string {
	parts := strings.Split(s, "\n\n")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p
		}
	}
	return ""
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	skip := count - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}
