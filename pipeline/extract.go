package pipeline

import (
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?is)```json[ \t]*\r?\n(.*?)\r?\n?```")

// ExtractJSON locates a JSON payload in free-form model output. It checks, in
// order: a fenced block marked as json, the first balanced {...} object, and
// the first balanced [...] array. If none is found the trimmed text is
// returned unchanged and the caller fails when decoding it.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if obj := firstBalanced(text, '{', '}'); obj != "" {
		return obj
	}
	if arr := firstBalanced(text, '[', ']'); arr != "" {
		return arr
	}
	return text
}

// firstBalanced returns the first substring that starts with open and ends
// with its matching close, skipping brackets inside JSON strings.
func firstBalanced(s string, open, close byte) string {
	for start := strings.IndexByte(s, open); start >= 0; {
		if end := matchClose(s, start, open, close); end > 0 {
			return s[start : end+1]
		}
		next := strings.IndexByte(s[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func matchClose(s string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
