package aggregate

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultTruncateLength = 175
	DefaultTruncateSlack  = 50

	placeholder = "..."
	anchorOpen  = "<a href"
)

var linkPattern = regexp.MustCompile(`\[([^\[\]]+)\]\(([^()\s]+)\)`)

// ConvertLinks escapes s for HTML and rewrites [label](url) spans into anchors.
func ConvertLinks(s string) string {
	return linkPattern.ReplaceAllString(html.EscapeString(s), `<a href="$2" target="_blank">$1</a>`)
}

// Truncate shortens s on word boundaries so the result, including the
// trailing "...", fits width runes. Whitespace runs collapse to one space.
// When an anchor begins within width, slack is added so the tag survives.
// A trailing partial tag or entity is dropped and unclosed anchors are closed.
func Truncate(s string, width, slack int) string {
	if i := strings.Index(s, anchorOpen); i >= 0 && utf8.RuneCountInString(s[:i]) <= width {
		width += slack
	}
	out, cut := fitWords(s, width)
	if !cut {
		return out
	}
	out = strings.TrimRight(dropPartialMarkup(out), " ")
	if open := strings.Count(out, "<a ") - strings.Count(out, "</a>"); open > 0 {
		out += strings.Repeat("</a>", open)
	}
	return out + placeholder
}

// fitWords joins the words of s with single spaces. When they exceed width
// runes it keeps the words that fit beside the placeholder and reports cut.
func fitWords(s string, width int) (string, bool) {
	words := strings.Fields(s)
	joined := strings.Join(words, " ")
	if utf8.RuneCountInString(joined) <= width {
		return joined, false
	}

	budget := width - len(placeholder)
	var b strings.Builder
	n := 0
	for _, w := range words {
		wn := utf8.RuneCountInString(w)
		sep := 0
		if n > 0 {
			sep = 1
		}
		if n+sep+wn > budget {
			if n == 0 && budget > 0 {
				b.WriteString(string([]rune(w)[:budget]))
			}
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n += sep + wn
	}
	return b.String(), true
}

func dropPartialMarkup(s string) string {
	if lt := strings.LastIndexByte(s, '<'); lt > strings.LastIndexByte(s, '>') {
		s = s[:lt]
	}
	if amp := strings.LastIndexByte(s, '&'); amp >= 0 && !strings.Contains(s[amp:], ";") {
		s = s[:amp]
	}
	return s
}

// shorten truncates plain text. "<" and "&" are ordinary characters here.
func shorten(s string, width int) string {
	out, cut := fitWords(s, width)
	if !cut {
		return out
	}
	return strings.TrimRight(out, " ") + placeholder
}
