package manifest

import "strings"

// line is one line of manifest text.
// text excludes the terminator ("\n" or "\r\n"); [start, end) covers it.
type line struct {
	text  string
	start int
	end   int
}

// splitLines tokenizes text into lines. A final line without terminator is kept.
func splitLines(text string) []line {
	var lines []line
	pos := 0
	for pos < len(text) {
		next := strings.IndexByte(text[pos:], '\n')
		end := len(text)
		body := text[pos:]
		if next >= 0 {
			end = pos + next + 1
			body = text[pos : pos+next]
		}
		lines = append(lines, line{
			text:  strings.TrimSuffix(body, "\r"),
			start: pos,
			end:   end,
		})
		pos = end
	}
	return lines
}

// blank reports whether the line has no content.
func (l line) blank() bool {
	return strings.TrimSpace(l.text) == ""
}
