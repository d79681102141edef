package manifest

import (
	"strings"

	"github.com/agleyzer/qualityfix/internal/quality"
	"github.com/agleyzer/qualityfix/internal/variant"
)

// scan is the result of walking a master playlist once.
type scan struct {
	variants []variant.Variant
	// firstMarker is the offset of the first marker line, -1 if none
	firstMarker int
	// dropped counts marker lines that had no URI line
	dropped int
}

func scanMaster(text string) scan {
	lines := splitLines(text)
	s := scan{firstMarker: -1}

	for i := 0; i < len(lines); i++ {
		decl := lines[i]
		if !strings.HasPrefix(decl.text, streamInfPrefix) {
			continue
		}
		if s.firstMarker < 0 {
			s.firstMarker = decl.start
		}

		uriIdx := nextURILine(lines, i+1)
		if uriIdx < 0 || strings.HasPrefix(lines[uriIdx].text, "#") {
			s.dropped++
			continue
		}
		uri := lines[uriIdx]

		attrs := parseAttributes(strings.TrimPrefix(decl.text, streamInfPrefix))
		width, height := parseResolution(attrs)
		v := variant.Variant{
			Bandwidth:   parseBandwidth(attrs),
			Width:       width,
			Height:      height,
			Codecs:      attrs["CODECS"],
			Declaration: decl.text,
			URI:         strings.TrimSpace(uri.text),
			Offset:      decl.start,
			End:         uri.end,
		}
		v.Label = quality.Classify(v)
		s.variants = append(s.variants, v)

		i = uriIdx
	}

	return s
}

// nextContentLine returns the index of the first non-blank line at or after from, or -1.
func nextContentLine(lines []line, from int) int {
	for i := from; i < len(lines); i++ {
		if !lines[i].blank() {
			return i
		}
	}
	return -1
}

// nextURILine is nextContentLine that also steps over plain comments.
// Tags stop the search.
func nextURILine(lines []line, from int) int {
	for i := nextContentLine(lines, from); i >= 0; i = nextContentLine(lines, i+1) {
		text := lines[i].text
		if !strings.HasPrefix(text, "#") || strings.HasPrefix(text, "#EXT") {
			return i
		}
	}
	return -1
}

// Extract returns the variants of a master playlist in source order, each
// already labelled. Markers without a URI line are dropped.
func Extract(text string) []variant.Variant {
	return scanMaster(text).variants
}

// FirstMarkerOffset returns the byte offset of the first variant marker line,
// or -1 when there is none. Everything before it is manifest-global.
func FirstMarkerOffset(text string) int {
	return scanMaster(text).firstMarker
}
