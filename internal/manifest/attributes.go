package manifest

import (
	"strconv"
	"strings"
)

// parseAttributes splits an attribute list such as
// `BANDWIDTH=800000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=640x360`
// into key/value pairs. Quoted values keep their commas and lose their quotes.
// Entries without '=' are ignored.
func parseAttributes(list string) map[string]string {
	attrs := make(map[string]string)

	var field strings.Builder
	inQuotes := false
	flush := func() {
		key, value, ok := strings.Cut(field.String(), "=")
		field.Reset()
		if !ok {
			return
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		attrs[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}

	for _, r := range list {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			field.WriteRune(r)
		case r == ',' && !inQuotes:
			flush()
		default:
			field.WriteRune(r)
		}
	}
	flush()

	return attrs
}

// parseBandwidth returns 0 for missing or malformed values.
func parseBandwidth(attrs map[string]string) int64 {
	raw, ok := attrs["BANDWIDTH"]
	if !ok {
		return 0
	}
	bw, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || bw < 0 {
		return 0
	}
	return bw
}

// parseResolution returns (0, 0) for missing or malformed values.
func parseResolution(attrs map[string]string) (width, height int) {
	raw, ok := attrs["RESOLUTION"]
	if !ok {
		return 0, 0
	}
	w, h, ok := strings.Cut(strings.ToLower(raw), "x")
	if !ok {
		return 0, 0
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0
	}
	return width, height
}
