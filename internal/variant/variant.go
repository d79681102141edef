// Package variant defines data structures for HLS variant streams in master playlists.
package variant

// Variant represents a single #EXT-X-STREAM-INF block of a master playlist.
// A Variant only lives for the duration of one manifest-processing call.
type Variant struct {
	// Bandwidth is the declared peak bitrate in bits per second (0 if absent or malformed)
	Bandwidth int64

	// Width and Height come from RESOLUTION=<width>x<height>
	// Height is 0 when the attribute is absent or malformed
	Width  int
	Height int

	// Codecs is the CODECS attribute without quotes, empty if not declared
	Codecs string

	// Label is the human-readable quality tier ("1080p", "4K", ...)
	Label string

	// Declaration is the marker line as it appeared in the source, without line terminator
	Declaration string

	// URI is the line following the marker, without line terminator
	URI string

	// Offset is the byte offset of the marker line in the source text
	Offset int

	// End is the byte offset just past the URI line's terminator
	End int
}

// HasResolution reports whether the variant declared a usable RESOLUTION.
func (v Variant) HasResolution() bool {
	return v.Height > 0
}

// Block returns the source bytes of this variant's declaration block.
// The text must be the same text the variant was extracted from.
func (v Variant) Block(text string) string {
	return text[v.Offset:v.End]
}
