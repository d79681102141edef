// Package manifest inspects HLS manifest text and reduces master playlists
// to their highest-bandwidth variant.
package manifest

import "strings"

const (
	// TargetDurationTag only appears in media playlists.
	TargetDurationTag = "#EXT-X-TARGETDURATION"

	// StreamInfTag announces a variant in a master playlist.
	StreamInfTag = "#EXT-X-STREAM-INF"

	// streamInfPrefix is what a variant declaration line starts with.
	streamInfPrefix = StreamInfTag + ":"
)

// Kind classifies manifest text.
type Kind int

const (
	// Unrecognized is anything that is neither a master nor a media playlist.
	Unrecognized Kind = iota
	// Master lists alternative variants of the same content.
	Master
	// Media lists the segments of one variant.
	Media
)

func (k Kind) String() string {
	switch k {
	case Master:
		return "master"
	case Media:
		return "media"
	default:
		return "unrecognized"
	}
}

// Classify decides what kind of manifest text is. It never fails.
func Classify(text string) Kind {
	if text == "" {
		return Unrecognized
	}
	if strings.Contains(text, TargetDurationTag) {
		return Media
	}
	if strings.Contains(text, StreamInfTag) {
		return Master
	}
	return Unrecognized
}
