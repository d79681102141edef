// Package quality maps declared variant bandwidth and resolution to quality labels.
package quality

import (
	"math"

	"github.com/agleyzer/qualityfix/internal/variant"
)

// Unknown is the label used before any selection and when no band matches.
const Unknown = "Unknown"

// Band maps a half-open bandwidth range [MinKbps, MaxKbps) to a label.
// A MaxKbps of 0 means the band is unbounded above.
type Band struct {
	MinKbps int64
	MaxKbps int64
	Label   string
}

// Contains reports whether kbps falls into the band.
func (b Band) Contains(kbps int64) bool {
	if kbps < b.MinKbps {
		return false
	}
	return b.MaxKbps == 0 || kbps < b.MaxKbps
}

// bands partitions [0, inf) with no gaps or overlaps.
var bands = []Band{
	{MinKbps: 0, MaxKbps: 300, Label: "160p"},
	{MinKbps: 300, MaxKbps: 500, Label: "240p"},
	{MinKbps: 500, MaxKbps: 1000, Label: "360p"},
	{MinKbps: 1000, MaxKbps: 2000, Label: "480p"},
	{MinKbps: 2000, MaxKbps: 5000, Label: "720p"},
	{MinKbps: 5000, MaxKbps: 10000, Label: "1080p"},
	{MinKbps: 10000, MaxKbps: 15000, Label: "1440p"},
	{MinKbps: 15000, MaxKbps: 0, Label: "4K"},
}

// heights is ordered from the highest threshold down.
var heights = []struct {
	min   int
	label string
}{
	{2160, "4K"},
	{1440, "1440p"},
	{1080, "1080p"},
	{720, "720p"},
	{480, "480p"},
	{360, "360p"},
	{240, "240p"},
}

// Bands returns a copy of the bandwidth table in ascending order.
func Bands() []Band {
	return append([]Band(nil), bands...)
}

// FromBandwidth labels a bitrate given in bits per second.
func FromBandwidth(bps int64) string {
	kbps := int64(math.Round(float64(bps) / 1000))
	for _, b := range bands {
		if b.Contains(kbps) {
			return b.Label
		}
	}
	return Unknown
}

// FromHeight labels a vertical resolution. Heights below every threshold are "160p".
func FromHeight(height int) string {
	for _, h := range heights {
		if height >= h.min {
			return h.label
		}
	}
	return "160p"
}

// Classify returns the label for a variant. A declared resolution always
// wins over bandwidth.
func Classify(v variant.Variant) string {
	if v.HasResolution() {
		return FromHeight(v.Height)
	}
	return FromBandwidth(v.Bandwidth)
}
