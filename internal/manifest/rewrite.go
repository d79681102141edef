package manifest

import (
	"github.com/agleyzer/qualityfix/internal/variant"
)

// Select returns the variant with the greatest bandwidth. Among equal
// bandwidths the first one in source order wins. It panics on an empty slice;
// callers skip selection when nothing was extracted.
func Select(variants []variant.Variant) variant.Variant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// Rewrite keeps the manifest-global prefix and the selected block, dropping
// every other variant. The selected block is copied byte for byte, so the
// source line terminators survive.
func Rewrite(text string, selected variant.Variant, firstMarkerOffset int) string {
	return text[:firstMarkerOffset] + selected.Block(text)
}

// Result describes one run of Process.
type Result struct {
	Kind Kind

	// Variants holds the extracted variants (master playlists only)
	Variants []variant.Variant

	// Dropped counts variant markers without a URI line
	Dropped int

	// Selected is nil unless a variant was chosen
	Selected *variant.Variant

	// Output is the text to hand to the player
	Output string

	// Rewritten is true when Output was rebuilt from Selected
	Rewritten bool
}

// Process runs the whole pipeline on one manifest. Anything that is not a
// master playlist with at least one variant comes back unchanged.
func Process(text string) Result {
	res := Result{Kind: Classify(text), Output: text}
	if res.Kind != Master {
		return res
	}

	s := scanMaster(text)
	res.Variants = s.variants
	res.Dropped = s.dropped
	if len(s.variants) == 0 {
		return res
	}

	selected := Select(s.variants)
	res.Selected = &selected
	res.Output = Rewrite(text, selected, s.firstMarker)
	res.Rewritten = true
	return res
}
