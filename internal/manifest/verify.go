package manifest

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/qualityfix/internal/variant"
)

// ErrVerify is returned when rewritten text does not decode as the expected
// single-variant master playlist.
var ErrVerify = errors.New("rewritten manifest failed verification")

// Verify decodes rewritten text with an independent HLS parser and checks that
// it is a master playlist holding only the selected variant.
func Verify(output string, selected variant.Variant) error {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(output), false)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrVerify, err)
	}

	if listType != m3u8.MASTER {
		return fmt.Errorf("%w: expected master playlist", ErrVerify)
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return fmt.Errorf("%w: unexpected playlist type", ErrVerify)
	}

	var variants []*m3u8.Variant
	for _, v := range master.Variants {
		// I-frame streams belong to the kept prefix
		if v != nil && !v.Iframe {
			variants = append(variants, v)
		}
	}

	if len(variants) != 1 {
		return fmt.Errorf("%w: expected 1 variant, got %d", ErrVerify, len(variants))
	}

	got := variants[0]
	if strings.TrimSpace(got.URI) != selected.URI {
		return fmt.Errorf("%w: variant URI %q, want %q", ErrVerify, got.URI, selected.URI)
	}

	// m3u8 stores bandwidth as uint32; larger values cannot be compared
	if selected.Bandwidth > 0 && selected.Bandwidth <= math.MaxUint32 &&
		int64(got.Bandwidth) != selected.Bandwidth {
		return fmt.Errorf("%w: variant bandwidth %d, want %d", ErrVerify, got.Bandwidth, selected.Bandwidth)
	}

	return nil
}
