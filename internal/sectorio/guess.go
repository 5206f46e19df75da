package sectorio

import "github.com/ucsdpsys/ucsdpsys-go/internal/bytesex"

// GuessInterleaving probes deeper (a raw or container-decoded linear
// image) for a plausible volume label at offset 1024, trying candidate
// sector-remapping stacks from most to least common: raw, Apple-16,
// PDP-26 behind the boot-track offset, the boot-track offset alone,
// PDP-26 alone, and finally
// brute-forced byte offsets of n*256 for n in [1, 127].
//
// It returns the first Store that yields a signature match, or nil if
// none does.
func GuessInterleaving(deeper Store) Store {
	candidates := []Store{
		deeper,
		NewAppleInterleave(deeper),
	}

	offsetTrack := NewOffsetShim(deeper, pdpSectorSize*pdpSectorsPerTrack)
	candidates = append(candidates,
		NewPDPInterleave(offsetTrack),
		offsetTrack,
		NewPDPInterleave(deeper),
	)

	for _, c := range candidates {
		if looksLikeVolumeLabel(c) {
			return c
		}
	}

	for n := int64(1); n <= 127; n++ {
		shim := NewOffsetShim(deeper, n*256)
		if looksLikeVolumeLabel(shim) {
			return shim
		}
	}

	return nil
}

// looksLikeVolumeLabel reads 16 bytes at offset 1024 and tests the
// volume-label signature: first_block == 0, last_block in {6, 10}
// under either byte order, and a name length in [1, 7].
func looksLikeVolumeLabel(s Store) bool {
	buf := make([]byte, 16)
	n, err := s.ReadAt(1024, buf)
	if err != nil || n < 16 {
		return false
	}
	for _, order := range []bytesex.Order{bytesex.Little, bytesex.Big} {
		first := bytesex.GetWord(order, buf[0:2])
		last := bytesex.GetWord(order, buf[2:4])
		nameLen := buf[6]
		if first == 0 && (last == 6 || last == 10) && nameLen >= 1 && nameLen <= 7 {
			return true
		}
	}
	return false
}
