package sectorio

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// OpenImage opens path as a sector-addressable Store, dispatching on
// its extension to the right compressed-container reader (TD0, IMD,
// gzip, zstd) and falling back to a plain file/mmap Store otherwise.
// Compressed containers are decoded fully into memory and are always
// read-only, regardless of readOnly: OpenImage never writes changes
// back into the container.
func OpenImage(path string, readOnly bool) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return OpenGzip(path)
	case ".zst", ".zstd":
		return OpenZstd(path)
	case ".td0":
		f, err := os.Open(path)
		if err != nil {
			return nil, xerrors.Errorf("sectorio: opening %s: %w", path, err)
		}
		defer f.Close()
		return ReadTD0(f)
	case ".imd":
		f, err := os.Open(path)
		if err != nil {
			return nil, xerrors.Errorf("sectorio: opening %s: %w", path, err)
		}
		defer f.Close()
		return ReadIMD(f)
	default:
		return OpenFile(path, readOnly)
	}
}

// WrapInterleave composes store with the named sector-remapping stack:
// "none" leaves it as-is, "apple" and "pdp" apply the matching fixed
// interleave ("pdp" behind an OffsetShim that skips the first track),
// and "guess" sniffs the volume label signature to pick one
// automatically, returning an error when no candidate matches.
func WrapInterleave(store Store, kind string) (Store, error) {
	switch kind {
	case "", "none":
		return store, nil
	case "apple":
		if store.SizeInBytes()%4096 != 0 {
			return nil, xerrors.Errorf("sectorio: apple interleave needs a multiple of 4KiB, got %d bytes", store.SizeInBytes())
		}
		return NewAppleInterleave(store), nil
	case "pdp":
		return NewPDPInterleave(NewOffsetShim(store, pdpSectorSize*pdpSectorsPerTrack)), nil
	case "guess":
		guessed := GuessInterleaving(store)
		if guessed == nil {
			return nil, xerrors.New("sectorio: unable to determine the sector interleaving")
		}
		return guessed, nil
	default:
		return nil, xerrors.Errorf("sectorio: unknown interleave kind %q", kind)
	}
}

// CopyTo streams store's full contents, in order, to w: used by mkfs and
// the interleave converter to materialize an in-memory or filtered Store
// as a plain host file.
func CopyTo(store Store, w io.Writer) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)
	size := store.SizeInBytes()
	for off := int64(0); off < size; off += chunk {
		n := int64(len(buf))
		if off+n > size {
			n = size - off
		}
		if _, err := store.ReadAt(off, buf[:n]); err != nil {
			return xerrors.Errorf("sectorio: reading at %d: %w", off, err)
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return xerrors.Errorf("sectorio: writing: %w", err)
		}
	}
	return nil
}
