package sectorio

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"
)

// OpenZstd decodes a zstd-compressed disk image (*.img.zst) to a linear
// in-memory Store.
func OpenZstd(filename string) (Store, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: opening %s: %w", filename, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: zstd header in %s: %w", filename, err)
	}
	defer zr.Close()

	buf, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: decompressing %s: %w", filename, err)
	}
	return NewBytesStore(buf), nil
}

// SaveZstd writes buf to filename as a zstd-compressed image.
func SaveZstd(filename string, buf []byte) error {
	f, err := os.Create(filename)
	if err != nil {
		return xerrors.Errorf("sectorio: creating %s: %w", filename, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return xerrors.Errorf("sectorio: zstd writer for %s: %w", filename, err)
	}
	if _, err := zw.Write(buf); err != nil {
		zw.Close()
		return xerrors.Errorf("sectorio: writing %s: %w", filename, err)
	}
	if err := zw.Close(); err != nil {
		return xerrors.Errorf("sectorio: closing %s: %w", filename, err)
	}
	return f.Sync()
}
