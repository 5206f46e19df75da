package sectorio

import (
	"io"
	"os"

	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"
)

// OpenGzip decodes a gzip-compressed disk image (conventionally named
// *.img.gz) to a linear in-memory Store. pgzip decompresses large
// images on multiple cores, which matters for the biggest images this
// stack accepts.
func OpenGzip(filename string) (Store, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: opening %s: %w", filename, err)
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: gzip header in %s: %w", filename, err)
	}
	defer zr.Close()

	buf, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: inflating %s: %w", filename, err)
	}
	return NewBytesStore(buf), nil
}

// SaveGzip writes buf to filename as a gzip-compressed image, using a
// parallel compressor.
func SaveGzip(filename string, buf []byte) error {
	f, err := os.Create(filename)
	if err != nil {
		return xerrors.Errorf("sectorio: creating %s: %w", filename, err)
	}
	defer f.Close()

	zw := pgzip.NewWriter(f)
	if _, err := zw.Write(buf); err != nil {
		zw.Close()
		return xerrors.Errorf("sectorio: writing %s: %w", filename, err)
	}
	if err := zw.Close(); err != nil {
		return xerrors.Errorf("sectorio: closing %s: %w", filename, err)
	}
	return f.Sync()
}
