package sectorio

import "golang.org/x/xerrors"

// BytesStore is a read-only Store over an in-memory byte slice, used as
// the result of decoding a compressed container (TD0, IMD, gzip, zstd)
// to a linear image.
type BytesStore struct {
	buf []byte
}

func NewBytesStore(buf []byte) *BytesStore { return &BytesStore{buf: buf} }

// errOutOfRange is returned for reads past the end of a decoded
// container image, which happens when a TD0/IMD file carries fewer
// tracks than the volume label's nominal geometry implies.
var errOutOfRange = xerrors.New("sectorio: access out of range")

func (b *BytesStore) ReadAt(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset > int64(len(b.buf)) {
		return 0, xerrors.Errorf("sectorio: read offset %d: %w", offset, errOutOfRange)
	}
	return copy(buf, b.buf[offset:]), nil
}

func (b *BytesStore) WriteAt(offset int64, buf []byte) (int, error) {
	return 0, xerrors.New("sectorio: read-only compressed-container image")
}

func (b *BytesStore) WriteZeroAt(offset int64, n int) error {
	return xerrors.New("sectorio: read-only compressed-container image")
}

func (b *BytesStore) Sync() error { return nil }
func (b *BytesStore) IsReadOnly() bool { return true }
func (b *BytesStore) SizeInBytes() int64 { return int64(len(b.buf)) }
func (b *BytesStore) BytesPerSectorHint(int) {}
func (b *BytesStore) Bytes() []byte { return b.buf }

var _ Store = (*BytesStore)(nil)
