package sectorio

// OffsetShim shifts every access to the store beneath it by a fixed byte
// offset. Used by the PDP-26 interleave filter's caller to skip the
// first (discarded) track, and directly by the interleave guesser when
// it finds a valid volume label at a brute-forced n*256 offset.
type OffsetShim struct {
	deeper Store
	offset int64
}

func NewOffsetShim(deeper Store, offset int64) *OffsetShim {
	return &OffsetShim{deeper: deeper, offset: offset}
}

func (o *OffsetShim) ReadAt(offset int64, buf []byte) (int, error) {
	return o.deeper.ReadAt(offset+o.offset, buf)
}

func (o *OffsetShim) WriteAt(offset int64, buf []byte) (int, error) {
	return o.deeper.WriteAt(offset+o.offset, buf)
}

func (o *OffsetShim) WriteZeroAt(offset int64, n int) error {
	return o.deeper.WriteZeroAt(offset+o.offset, n)
}

func (o *OffsetShim) Sync() error { return o.deeper.Sync() }
func (o *OffsetShim) IsReadOnly() bool { return o.deeper.IsReadOnly() }

func (o *OffsetShim) SizeInBytes() int64 {
	n := o.deeper.SizeInBytes() - o.offset
	if n < 0 {
		return 0
	}
	return n
}

func (o *OffsetShim) BytesPerSectorHint(n int) { o.deeper.BytesPerSectorHint(n) }

var _ Store = (*OffsetShim)(nil)
