package sectorio

// AppleInterleave implements the Apple DOS 3.3 "Apple-16" physical
// sector interleave: 256-byte sectors, 16 per track, permuted within
// each track by a fixed map. The track base is preserved (sector &
// ~15); only the position within the track is remapped.
type AppleInterleave struct {
	deeper Store
}

const appleSectorSize = 256
const appleSectorsPerTrack = 16

// appleMap[logical] = physical, within a 16-sector track.
var appleMap = [appleSectorsPerTrack]int64{0, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 15}

func NewAppleInterleave(deeper Store) *AppleInterleave {
	deeper.BytesPerSectorHint(appleSectorSize)
	return &AppleInterleave{deeper: deeper}
}

func (a *AppleInterleave) physicalSector(logical int64) int64 {
	track := logical &^ (appleSectorsPerTrack - 1)
	within := logical & (appleSectorsPerTrack - 1)
	return track + appleMap[within]
}

func (a *AppleInterleave) readSector(n int64, buf []byte) error {
	_, err := a.deeper.ReadAt(a.physicalSector(n)*appleSectorSize, buf)
	return err
}

func (a *AppleInterleave) writeSector(n int64, buf []byte) error {
	_, err := a.deeper.WriteAt(a.physicalSector(n)*appleSectorSize, buf)
	return err
}

func (a *AppleInterleave) rw() sectorRW {
	return sectorRW{size: appleSectorSize, readSector: a.readSector, writeSector: a.writeSector}
}

func (a *AppleInterleave) ReadAt(offset int64, buf []byte) (int, error) {
	return unalignedRead(a.rw(), offset, buf)
}

func (a *AppleInterleave) WriteAt(offset int64, buf []byte) (int, error) {
	return unalignedWrite(a.rw(), offset, buf)
}

func (a *AppleInterleave) WriteZeroAt(offset int64, n int) error {
	return unalignedWriteZero(a.rw(), offset, n)
}

func (a *AppleInterleave) Sync() error { return a.deeper.Sync() }
func (a *AppleInterleave) IsReadOnly() bool { return a.deeper.IsReadOnly() }
func (a *AppleInterleave) SizeInBytes() int64 { return a.deeper.SizeInBytes() }
func (a *AppleInterleave) BytesPerSectorHint(n int) { a.deeper.BytesPerSectorHint(n) }
func (a *AppleInterleave) SectorSize() int { return appleSectorSize }

var _ Store = (*AppleInterleave)(nil)
