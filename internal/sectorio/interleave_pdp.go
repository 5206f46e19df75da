package sectorio

// PDPInterleave implements the PDP-11 RX01/RX02-style "PDP-26" physical
// sector interleave: 128-byte sectors, 26 per track, mapped 2:1
// (even sectors then odd sectors) with a per-track skew of 6. This
// filter assumes the caller has already discarded the first track (see
// NewPDPInterleave's doc comment) via an OffsetShim of 128*26 bytes.
type PDPInterleave struct {
	deeper Store
}

const pdpSectorSize = 128
const pdpSectorsPerTrack = 26
const pdpTrackSkew = 6

// pdpMap[logical within track] = physical within track, before skew.
var pdpMap = buildPDPMap()

func buildPDPMap() [pdpSectorsPerTrack]int64 {
	var m [pdpSectorsPerTrack]int64
	i := 0
	for s := int64(0); s < pdpSectorsPerTrack; s += 2 {
		m[i] = s
		i++
	}
	for s := int64(1); s < pdpSectorsPerTrack; s += 2 {
		m[i] = s
		i++
	}
	return m
}

// NewPDPInterleave wraps deeper, which must already have had its first
// track (128*26 bytes) discarded by the caller (typically an
// OffsetShim); the boot track is never interleaved, only the data
// tracks after it.
func NewPDPInterleave(deeper Store) *PDPInterleave {
	deeper.BytesPerSectorHint(pdpSectorSize)
	return &PDPInterleave{deeper: deeper}
}

func (p *PDPInterleave) physicalSector(logical int64) int64 {
	track := logical / pdpSectorsPerTrack
	within := logical % pdpSectorsPerTrack
	skew := (track * pdpTrackSkew) % pdpSectorsPerTrack
	phys := (pdpMap[within] + skew) % pdpSectorsPerTrack
	return track*pdpSectorsPerTrack + phys
}

func (p *PDPInterleave) readSector(n int64, buf []byte) error {
	_, err := p.deeper.ReadAt(p.physicalSector(n)*pdpSectorSize, buf)
	return err
}

func (p *PDPInterleave) writeSector(n int64, buf []byte) error {
	_, err := p.deeper.WriteAt(p.physicalSector(n)*pdpSectorSize, buf)
	return err
}

func (p *PDPInterleave) rw() sectorRW {
	return sectorRW{size: pdpSectorSize, readSector: p.readSector, writeSector: p.writeSector}
}

func (p *PDPInterleave) ReadAt(offset int64, buf []byte) (int, error) {
	return unalignedRead(p.rw(), offset, buf)
}

func (p *PDPInterleave) WriteAt(offset int64, buf []byte) (int, error) {
	return unalignedWrite(p.rw(), offset, buf)
}

func (p *PDPInterleave) WriteZeroAt(offset int64, n int) error {
	return unalignedWriteZero(p.rw(), offset, n)
}

func (p *PDPInterleave) Sync() error { return p.deeper.Sync() }
func (p *PDPInterleave) IsReadOnly() bool { return p.deeper.IsReadOnly() }
func (p *PDPInterleave) SizeInBytes() int64 { return p.deeper.SizeInBytes() }
func (p *PDPInterleave) BytesPerSectorHint(n int) { p.deeper.BytesPerSectorHint(n) }
func (p *PDPInterleave) SectorSize() int { return pdpSectorSize }

var _ Store = (*PDPInterleave)(nil)
