package sectorio

import (
	"bufio"
	"io"

	"golang.org/x/xerrors"
)

// ReadIMD decodes an ImageDisk (.IMD) container to a linear byte image:
// an ASCII comment terminated by 0x1A, then tracks until EOF, each with
// a mode/cylinder/head/sector-count/size-code header, a sector
// numbering map, optional cylinder and head maps (flag bits 7 and 6 of
// the head byte), and per-sector records of type 0 (unavailable,
// zero-fill), 1 (raw) or 2 (single-byte RLE). Tracks are concatenated
// in input order; a track's sectors are placed at the position
// sector_map[j] gives after normalizing it to zero-based (subtract
// one, modulo sector count).
func ReadIMD(r io.Reader) (Store, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, xerrors.Errorf("imd: reading magic: %w", err)
	}
	if string(magic) != "IMD " {
		return nil, xerrors.Errorf("imd: bad magic %q", magic)
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, xerrors.Errorf("imd: reading comment: %w", err)
		}
		if b == 0x1A {
			break
		}
	}

	var out []byte
	for {
		header := make([]byte, 5)
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, xerrors.Errorf("imd: reading track header: %w", err)
		}
		mode, cyl, head, nsec, ssizeCode := header[0], header[1], header[2], header[3], header[4]
		_ = mode
		_ = cyl
		if ssizeCode > 6 {
			return nil, xerrors.Errorf("imd: bad sector size code %d", ssizeCode)
		}
		sectorSize := 128 << ssizeCode

		sectorMap := make([]byte, nsec)
		if _, err := io.ReadFull(br, sectorMap); err != nil {
			return nil, xerrors.Errorf("imd: reading sector map: %w", err)
		}
		if head&0x80 != 0 {
			cylMap := make([]byte, nsec)
			if _, err := io.ReadFull(br, cylMap); err != nil {
				return nil, xerrors.Errorf("imd: reading cylinder map: %w", err)
			}
		}
		if head&0x40 != 0 {
			headMap := make([]byte, nsec)
			if _, err := io.ReadFull(br, headMap); err != nil {
				return nil, xerrors.Errorf("imd: reading head map: %w", err)
			}
		}

		track := make([]byte, int(nsec)*sectorSize)
		for i := 0; i < int(nsec); i++ {
			recType, err := br.ReadByte()
			if err != nil {
				return nil, xerrors.Errorf("imd: reading sector %d record type: %w", i, err)
			}
			logical := (int(sectorMap[i]) - 1 + int(nsec)) % int(nsec)
			dest := track[logical*sectorSize : (logical+1)*sectorSize]
			switch recType {
			case 0:
				// unavailable: leave zero-filled.
			case 1:
				if _, err := io.ReadFull(br, dest); err != nil {
					return nil, xerrors.Errorf("imd: reading raw sector %d: %w", i, err)
				}
			case 2:
				fill, err := br.ReadByte()
				if err != nil {
					return nil, xerrors.Errorf("imd: reading RLE fill byte: %w", err)
				}
				for j := range dest {
					dest[j] = fill
				}
			default:
				return nil, xerrors.Errorf("imd: unknown sector record type %d", recType)
			}
		}
		out = append(out, track...)
	}

	return NewBytesStore(out), nil
}
