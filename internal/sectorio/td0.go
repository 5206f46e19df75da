package sectorio

import (
	"bufio"
	"io"

	"golang.org/x/xerrors"
)

// ReadTD0 decodes a Teledisk (.TD0) container to a linear byte image.
// Teledisk images carry a fixed header (possibly followed by a
// CRC-checked comment block), then a sequence of track headers, each
// followed by its sectors. "Advanced compressed" images (header
// signature "td") additionally run the whole body through an
// LZSS-plus-adaptive-Huffman decompressor; "normal" images (signature
// "TD") are stored with only per-sector payload compression.
func ReadTD0(r io.Reader) (Store, error) {
	br := bufio.NewReader(r)

	header := make([]byte, 12)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, xerrors.Errorf("td0: reading header: %w", err)
	}
	sig := string(header[0:2])
	var advanced bool
	switch sig {
	case "TD":
		advanced = false
	case "td":
		advanced = true
	default:
		return nil, xerrors.Errorf("td0: bad signature %q", sig)
	}
	if crc16TD0(header[:10]) != uint16(header[10])|uint16(header[11])<<8 {
		return nil, xerrors.New("td0: header CRC mismatch")
	}

	var body io.Reader = br
	if advanced {
		body = newLZSSDecompressor(br)
	}
	bbr := bufio.NewReader(body)

	// The stepping byte's top bit flags an optional comment block:
	// {crc16, len16, 6 timestamp bytes, len data bytes}, with the CRC
	// covering everything after itself.
	if stepping := header[7]; stepping&0x80 != 0 {
		chdr := make([]byte, 10)
		if _, err := io.ReadFull(bbr, chdr); err != nil {
			return nil, xerrors.Errorf("td0: reading comment header: %w", err)
		}
		clen := int(chdr[2]) | int(chdr[3])<<8
		comment := make([]byte, clen)
		if _, err := io.ReadFull(bbr, comment); err != nil {
			return nil, xerrors.Errorf("td0: reading comment body: %w", err)
		}
		want := uint16(chdr[0]) | uint16(chdr[1])<<8
		crc := crc16TD0(chdr[2:])
		crc = crc16TD0Continue(crc, comment)
		if crc != want {
			return nil, xerrors.New("td0: comment CRC mismatch")
		}
	}

	var out []byte
	for {
		thdr := make([]byte, 4)
		if _, err := io.ReadFull(bbr, thdr); err != nil {
			return nil, xerrors.Errorf("td0: reading track header: %w", err)
		}
		nsec, cyl, head, tcrc := thdr[0], thdr[1], thdr[2], thdr[3]
		if nsec == 0xFF {
			// End-of-image marker.
			break
		}
		_ = cyl
		_ = head
		if byte(crc16TD0(thdr[:3])) != tcrc {
			return nil, xerrors.New("td0: track header CRC mismatch")
		}

		for i := 0; i < int(nsec); i++ {
			shdr := make([]byte, 6)
			if _, err := io.ReadFull(bbr, shdr); err != nil {
				return nil, xerrors.Errorf("td0: reading sector header: %w", err)
			}
			sizeCode := shdr[3]
			flags := shdr[4]
			sectorSize := 128 << sizeCode

			if flags&0x30 != 0 {
				// Sector not recorded (duplicate/skipped); treat as zero-fill.
				out = append(out, make([]byte, sectorSize)...)
				continue
			}

			dlenBuf := make([]byte, 2)
			if _, err := io.ReadFull(bbr, dlenBuf); err != nil {
				return nil, xerrors.Errorf("td0: reading data length: %w", err)
			}
			dlen := int(dlenBuf[0]) | int(dlenBuf[1])<<8
			payload := make([]byte, dlen)
			if _, err := io.ReadFull(bbr, payload); err != nil {
				return nil, xerrors.Errorf("td0: reading sector payload: %w", err)
			}
			if len(payload) < 1 {
				return nil, xerrors.New("td0: empty sector payload")
			}
			encoding := payload[0]
			data := payload[1:]

			sector, err := decodeTD0Sector(encoding, data, sectorSize)
			if err != nil {
				return nil, xerrors.Errorf("td0: decoding sector %d: %w", i, err)
			}
			out = append(out, sector...)
		}
	}

	return NewBytesStore(out), nil
}

// decodeTD0Sector expands the per-sector payload encoding: 0 raw binary,
// 1 a repeated 2-byte pattern, 2 a run-length stream of literal and
// pattern-repeat chunks.
func decodeTD0Sector(encoding byte, data []byte, sectorSize int) ([]byte, error) {
	switch encoding {
	case 0:
		if len(data) != sectorSize {
			return nil, xerrors.Errorf("raw sector length %d != %d", len(data), sectorSize)
		}
		out := make([]byte, sectorSize)
		copy(out, data)
		return out, nil

	case 1:
		// Groups of {count16, b0, b1}, each producing count*2 bytes,
		// until the sector is full.
		out := make([]byte, 0, sectorSize)
		for len(out) < sectorSize {
			if len(data) < 4 {
				return nil, xerrors.New("repeat-pattern sector truncated")
			}
			count := int(data[0]) | int(data[1])<<8
			pattern := data[2:4]
			data = data[4:]
			for i := 0; i < count; i++ {
				out = append(out, pattern...)
			}
		}
		return fitTo(out, sectorSize), nil

	case 2:
		// A control byte of 0 is followed by {count, literal bytes};
		// a non-zero control k is followed by {count, 2k pattern bytes}
		// with the pattern repeated count times.
		out := make([]byte, 0, sectorSize)
		for len(out) < sectorSize {
			if len(data) < 2 {
				return nil, xerrors.New("RLE sector truncated")
			}
			ctrl := data[0]
			count := int(data[1])
			data = data[2:]
			if ctrl == 0 {
				if len(data) < count {
					return nil, xerrors.New("RLE literal run truncated")
				}
				out = append(out, data[:count]...)
				data = data[count:]
			} else {
				patLen := 2 * int(ctrl)
				if len(data) < patLen {
					return nil, xerrors.New("RLE pattern run truncated")
				}
				pattern := data[:patLen]
				data = data[patLen:]
				for i := 0; i < count; i++ {
					out = append(out, pattern...)
				}
			}
		}
		return fitTo(out, sectorSize), nil

	default:
		return nil, xerrors.Errorf("unknown sector encoding %d", encoding)
	}
}

func fitTo(buf []byte, size int) []byte {
	if len(buf) == size {
		return buf
	}
	out := make([]byte, size)
	copy(out, buf)
	return out
}

// crc16TD0 is the CRC-16 variant Teledisk uses for header, comment and
// track checksums: polynomial 0xA097, initial value 0, no reflection.
func crc16TD0(data []byte) uint16 {
	return crc16TD0Continue(0, data)
}

func crc16TD0Continue(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0xA097
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
