package textcodec

import (
	"bufio"
	"io"
)

// Decoder streams a p-System DLE-compressed text file to host
// LF-terminated text. It auto-detects whether the stream still carries
// its 1024-byte editor header by sniffing the first 16 bytes.
type Decoder struct {
	r    *bufio.Reader
	tabs bool

	pendingDLE bool
	column     int
	nonWhite   bool
}

// NewDecoder wraps r. When tabs is true, runs of accumulated leading
// indentation are materialized as tabs to stops of 8 before falling
// back to spaces; otherwise spaces alone are used.
func NewDecoder(r io.Reader, tabs bool) *Decoder {
	return &Decoder{r: bufio.NewReader(r), tabs: tabs}
}

// DecodeAll decodes the entire remaining stream to w.
func (d *Decoder) DecodeAll(w io.Writer) error {
	if err := d.maybeSkipHeader(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if err := d.step(b, bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// maybeSkipHeader discards the 1024-byte editor header unless the
// stream already starts with text (the header has been stripped off,
// especially if the same file is decoded twice). A stream starts with
// text when, after dropping the trailing NUL padding, its first 16
// bytes are all text characters (printable, whitespace, or DLE).
func (d *Decoder) maybeSkipHeader() error {
	peek, err := d.r.Peek(headerSize + 16)
	if err != nil && err != io.EOF {
		return err
	}
	if looksLikeText(peek) {
		return nil
	}
	if _, err := d.r.Discard(headerSize); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func looksLikeText(buf []byte) bool {
	for len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	if len(buf) > 16 {
		buf = buf[:16]
	}
	for _, b := range buf {
		switch {
		case b == dle, b == '\t', b == '\n', b == '\v', b == '\f', b == '\r':
		case b >= 0x20 && b < 0x7F:
		default:
			return false
		}
	}
	return true
}

// step folds one raw byte into the decode state machine, emitting
// completed output to w.
func (d *Decoder) step(b byte, w *bufio.Writer) error {
	if d.pendingDLE {
		d.pendingDLE = false
		if b >= 32 {
			count := int(b) - 32
			if d.nonWhite {
				// Spaces go straight out; tabs only ever materialize at
				// the start of a line.
				for i := 0; i < count; i++ {
					if err := w.WriteByte(' '); err != nil {
						return err
					}
				}
			}
			d.column += count
			return nil
		}
		// Count below 32: the DLE was a literal character, not a
		// run-length marker. Emit it and reprocess b on its own.
		if !d.nonWhite {
			if err := d.flushColumn(w); err != nil {
				return err
			}
			d.nonWhite = true
		}
		if err := w.WriteByte(dle); err != nil {
			return err
		}
		return d.step(b, w)
	}

	switch b {
	case 0:
		return nil
	case 0x0D, 0x0A:
		d.column = 0
		d.nonWhite = false
		return w.WriteByte('\n')
	case dle:
		d.pendingDLE = true
		return nil
	default:
		if !d.nonWhite {
			if err := d.flushColumn(w); err != nil {
				return err
			}
			d.nonWhite = true
		}
		return w.WriteByte(b)
	}
}

// flushColumn materializes the accumulated, still-deferred leading
// column as tabs (if enabled) to stops of 8, then spaces.
func (d *Decoder) flushColumn(w *bufio.Writer) error {
	col := d.column
	d.column = 0
	if d.tabs {
		for col >= 8 {
			if err := w.WriteByte('\t'); err != nil {
				return err
			}
			col -= 8
		}
	}
	for col > 0 {
		if err := w.WriteByte(' '); err != nil {
			return err
		}
		col--
	}
	return nil
}
