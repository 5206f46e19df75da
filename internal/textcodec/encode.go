package textcodec

import (
	"io"

	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"
)

// maxDLERun is the largest leading-space count a single DLE escape can
// carry: the count byte is 32+n and must fit in a byte.
const maxDLERun = 255 - 32

// Encoder accumulates host text lines into 1024-byte p-System text
// blocks, compressing each line's leading run of spaces behind a DLE
// escape when that's cheaper than writing the spaces literally.
type Encoder struct {
	w            io.Writer
	guaranteeNUL bool
	block        *writerseeker.WriterSeeker
	blockLen     int
}

// NewEncoder wraps w. When guaranteeNUL is true, every flushed block is
// padded so it always ends with at least one NUL byte, even when the
// encoded lines exactly fill it.
func NewEncoder(w io.Writer, guaranteeNUL bool) *Encoder {
	return &Encoder{w: w, guaranteeNUL: guaranteeNUL, block: &writerseeker.WriterSeeker{}}
}

// WriteHeader emits the 1024-byte editor-reserved header that precedes
// the first text block, zero-padding or truncating header to exactly
// that size. Call it, if at all, before the first WriteLine.
func (e *Encoder) WriteHeader(header []byte) error {
	buf := make([]byte, headerSize)
	copy(buf, header)
	_, err := e.w.Write(buf)
	if err != nil {
		return xerrors.Errorf("textcodec: writing header: %w", err)
	}
	return nil
}

// WriteLine encodes one line of host text, without its trailing
// newline, buffering it into the current block and flushing completed
// blocks to the underlying writer as they fill.
func (e *Encoder) WriteLine(line string) error {
	return e.append(encodeLine(line))
}

func (e *Encoder) append(encoded []byte) error {
	// A block only ever holds whole lines; a line that will not fit in
	// the remaining space pushes the NUL padding out now and starts the
	// next block. The NUL guarantee shaves one byte off each block's
	// usable capacity.
	limit := blockSize
	if e.guaranteeNUL {
		limit--
	}
	if e.blockLen > 0 && e.blockLen+len(encoded) > limit {
		if err := e.closeBlock(); err != nil {
			return err
		}
	}
	for len(encoded) > 0 {
		room := limit - e.blockLen
		if room <= 0 {
			if err := e.closeBlock(); err != nil {
				return err
			}
			room = limit
		}
		n := len(encoded)
		if n > room {
			// Longer than a whole block on its own: nothing to do but
			// split it.
			n = room
		}
		if _, err := e.block.Write(encoded[:n]); err != nil {
			return xerrors.Errorf("textcodec: buffering block: %w", err)
		}
		e.blockLen += n
		encoded = encoded[n:]
	}
	return nil
}

// closeBlock pads the current block out to 1024 bytes with NUL,
// flushes it to the underlying writer, and starts a fresh one.
func (e *Encoder) closeBlock() error {
	if pad := blockSize - e.blockLen; pad > 0 {
		if _, err := e.block.Write(make([]byte, pad)); err != nil {
			return xerrors.Errorf("textcodec: padding block: %w", err)
		}
	}
	if _, err := io.Copy(e.w, e.block.BytesReader()); err != nil {
		return xerrors.Errorf("textcodec: flushing block: %w", err)
	}
	e.block = &writerseeker.WriterSeeker{}
	e.blockLen = 0
	return nil
}

// Close flushes any partial final block, padding it to 1024 bytes.
func (e *Encoder) Close() error {
	if e.blockLen == 0 {
		return nil
	}
	return e.closeBlock()
}

// encodeLine converts one line of host text (no trailing newline) into
// its on-disk DLE-compressed, CR-terminated form.
func encodeLine(line string) []byte {
	out := make([]byte, 0, len(line)+2)

	leading := 0
	for leading < len(line) && line[leading] == ' ' {
		leading++
	}
	if leading > 2 {
		remaining := leading
		for remaining > 0 {
			run := remaining
			if run > maxDLERun {
				run = maxDLERun
			}
			out = append(out, dle, byte(32+run))
			remaining -= run
		}
	} else {
		for i := 0; i < leading; i++ {
			out = append(out, ' ')
		}
	}

	for i := leading; i < len(line); i++ {
		b := line[i]
		if b == dle {
			// A literal DLE byte in the host text: escape it so the
			// decoder doesn't mistake it for a run-length marker.
			out = append(out, dle, 0)
			continue
		}
		out = append(out, b)
	}
	out = append(out, 0x0D)
	return out
}
