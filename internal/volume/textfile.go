package volume

import (
	"bytes"
	"strings"
	"syscall"

	"github.com/ucsdpsys/ucsdpsys-go/internal/textcodec"
)

// TextFile wraps a text-kind entry so that callers see the decoded
// host-text form instead of the on-disk block layout. The decoded form
// lives in a lazy in-memory cache: the first operation that needs it
// slurps and decodes the whole file, every read and write operates on
// the cache, and each mutation re-encodes the cache back to the entry's
// extent before it returns. Release drops the cache; the next operation
// re-reads the medium.
type TextFile struct {
	f     *File
	cache []byte
	valid bool
}

// OpenTextFile binds a text-kind entry to its volume, presenting the
// decoded host form.
func (v *Volume) OpenTextFile(e *Entry) *TextFile {
	return &TextFile{f: v.OpenFile(e)}
}

// Entry exposes the underlying directory entry.
func (t *TextFile) Entry() *Entry { return t.f.Entry }

// slurp reads and decodes the whole on-disk file into the cache, if it
// isn't already there.
func (t *TextFile) slurp() error {
	if t.valid {
		return nil
	}
	raw := make([]byte, t.f.Entry.CurrentSize())
	if _, err := t.f.Read(0, raw); err != nil {
		return err
	}
	var decoded bytes.Buffer
	dec := textcodec.NewDecoder(bytes.NewReader(raw), true)
	if err := dec.DecodeAll(&decoded); err != nil {
		return err
	}
	t.cache = decoded.Bytes()
	t.valid = true
	return nil
}

// sync re-encodes the cache into block form and rewrites the entry's
// extent from scratch, so the on-disk file always matches the cache.
func (t *TextFile) sync() error {
	var raw bytes.Buffer
	enc := textcodec.NewEncoder(&raw, true)
	if err := enc.WriteHeader(nil); err != nil {
		return err
	}
	lines := strings.Split(string(t.cache), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		if err := enc.WriteLine(line); err != nil {
			return err
		}
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := t.f.Truncate(0); err != nil {
		return err
	}
	_, err := t.f.Write(0, raw.Bytes())
	return err
}

// CurrentSize is the length of the decoded host form, which is what a
// mounted text file reports as its size.
func (t *TextFile) CurrentSize() (int64, error) {
	if err := t.slurp(); err != nil {
		return 0, err
	}
	return int64(len(t.cache)), nil
}

// Read copies decoded host text out of the cache.
func (t *TextFile) Read(offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	if err := t.slurp(); err != nil {
		return 0, err
	}
	if offset >= int64(len(t.cache)) {
		return 0, nil
	}
	return copy(data, t.cache[offset:]), nil
}

// Write overwrites host text in the cache (growing it as needed) and
// re-encodes the whole file to disk.
func (t *TextFile) Write(offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	if t.f.vol.store.IsReadOnly() {
		return 0, syscall.EROFS
	}
	if err := t.slurp(); err != nil {
		return 0, err
	}
	if grow := offset + int64(len(data)) - int64(len(t.cache)); grow > 0 {
		t.cache = append(t.cache, make([]byte, grow)...)
	}
	copy(t.cache[offset:], data)
	if err := t.sync(); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate resizes the decoded host form, padding with newlines when
// growing so the tail is still made of (empty) lines, and re-encodes.
func (t *TextFile) Truncate(size int64) error {
	if size < 0 {
		return syscall.EINVAL
	}
	if t.f.vol.store.IsReadOnly() {
		return syscall.EROFS
	}
	if err := t.slurp(); err != nil {
		return err
	}
	if size <= int64(len(t.cache)) {
		t.cache = t.cache[:size]
	} else {
		for int64(len(t.cache)) < size {
			t.cache = append(t.cache, '\n')
		}
	}
	return t.sync()
}

// Rename passes through to the underlying file; the cache is unaffected.
func (t *TextFile) Rename(newName string) error { return t.f.Rename(newName) }

// Unlink removes the underlying entry and drops the cache.
func (t *TextFile) Unlink() error {
	t.Release()
	return t.f.Unlink()
}

// Release invalidates the cache. The next operation re-reads and
// re-decodes the medium.
func (t *TextFile) Release() {
	t.cache = nil
	t.valid = false
}
