// Package sectorio implements the byte-addressable I/O stack that sits
// underneath a p-System volume: a backing store (a host file or an
// in-memory map), optional compressed-container readers (TD0, IMD, gzip,
// zstd), and a chain of sector-remapping filters (byte offset shims and
// Apple/PDP sector interleave maps) that bridge the backing store's
// native sector size to the 512-byte blocks the volume engine expects.
//
// Filters compose by wrapping: each one holds a reference to the Store
// beneath it and narrows or widens the granularity of access, never
// owning the medium itself.
package sectorio

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// MaxDiskSizeKB is the largest disk image this stack will operate on.
const MaxDiskSizeKB = 16380

// MaxMmapBytes is the largest image size for which the memory-mapped
// backing store is used in preference to pread/pwrite.
const MaxMmapBytes = 16 << 20

// Store is the bottom of the sector-I/O stack: byte-addressable access to
// the raw medium, with no notion of sectors, blocks or interleaving.
type Store interface {
	ReadAt(offset int64, buf []byte) (int, error)
	WriteAt(offset int64, buf []byte) (int, error)
	WriteZeroAt(offset int64, n int) error
	Sync() error
	SizeInBytes() int64
	IsReadOnly() bool

	// BytesPerSectorHint records the smallest sector size hint pushed
	// down by a filter layered on top of this store. Implementations
	// that care about sector alignment (none of the ones in this
	// package do) may use it to choose an I/O granularity.
	BytesPerSectorHint(nbytes int)
}

// fileStore is a pread/pwrite-style backing store over an *os.File.
type fileStore struct {
	f        *os.File
	size     int64
	readOnly bool
	hint     int
}

// OpenFile opens filename as a Store, preferring a memory map for images
// small enough (see MaxMmapBytes) and falling back to pread/pwrite.
func OpenFile(filename string, readOnly bool) (Store, error) {
	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(filename, flag, 0)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: open %s: %w", filename, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("sectorio: stat %s: %w", filename, err)
	}
	size := fi.Size()
	if size/1024 > MaxDiskSizeKB {
		f.Close()
		return nil, xerrors.Errorf("sectorio: %s is %d KiB, exceeds MAX_DISK_SIZE_KB (%d)", filename, size/1024, MaxDiskSizeKB)
	}
	if size < 4096 || size%512 != 0 {
		f.Close()
		return nil, xerrors.Errorf("sectorio: %s is %d bytes; images must be a multiple of 512 bytes and at least 4 KiB", filename, size)
	}
	if size > 0 && size < MaxMmapBytes {
		st, err := newMmapStore(f, size, readOnly)
		if err == nil {
			return st, nil
		}
		// Fall through to pread/pwrite on mmap failure (e.g. a
		// filesystem that refuses MAP_SHARED).
	}
	return &fileStore{f: f, size: size, readOnly: readOnly}, nil
}

// NewMemoryStore wraps an in-memory byte slice as a Store, used by mkfs
// to build a fresh image before it has ever touched disk, and by tests.
func NewMemoryStore(size int64, readOnly bool) Store {
	return &memStore{buf: make([]byte, size), readOnly: readOnly}
}

func (s *fileStore) ReadAt(offset int64, buf []byte) (int, error) {
	n, err := s.f.ReadAt(buf, offset)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

func (s *fileStore) WriteAt(offset int64, buf []byte) (int, error) {
	if s.readOnly {
		return 0, unix.EROFS
	}
	return s.f.WriteAt(buf, offset)
}

func (s *fileStore) WriteZeroAt(offset int64, n int) error {
	if s.readOnly {
		return unix.EROFS
	}
	zero := make([]byte, 4096)
	for n > 0 {
		chunk := len(zero)
		if n < chunk {
			chunk = n
		}
		if _, err := s.f.WriteAt(zero[:chunk], offset); err != nil {
			return err
		}
		offset += int64(chunk)
		n -= chunk
	}
	return nil
}

func (s *fileStore) Sync() error {
	if s.readOnly {
		return nil
	}
	return s.f.Sync()
}

func (s *fileStore) SizeInBytes() int64 { return s.size }
func (s *fileStore) IsReadOnly() bool { return s.readOnly }
func (s *fileStore) BytesPerSectorHint(n int) {
	if s.hint == 0 || n < s.hint {
		s.hint = n
	}
}

// memStore is an in-memory Store, used for mkfs-from-scratch and tests.
type memStore struct {
	buf      []byte
	readOnly bool
	hint     int
}

func (s *memStore) ReadAt(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset > int64(len(s.buf)) {
		return 0, xerrors.Errorf("sectorio: read offset %d out of range", offset)
	}
	n := copy(buf, s.buf[offset:])
	return n, nil
}

func (s *memStore) WriteAt(offset int64, buf []byte) (int, error) {
	if s.readOnly {
		return 0, unix.EROFS
	}
	if offset < 0 || offset+int64(len(buf)) > int64(len(s.buf)) {
		return 0, xerrors.Errorf("sectorio: write offset %d out of range", offset)
	}
	return copy(s.buf[offset:], buf), nil
}

func (s *memStore) WriteZeroAt(offset int64, n int) error {
	if s.readOnly {
		return unix.EROFS
	}
	if offset < 0 || offset+int64(n) > int64(len(s.buf)) {
		return xerrors.Errorf("sectorio: write_zero offset %d out of range", offset)
	}
	buf := s.buf[offset : offset+int64(n)]
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (s *memStore) Sync() error { return nil }
func (s *memStore) SizeInBytes() int64 { return int64(len(s.buf)) }
func (s *memStore) IsReadOnly() bool { return s.readOnly }
func (s *memStore) BytesPerSectorHint(n int) {
	if s.hint == 0 || n < s.hint {
		s.hint = n
	}
}

// Bytes exposes the underlying buffer of a memory-backed store to
// callers that assert for it (the volume tests use it to compare whole
// images).
func (s *memStore) Bytes() []byte { return s.buf }
