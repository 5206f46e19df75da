package sectorio

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// mmapStore is a memory-mapped backing store, preferred over pread/pwrite
// for images up to MaxMmapBytes because every volume-engine read and
// write becomes a plain slice access.
type mmapStore struct {
	f        *os.File
	data     []byte
	readOnly bool
	hint     int
}

func newMmapStore(f *os.File, size int64, readOnly bool) (*mmapStore, error) {
	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, xerrors.Errorf("sectorio: mmap: %w", err)
	}
	return &mmapStore{f: f, data: data, readOnly: readOnly}, nil
}

func (s *mmapStore) ReadAt(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset > int64(len(s.data)) {
		return 0, xerrors.Errorf("sectorio: read offset %d out of range", offset)
	}
	return copy(buf, s.data[offset:]), nil
}

func (s *mmapStore) WriteAt(offset int64, buf []byte) (int, error) {
	if s.readOnly {
		return 0, unix.EROFS
	}
	if offset < 0 || offset+int64(len(buf)) > int64(len(s.data)) {
		return 0, xerrors.Errorf("sectorio: write offset %d out of range", offset)
	}
	return copy(s.data[offset:], buf), nil
}

func (s *mmapStore) WriteZeroAt(offset int64, n int) error {
	if s.readOnly {
		return unix.EROFS
	}
	if offset < 0 || offset+int64(n) > int64(len(s.data)) {
		return xerrors.Errorf("sectorio: write_zero offset %d out of range", offset)
	}
	buf := s.data[offset : offset+int64(n)]
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (s *mmapStore) Sync() error {
	if s.readOnly {
		return nil
	}
	return unix.Msync(s.data, unix.MS_SYNC)
}

func (s *mmapStore) SizeInBytes() int64 { return int64(len(s.data)) }
func (s *mmapStore) IsReadOnly() bool { return s.readOnly }
func (s *mmapStore) BytesPerSectorHint(n int) {
	if s.hint == 0 || n < s.hint {
		s.hint = n
	}
}

// Close unmaps the region and closes the underlying file. Nothing in
// this module calls it; otherwise the mapping lasts until process exit.
func (s *mmapStore) Close() error {
	err := unix.Munmap(s.data)
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
