package volume

import (
	"syscall"
	"time"

	"golang.org/x/xerrors"
)

// File binds one directory Entry to the Volume (and its Store) that
// owns it, exposing the read/write/truncate operations a mounted
// filesystem needs. Every operation keeps dfirstblock/dlastblock and
// the on-disk directory entry in lock-step: a successful write or
// truncate always leaves meta-data synced to match the data actually on
// the medium.
type File struct {
	vol   *Volume
	Entry *Entry
}

// OpenFile binds an existing entry to its volume.
func (v *Volume) OpenFile(e *Entry) *File { return &File{vol: v, Entry: e} }

// Read copies up to len(data) bytes starting at offset, returning fewer
// than requested (never an error) at end of file.
func (f *File) Read(offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	curSize := f.Entry.CurrentSize()
	if offset >= curSize {
		return 0, nil
	}
	n := int64(len(data))
	if offset+n > curSize {
		n = curSize - offset
	}
	pos := int64(f.Entry.FirstBlock)<<9 + offset
	read, err := f.vol.store.ReadAt(pos, data[:n])
	if err != nil {
		return read, xerrors.Errorf("volume: reading %s: %w", f.Entry.Name, err)
	}
	return read, nil
}

// Write stores nbytes at offset, growing the file's extent (reusing the
// gap after it, or asking the volume to manufacture one via
// MoveGapAfter) if the write runs past the currently allocated extent.
func (f *File) Write(offset int64, data []byte) (int, error) {
	if f.vol.store.IsReadOnly() {
		return 0, syscall.EROFS
	}
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	if len(data) == 0 {
		return 0, nil
	}
	curSize := f.Entry.CurrentSize()
	total := len(data)

	// Entirely inside the current logical size: no meta-data change to
	// dlastblock/dlastbyte beyond the modification time.
	if offset+int64(len(data)) <= curSize {
		pos := int64(f.Entry.FirstBlock)<<9 + offset
		if _, err := f.vol.store.WriteAt(pos, data); err != nil {
			return 0, err
		}
		f.Entry.When = time.Now()
		if err := f.vol.MetaSync(); err != nil {
			return 0, err
		}
		return total, nil
	}

	// Inside the allocated extent, but past the logical end of file.
	curExtSize := f.Entry.CurrentExtentSize()
	if offset+int64(len(data)) <= curExtSize {
		if offset <= curSize {
			pos := int64(f.Entry.FirstBlock)<<9 + offset
			if _, err := f.vol.store.WriteAt(pos, data); err != nil {
				return 0, err
			}
		} else {
			// A gap between the old end-of-file and the write offset,
			// all within the last (partial) block: read-modify-write it.
			rbuf := make([]byte, 512)
			pos := int64(f.Entry.FirstBlock)<<9 + (offset &^ 511)
			if _, err := f.vol.store.ReadAt(pos, rbuf); err != nil {
				return 0, err
			}
			copy(rbuf[offset&511:], data)
			if _, err := f.vol.store.WriteAt(pos, rbuf); err != nil {
				return 0, err
			}
		}
		f.setLastByte(offset + int64(len(data)))
		f.Entry.When = time.Now()
		if err := f.vol.MetaSync(); err != nil {
			return 0, err
		}
		return total, nil
	}

	// Growing the extent itself.
	gapSize, err := f.vol.SizeofGapAfter(f.Entry)
	if err != nil {
		return 0, err
	}
	needBlocks := int64(f.Entry.LastBlock+gapSize-f.Entry.FirstBlock) << 9
	if offset+int64(len(data)) > needBlocks {
		gapSize, err = f.vol.MoveGapAfter(f.Entry)
		if err != nil {
			return 0, err
		}
		needBlocks = int64(f.Entry.LastBlock+gapSize-f.Entry.FirstBlock) << 9
		if offset+int64(len(data)) > needBlocks {
			return 0, syscall.ENOSPC
		}
	}

	if offset > curSize {
		pos := int64(f.Entry.FirstBlock)<<9 + curSize
		if err := f.vol.store.WriteZeroAt(pos, int(offset-curSize)); err != nil {
			return 0, err
		}
	}

	pos := int64(f.Entry.FirstBlock)<<9 + offset
	if _, err := f.vol.store.WriteAt(pos, data); err != nil {
		return 0, err
	}

	f.Entry.LastBlock = f.Entry.FirstBlock + int((offset+int64(len(data))+511)>>9)
	f.setLastByte(offset + int64(len(data)))
	f.Entry.When = time.Now()
	if err := f.vol.MetaSync(); err != nil {
		return 0, err
	}
	return total, nil
}

func (f *File) setLastByte(endOffset int64) {
	last := endOffset & 511
	if last == 0 {
		last = 512
	}
	f.Entry.LastByte = int(last)
}

// Truncate changes the logical size of the file, zero-filling any newly
// exposed bytes when growing, and reusing or manufacturing a gap after
// the file's extent exactly as Write does.
func (f *File) Truncate(size int64) error {
	if size < 0 {
		return syscall.EINVAL
	}
	if f.vol.store.IsReadOnly() {
		return syscall.EROFS
	}

	gapSize, err := f.vol.SizeofGapAfter(f.Entry)
	if err != nil {
		return err
	}
	if size > int64(f.Entry.LastBlock+gapSize-f.Entry.FirstBlock)<<9 {
		gapSize, err = f.vol.MoveGapAfter(f.Entry)
		if err != nil {
			return err
		}
		if size > int64(f.Entry.LastBlock+gapSize-f.Entry.FirstBlock)<<9 {
			return syscall.ENOSPC
		}
	}

	curSize := f.Entry.CurrentSize()
	if size > curSize {
		pos := int64(f.Entry.FirstBlock)<<9 + curSize
		if err := f.vol.store.WriteZeroAt(pos, int(size-curSize)); err != nil {
			return err
		}
	}

	f.Entry.LastBlock = f.Entry.FirstBlock + int((size+511)>>9)
	f.setLastByte(size)
	f.Entry.When = time.Now()
	return f.vol.MetaSync()
}

// Rename changes the file's name within the same directory, replacing
// any existing file of the new name.
func (f *File) Rename(newName string) error {
	if f.vol.store.IsReadOnly() {
		return syscall.EROFS
	}
	if len(newName) > 0 && newName[0] == '/' {
		newName = newName[1:]
	}
	for _, c := range newName {
		if c == '/' {
			return syscall.EINVAL
		}
	}
	if old := f.vol.Find(newName); old != nil {
		if old == f.Entry {
			return syscall.EINVAL
		}
		if err := f.vol.DeleteExistingFile(old); err != nil {
			return err
		}
	}
	if len(newName) > 15 {
		newName = newName[:15]
	}
	f.Entry.Name = newName
	return f.vol.MetaSync()
}

// Unlink removes the file from its volume's directory.
func (f *File) Unlink() error {
	if f.vol.store.IsReadOnly() {
		return syscall.EROFS
	}
	return f.vol.DeleteExistingFile(f.Entry)
}

// Relocate moves the file's extent to start at toBlock.
func (f *File) Relocate(toBlock int) (bool, error) {
	return f.vol.relocateEntry(f.Entry, toBlock)
}
