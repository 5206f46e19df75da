// Package volume implements the p-System directory and allocation
// engine: a single-level directory of contiguous-extent files backed by
// a sectorio.Store, with no free-space bitmap. Free space only ever
// exists as the gap between one file's extent and the next (or the
// volume's end), so every operation that grows a file either reuses the
// gap immediately following it or compacts the directory to manufacture
// one.
package volume

import (
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/bytesex"
	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
)

// Concern selects how hard Open looks for (and whether it repairs)
// inconsistencies, mirroring the engine's fsck severity levels.
type Concern int

const (
	// ConcernBlithe skips validation entirely: trust the medium.
	ConcernBlithe Concern = iota
	// ConcernCheck validates and reports without writing to the medium;
	// Open still corrects a few fields in memory (see fsck.go).
	ConcernCheck
	// ConcernRepair validates and fixes whatever it safely can.
	ConcernRepair
)

// Volume is an open p-System volume: a Label plus its file entries,
// layered over a sectorio.Store.
type Volume struct {
	store sectorio.Store
	order bytesex.Order
	Label *Label
	Files []*Entry
}

const blockSize = 512

// Open reads an existing volume's meta-data off store at the given
// concern level, auto-detecting byte order from the volume label.
func Open(store sectorio.Store, concern Concern) (*Volume, int, error) {
	buf := make([]byte, metaDataBytes)
	if _, err := store.ReadAt(0x400, buf); err != nil {
		return nil, 0, xerrors.Errorf("volume: reading meta-data: %w", err)
	}

	order := bytesex.Detect(buf)
	v := &Volume{store: store, order: order}
	v.Label = ReadLabel(order, buf[0:entrySize])

	errs := 0
	errs += v.Label.fsck(concern, store)

	bp := buf[entrySize:]
	maxEnts := v.Label.NumFiles
	for i := 0; i < maxEnts; i++ {
		rec := bp[i*entrySize : (i+1)*entrySize]
		if rec[6] == 0 {
			// Slot empty: the volume label's file count disagrees with
			// the actual number of entries present. Trust what we see.
			v.Label.NumFiles = i
			errs++
			break
		}
		e := ReadEntry(order, rec)
		v.Files = append(v.Files, e)
		errs += e.fsck(concern)
	}

	if concern >= ConcernCheck {
		errs += v.checkBlockOrdering(concern)
	}

	if concern >= ConcernRepair && errs > 0 {
		if err := v.MetaSync(); err != nil {
			return v, errs, err
		}
	}

	return v, errs, nil
}

func (v *Volume) checkBlockOrdering(concern Concern) int {
	errs := 0
	outOfOrder := false
	for j := 1; j < len(v.Files); j++ {
		if v.Files[j-1].LastBlock > v.Files[j].FirstBlock {
			outOfOrder = true
			break
		}
	}
	if outOfOrder {
		errs++
		if concern >= ConcernRepair {
			sort.SliceStable(v.Files, func(i, j int) bool {
				return v.Files[i].FirstBlock < v.Files[j].FirstBlock
			})
		}
	}

	blockNum := v.Label.LastBlock
	for _, e := range v.Files {
		if e.FirstBlock < blockNum {
			errs++
			if concern >= ConcernRepair {
				e.fsckFirstBlock(blockNum)
			}
		}
		if e.LastBlock > v.Label.EOVBlock {
			errs++
			if concern >= ConcernRepair {
				e.fsckLastBlock(v.Label.EOVBlock)
			}
		}
		blockNum = e.LastBlock
	}
	return errs
}

// Mkfs initializes a brand-new, empty volume in place of whatever store
// currently holds. An empty volid gets a generated name derived from
// the current time, so two anonymous volumes are unlikely to collide.
func Mkfs(store sectorio.Store, volid string, twin bool) (*Volume, error) {
	volid = strings.ToUpper(volid)
	if volid == "" {
		volid = fmt.Sprintf("V%06X", time.Now().Unix()&0xFFFFFF)
	}
	eovBlock := int(store.SizeInBytes() >> 9)
	v := &Volume{
		store: store,
		order: bytesex.Little,
		Label: NewLabel(volid, eovBlock, twin),
	}
	return v, v.MetaSync()
}

// MetaSync writes the volume label and all file entries back to the
// meta-data region (and, for a twin volume, its duplicate at offset
// 3072), then flushes the store.
func (v *Volume) MetaSync() error {
	if v.store.IsReadOnly() {
		return syscall.EROFS
	}

	buf := make([]byte, metaDataBytes)
	v.Label.NumFiles = len(v.Files)
	v.Label.Write(v.order, buf[0:entrySize])

	bp := buf[entrySize:]
	for i, e := range v.Files {
		e.Write(v.order, bp[i*entrySize:(i+1)*entrySize])
	}

	if _, err := v.store.WriteAt(0x400, buf); err != nil {
		return xerrors.Errorf("volume: writing meta-data: %w", err)
	}
	if v.Label.Twin() {
		if _, err := v.store.WriteAt(0x400+metaDataBytes, buf); err != nil {
			return xerrors.Errorf("volume: writing duplicate meta-data: %w", err)
		}
	}
	return v.store.Sync()
}

// Find locates a file by name, ignoring a single leading "/". Returns
// nil if not found. "/" itself also returns nil: the volume label is
// not an *Entry and Find never returns it.
func (v *Volume) Find(filename string) *Entry {
	if filename == "/" {
		return nil // caller should special-case the root separately
	}
	name := filename
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	if strings.ContainsRune(name, '/') {
		return nil
	}
	for _, e := range v.Files {
		if strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return nil
}

// Nth returns the n'th file (1-based), for directory iteration.
func (v *Volume) Nth(n int) *Entry {
	if n < 1 || n > len(v.Files) {
		return nil
	}
	return v.Files[n-1]
}

// HasRoomForNewFile reports whether another directory entry still fits
// in the meta-data region.
func (v *Volume) HasRoomForNewFile() bool {
	return len(v.Files) < v.Label.MaxDirEnts()
}

// AddNewFile appends a new file entry and persists the directory.
func (v *Volume) AddNewFile(e *Entry) error {
	if v.store.IsReadOnly() {
		return syscall.EROFS
	}
	if !v.HasRoomForNewFile() {
		return syscall.ENOSPC
	}
	v.Label.When = time.Now()
	v.Files = append(v.Files, e)
	return v.MetaSync()
}

// DeleteExistingFile removes e from the directory (without wiping its
// data blocks) and persists the directory.
func (v *Volume) DeleteExistingFile(e *Entry) error {
	if v.store.IsReadOnly() {
		return syscall.EROFS
	}
	idx := v.indexOf(e)
	if idx < 0 {
		return syscall.ENOENT
	}
	v.Files = slices.Delete(v.Files, idx, idx+1)
	v.Label.When = time.Now()
	return v.MetaSync()
}

func (v *Volume) indexOf(e *Entry) int {
	for i, f := range v.Files {
		if f == e {
			return i
		}
	}
	return -1
}

// FirstEmptyBlock is the block number immediately following the last
// file's extent (or the meta-data region, if the volume holds no
// files): the start of the free space at the end of the volume.
func (v *Volume) FirstEmptyBlock() int {
	if len(v.Files) == 0 {
		return v.Label.LastBlock
	}
	return v.Files[len(v.Files)-1].LastBlock
}

// SizeofGapAfter reports how many free blocks immediately follow e's
// extent, before the next file (or the end of the volume) begins.
func (v *Volume) SizeofGapAfter(e *Entry) (int, error) {
	if v.store.IsReadOnly() {
		return 0, syscall.EROFS
	}
	idx := v.indexOf(e)
	if idx < 0 {
		return 0, syscall.ENOENT
	}
	lowBlock := e.LastBlock
	highBlock := v.Label.EOVBlock
	if idx != len(v.Files)-1 {
		highBlock = v.Files[idx+1].FirstBlock
	}
	return highBlock - lowBlock, nil
}

// MoveGapAfter compacts the directory so that all of the free space on
// the volume becomes one contiguous gap immediately following e: files
// at or before e are pushed down against the meta-data region, and
// files after e are pushed up against the end of the volume. It returns
// the resulting gap size.
func (v *Volume) MoveGapAfter(e *Entry) (int, error) {
	if v.store.IsReadOnly() {
		return 0, syscall.EROFS
	}
	idx := v.indexOf(e)
	if idx < 0 {
		return 0, syscall.ENOENT
	}

	lowBlock := v.Label.LastBlock
	highBlock := v.Label.EOVBlock
	changed := false

	for j := 0; j <= idx; j++ {
		m := v.Files[j]
		ch, err := v.relocateEntry(m, lowBlock)
		if err != nil {
			return 0, err
		}
		changed = changed || ch
		lowBlock = m.LastBlock
	}

	for k := len(v.Files); k > idx+1; k-- {
		m := v.Files[k-1]
		ch, err := v.relocateEntry(m, highBlock-m.SizeInBlocks())
		if err != nil {
			return 0, err
		}
		changed = changed || ch
		highBlock = m.FirstBlock
	}

	if changed {
		if err := v.MetaSync(); err != nil {
			return 0, err
		}
	}
	return highBlock - lowBlock, nil
}

// Crunch compacts the whole volume, gathering all free space into one
// gap at the end.
func (v *Volume) Crunch() (int, error) {
	if len(v.Files) == 0 {
		return 0, nil
	}
	return v.MoveGapAfter(v.Files[len(v.Files)-1])
}

// relocateEntry moves e's extent to start at toBlock, relocating its
// data bytes on the backing store if it actually needs to move.
// Returns true if anything was moved.
func (v *Volume) relocateEntry(e *Entry, toBlock int) (bool, error) {
	if e.FirstBlock == toBlock {
		return false, nil
	}
	numBlocks := e.LastBlock - e.FirstBlock
	if err := sectorio.RelocateBytes(v.store, int64(toBlock)<<9, int64(e.FirstBlock)<<9, numBlocks<<9); err != nil {
		return false, err
	}
	e.FirstBlock = toBlock
	e.LastBlock = toBlock + numBlocks
	return true, nil
}

// CalcUsedBlocks sums the meta-data region's own block count and every
// file's allocated extent.
func (v *Volume) CalcUsedBlocks() int {
	n := v.Label.SizeInBlocks()
	for _, e := range v.Files {
		n += e.SizeInBlocks()
	}
	return n
}

// Statfs fills in the handful of fields a p-System volume can
// meaningfully report: no inode notion beyond the fixed-size directory,
// no notion of fragmentation, block size always 512.
type Statfs struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	Files       uint64
	FilesFree   uint64
	ReadOnly    bool
	NameMax     uint32
}

func (v *Volume) Statfs() Statfs {
	return Statfs{
		BlockSize:  blockSize,
		Blocks:     uint64(v.Label.EOVBlock),
		BlocksFree: uint64(v.Label.EOVBlock - v.CalcUsedBlocks()),
		Files:      uint64(v.Label.MaxDirEnts()),
		FilesFree:  uint64(v.Label.MaxDirEnts() - len(v.Files)),
		ReadOnly:   v.store.IsReadOnly(),
		NameMax:    15,
	}
}

// WipeUnused zero-fills every block (and partial tail of a file's last
// block) not actually occupied by live file data, so that a crunched,
// wiped volume never leaks the bytes of a deleted or truncated file.
func (v *Volume) WipeUnused() error {
	if v.store.IsReadOnly() {
		return syscall.EROFS
	}
	curBlock := v.Label.SizeInBlocks()
	for _, e := range v.Files {
		for curBlock < e.FirstBlock {
			if err := v.store.WriteZeroAt(int64(curBlock)<<9, blockSize); err != nil {
				return err
			}
			curBlock++
		}
		partial := int(e.CurrentSize()) & 511
		if partial != 0 {
			blknum := curBlock + e.SizeInBlocks() - 1
			addr := int64(blknum)<<9 + int64(partial)
			tailSize := blockSize - partial
			if err := v.store.WriteZeroAt(addr, tailSize); err != nil {
				return err
			}
		}
		curBlock += e.SizeInBlocks()
	}
	for curBlock < v.Label.EOVBlock {
		if err := v.store.WriteZeroAt(int64(curBlock)<<9, blockSize); err != nil {
			return err
		}
		curBlock++
	}
	return nil
}

// CheckForSystemFiles reports whether the minimal set of files needed
// to boot and host a p-System session is present.
func (v *Volume) CheckForSystemFiles() bool {
	required := []string{"SYSTEM.COMPILER", "SYSTEM.EDITOR", "SYSTEM.FILER", "SYSTEM.PASCAL"}
	for _, name := range required {
		if v.Find(name) == nil {
			return false
		}
	}
	return true
}

// GetBootBlocks reads the two reserved boot blocks (blocks 0 and 1,
// before the meta-data region) verbatim.
func (v *Volume) GetBootBlocks() ([]byte, error) {
	buf := make([]byte, 2*blockSize)
	if _, err := v.store.ReadAt(0, buf); err != nil {
		return nil, xerrors.Errorf("volume: reading boot blocks: %w", err)
	}
	return buf, nil
}

// SetBootBlocks overwrites the two reserved boot blocks, zero-padding
// buf if it is shorter than the full 1024 bytes.
func (v *Volume) SetBootBlocks(buf []byte) error {
	if v.store.IsReadOnly() {
		return syscall.EROFS
	}
	if len(buf) > 2*blockSize {
		return xerrors.Errorf("volume: boot block image must be at most %d bytes, got %d", 2*blockSize, len(buf))
	}
	padded := make([]byte, 2*blockSize)
	copy(padded, buf)
	if _, err := v.store.WriteAt(0, padded); err != nil {
		return xerrors.Errorf("volume: writing boot blocks: %w", err)
	}
	return v.store.Sync()
}

// ByteOrder reports the byte order this volume's meta-data was decoded
// with (or, for a freshly mkfs'd volume, the order it will be written
// with).
func (v *Volume) ByteOrder() bytesex.Order { return v.order }
