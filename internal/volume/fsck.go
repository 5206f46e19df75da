package volume

import (
	"github.com/ucsdpsys/ucsdpsys-go/internal/diag"
	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
)

// fsck validates the volume label and returns the number of problems
// found. A bad name, end-of-volume block or file count is corrected in
// memory at any concern above ConcernBlithe; the other fields are only
// corrected under ConcernRepair.
func (l *Label) fsck(concern Concern, store sectorio.Store) int {
	if concern == ConcernBlithe {
		return 0
	}
	errs := 0
	if l.FirstBlock != 0 {
		diag.Error("volume label: first block not zero (%d)", l.FirstBlock)
		if concern >= ConcernRepair {
			l.FirstBlock = 0
		}
		errs++
	}
	if l.LastBlock != 6 && l.LastBlock != 10 {
		diag.Error("volume label: last block not six (%d)", l.LastBlock)
		if concern >= ConcernRepair {
			l.LastBlock = 6
		}
		errs++
	}
	if l.padding4 != 0 {
		diag.Error("volume label: padding4 not zero (%#04x)", l.padding4)
		if concern >= ConcernRepair {
			l.padding4 = 0
		}
		errs++
	}
	if len(l.Name) == 0 {
		diag.Error("volume label: name too short")
		l.Name = "NO-NAME"
		errs++
	} else if len(l.Name) > 7 {
		diag.Error("volume label: name too long")
		l.Name = l.Name[:7]
		errs++
	}
	actualBlocks := int(store.SizeInBytes() >> 9)
	if l.EOVBlock != actualBlocks {
		diag.Error("volume label: end-of-volume block incorrect (was %d, expected %d)", l.EOVBlock, actualBlocks)
		l.EOVBlock = actualBlocks
		errs++
	}
	if l.loadTime != 0 {
		diag.Error("volume label: load time not zero (%#04x)", l.loadTime)
		if concern >= ConcernRepair {
			l.loadTime = 0
		}
		errs++
	}
	if l.padding22 != 0 {
		diag.Error("volume label: padding22 not zero (%#04x)", l.padding22)
		if concern >= ConcernRepair {
			l.padding22 = 0
		}
		errs++
	}
	if l.padding24 != 0 {
		diag.Error("volume label: padding24 not zero (%#04x)", l.padding24)
		if concern >= ConcernRepair {
			l.padding24 = 0
		}
		errs++
	}
	if l.NumFiles < 0 || l.NumFiles > l.MaxDirEnts() {
		diag.Error("number of files absurd (got %d, maximum %d)", l.NumFiles, l.MaxDirEnts())
		l.NumFiles = l.MaxDirEnts()
		errs++
	}
	return errs
}

// fsck validates a single file entry and returns the number of problems
// found. An inverted or out-of-range extent, stray padding4 bits and a
// bad name are corrected in memory at any concern above ConcernBlithe;
// an unsupported kind is only changed under ConcernRepair, and stray
// padding22 bits are reported but left as read.
func (e *Entry) fsck(concern Concern) int {
	if concern == ConcernBlithe {
		return 0
	}
	errs := 0
	if e.LastBlock < e.FirstBlock {
		diag.Error("directory entry %q: last block wrong (was %d, expected >= %d)", e.Name, e.LastBlock, e.FirstBlock)
		e.LastBlock = e.FirstBlock
		e.LastByte = 512
		errs++
	}
	if e.padding4&0x7FF8 != 0 {
		diag.Error("directory entry %q: padding4 not zero (%#04x)", e.Name, e.padding4&0x7FF8)
		e.padding4 = 0
		errs++
	}
	switch e.Kind {
	case SecureDir, Untyped:
		diag.Error("directory entry %q: file kind %s (%d) not supported", e.Name, e.Kind, int(e.Kind))
		if concern >= ConcernRepair {
			e.Kind = Data
		}
		errs++
	}
	if len(e.Name) < 1 {
		diag.Error("directory entry: name too short")
		e.Name = "UNNAMED"
		errs++
	} else if len(e.Name) > 15 {
		diag.Error("directory entry %q: name too long", e.Name)
		e.Name = e.Name[:15]
		errs++
	}
	if e.LastBlock < 1 || e.LastBlock > 512 {
		diag.Error("directory entry %q: dlastblock wrong (%d)", e.Name, e.LastBlock)
		e.LastBlock = 12
		errs++
	}
	if e.padding22&0xFC00 != 0 {
		diag.Error("directory entry %q: padding22 not zero (%#04x)", e.Name, e.padding22&0xFC00)
		errs++
	}
	return errs
}

func (e *Entry) fsckFirstBlock(blknum int) {
	e.FirstBlock = blknum
	if blknum > e.LastBlock {
		e.LastBlock = blknum
	}
	if e.FirstBlock == e.LastBlock {
		e.LastByte = 512
	}
}

func (e *Entry) fsckLastBlock(blknum int) {
	e.LastBlock = blknum
	if blknum < e.FirstBlock {
		e.FirstBlock = blknum
	}
	if e.FirstBlock == e.LastBlock {
		e.LastByte = 512
	}
}
