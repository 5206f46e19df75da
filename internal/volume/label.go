package volume

import (
	"strings"
	"time"

	"github.com/ucsdpsys/ucsdpsys-go/internal/bytesex"
)

// entrySize is the fixed width, in bytes, of the volume label and every
// directory entry in the 2KiB meta-data region.
const entrySize = 26

// metaDataBytes is the size of the meta-data region read and written in
// one piece at byte offset 1024 (and, for a twin volume, again at 3072).
const metaDataBytes = 2048

// Label holds the volume label, the first 26-byte entry of the
// meta-data region. It doubles as the root directory entry: its name is
// the volume name, and its dfirstblock/dlastblock bracket the meta-data
// region itself rather than any file's data.
type Label struct {
	FirstBlock int
	LastBlock  int // 6 (single copy) or 10 (twin copy of meta-data)
	padding4   int
	Name       string
	EOVBlock   int // deovblk: total blocks on the volume
	NumFiles   int
	loadTime   int
	When       time.Time
	padding22  int
	padding24  int
}

// NewLabel builds a fresh volume label for mkfs, sized for a volume of
// eovBlock total blocks. twin selects a duplicated meta-data region
// (LastBlock 10) over a single one (LastBlock 6).
func NewLabel(name string, eovBlock int, twin bool) *Label {
	last := 6
	if twin {
		last = 10
	}
	if len(name) > 7 {
		name = name[:7]
	}
	return &Label{
		LastBlock: last,
		Name:      name,
		EOVBlock:  eovBlock,
		When:      time.Now(),
	}
}

// MaxDirEnts computes how many directory entries fit in the meta-data
// region beyond the volume label itself: the region holds
// (LastBlock-FirstBlock-2) blocks of usable bytes, capped at the
// metaDataBytes of one copy (a twin volume's second copy adds no room),
// one 26-byte slot is reserved for the volume label's own header
// overhead, and the rest is split into 26-byte directory entries.
func (l *Label) MaxDirEnts() int {
	numBlocks := l.LastBlock - l.FirstBlock - 2
	if numBlocks <= 0 {
		return 0
	}
	availableBytes := numBlocks << 9
	if availableBytes > metaDataBytes {
		availableBytes = metaDataBytes
	}
	return availableBytes/entrySize - 1
}

// ReadLabel decodes a 26-byte volume label record using the given byte
// order.
func ReadLabel(order bytesex.Order, data []byte) *Label {
	l := &Label{}
	l.FirstBlock = int(bytesex.GetWord(order, data[0:2]))
	l.LastBlock = int(bytesex.GetWord(order, data[2:4]))
	l.padding4 = int(bytesex.GetWord(order, data[4:6]))
	nameLen := int(data[6])
	if nameLen > 7 {
		nameLen = 7
	}
	l.Name = strings.ReplaceAll(string(data[7:7+nameLen]), "/", "_")
	l.EOVBlock = int(bytesex.GetWord(order, data[14:16]))
	l.NumFiles = int(bytesex.GetWord(order, data[16:18]))
	l.loadTime = int(bytesex.GetWord(order, data[18:20]))
	l.When = decodeDate(order, data[20:22])
	l.padding22 = int(bytesex.GetWord(order, data[22:24]))
	l.padding24 = int(bytesex.GetWord(order, data[24:26]))
	return l
}

// Write encodes the label back to its 26-byte on-disk form.
func (l *Label) Write(order bytesex.Order, data []byte) {
	bytesex.PutWord(order, data[0:2], uint16(l.FirstBlock))
	bytesex.PutWord(order, data[2:4], uint16(l.LastBlock))
	bytesex.PutWord(order, data[4:6], uint16(l.padding4))
	name := l.Name
	if len(name) > 7 {
		name = name[:7]
	}
	data[6] = byte(len(name))
	copy(data[7:14], name)
	bytesex.PutWord(order, data[14:16], uint16(l.EOVBlock))
	bytesex.PutWord(order, data[16:18], uint16(l.NumFiles))
	bytesex.PutWord(order, data[18:20], uint16(l.loadTime))
	encodeDate(order, data[20:22], l.When)
	bytesex.PutWord(order, data[22:24], uint16(l.padding22))
	bytesex.PutWord(order, data[24:26], uint16(l.padding24))
}

// Twin reports whether this volume carries a duplicated meta-data
// region at byte offset 3072.
func (l *Label) Twin() bool { return l.LastBlock == 10 }

// SizeInBlocks is the number of blocks occupied by the meta-data region
// itself (the volume label's own "file").
func (l *Label) SizeInBlocks() int { return l.LastBlock - l.FirstBlock }
