package volume

import (
	"strings"
	"time"

	"github.com/ucsdpsys/ucsdpsys-go/internal/bytesex"
)

// DFKind is the p-System's file-type tag. On disk it occupies a 3-bit
// field (padding4 & 7), so only the first eight values below are ever
// actually read back off a volume; SecureDir is retained purely as a
// validation sentinel. Both it and Untyped are "kind present but not
// one this engine will create or serve," repaired to DataFile by fsck.
type DFKind int

const (
	Untyped DFKind = iota
	XDsk
	Code
	Text
	Info
	Data
	Graf
	Foto
	SecureDir // never produced by meta_read; see fsck.
)

func (k DFKind) String() string {
	switch k {
	case Untyped:
		return "untypedfile"
	case XDsk:
		return "xdskfile"
	case Code:
		return "codefile"
	case Text:
		return "textfile"
	case Info:
		return "infofile"
	case Data:
		return "datafile"
	case Graf:
		return "graffile"
	case Foto:
		return "fotofile"
	case SecureDir:
		return "securedir"
	default:
		return "????"
	}
}

// wholeNameTable maps a handful of whole (case-folded) filenames used by
// the p-System toolchain itself to a kind that wouldn't be guessed from
// their extension alone.
var wholeNameTable = map[string]DFKind{
	"6500.errors":     Data,
	"6500.opcodes":    Data,
	"6502.errors":     Data,
	"6502.opcodes":    Data,
	"system.apple":    Data,
	"system.assmbler": Code,
	"system.charset":  Data,
	"system.compiler": Code,
	"system.editor":   Code,
	"system.filer":    Code,
	"system.library":  Code,
	"system.linker":   Code,
	"system.miscinfo": Data,
	"system.pascal":   Code,
	"system.syntax":   Text,
}

var extensionTable = []struct {
	ext  string
	kind DFKind
}{
	{".a", Code}, {".back", Text}, {".backup", Text}, {".bin", Data},
	{".binary", Data}, {".bmp", Foto}, {".c", Text}, {".c++", Text},
	{".cc", Text}, {".code", Code}, {".conf", Text}, {".cpp", Text},
	{".csv", Text}, {".cxx", Text}, {".dat", Data}, {".data", Data},
	{".dll", Code}, {".exe", Code}, {".foto", Foto}, {".gif", Foto},
	{".graf", Graf}, {".graph", Graf}, {".h", Text}, {".h++", Text},
	{".hh", Text}, {".hpp", Text}, {".hxx", Text}, {".ico", Foto},
	{".icon", Foto}, {".info", Info}, {".jpeg", Foto}, {".jpg", Foto},
	{".lib", Code}, {".miscinfo", Data}, {".o", Code}, {".obj", Code},
	{".p", Text}, {".pas", Text}, {".pascal", Text}, {".photo", Foto},
	{".png", Foto}, {".raw", Data}, {".so", Code}, {".svg", Graf},
	{".text", Text}, {".txt", Text}, {".xdsk", XDsk},
}

// DFKindFromExtension guesses a new file's kind from its name, used
// when a host file is copied in without an explicit kind.
func DFKindFromExtension(name string) DFKind {
	nameLC := strings.ToLower(name)
	if kind, ok := wholeNameTable[nameLC]; ok {
		return kind
	}
	for _, e := range extensionTable {
		if strings.HasSuffix(nameLC, e.ext) {
			return e.kind
		}
	}
	if strings.HasPrefix(nameLC, "system.") {
		return Code
	}
	return Data
}

// Entry is a single file's 26-byte directory entry.
type Entry struct {
	FirstBlock int
	LastBlock  int // points one block past the last used block
	padding4   int
	Kind       DFKind
	Status     bool
	Name       string
	padding22  int
	LastByte   int // bytes used in the final block: 1..512
	When       time.Time
}

// NewEntry builds a fresh directory entry for a newly created file.
func NewEntry(name string, kind DFKind, block, numBlocks int) *Entry {
	if len(name) > 15 {
		name = name[:15]
	}
	return &Entry{
		FirstBlock: block,
		LastBlock:  block + numBlocks,
		Kind:       kind,
		Name:       name,
		LastByte:   512,
		When:       time.Now(),
	}
}

// ReadEntry decodes a 26-byte file directory entry.
func ReadEntry(order bytesex.Order, data []byte) *Entry {
	e := &Entry{}
	e.FirstBlock = int(bytesex.GetWord(order, data[0:2]))
	e.LastBlock = int(bytesex.GetWord(order, data[2:4]))
	e.padding4 = int(bytesex.GetWord(order, data[4:6]))
	e.Kind = DFKind(e.padding4 & 7)
	e.Status = (e.padding4>>15)&1 != 0
	nameLen := int(data[6])
	if nameLen > 15 {
		nameLen = 15
	}
	e.Name = strings.ReplaceAll(string(data[7:7+nameLen]), "/", "_")
	e.padding22 = int(bytesex.GetWord(order, data[22:24]))
	e.LastByte = e.padding22 & 0x03FF
	e.When = decodeDate(order, data[24:26])
	return e
}

// Write encodes the entry to its 26-byte on-disk form.
func (e *Entry) Write(order bytesex.Order, data []byte) {
	bytesex.PutWord(order, data[0:2], uint16(e.FirstBlock))
	bytesex.PutWord(order, data[2:4], uint16(e.LastBlock))
	status := 0
	if e.Status {
		status = 1
	}
	bytesex.PutWord(order, data[4:6], uint16(int(e.Kind)+(status<<15)))
	name := e.Name
	if len(name) > 15 {
		name = name[:15]
	}
	data[6] = byte(len(name))
	copy(data[7:22], name)
	bytesex.PutWord(order, data[22:24], uint16(e.LastByte))
	encodeDate(order, data[24:26], e.When)
}

// CurrentSize is the logical length of the file in bytes: full blocks
// up to the last one, plus however many bytes of the last block are
// actually used.
func (e *Entry) CurrentSize() int64 {
	if e.FirstBlock >= e.LastBlock {
		return 0
	}
	return int64(e.LastBlock-e.FirstBlock-1)<<9 + int64(e.LastByte)
}

// CurrentExtentSize is the size in bytes of the whole allocated extent,
// including any unused tail of the last block.
func (e *Entry) CurrentExtentSize() int64 {
	if e.FirstBlock >= e.LastBlock {
		return 0
	}
	return int64(e.LastBlock-e.FirstBlock) << 9
}

// SizeInBlocks is the number of 512-byte blocks the extent occupies.
func (e *Entry) SizeInBlocks() int { return e.LastBlock - e.FirstBlock }
