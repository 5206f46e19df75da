package volume

import (
	"time"

	"github.com/ucsdpsys/ucsdpsys-go/internal/bytesex"
)

// The p-System DATEREC packs month, day and a two-digit year into a
// single 16-bit word:
//
//	F  E  D  C  B  A  9  8  7  6  5  4  3  2  1  0
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|        year        |      day      |  month   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//
// Month occupies bits 0-3 (1-12, 0 means "not meaningful"), day bits
// 4-8, and year bits 9-15 as a two-digit value: values below 70 are
// read as 2000-2069, values 70-99 as 1970-1999.

func decodeDate(order bytesex.Order, data []byte) time.Time {
	x := int(bytesex.GetWord(order, data))
	if x == 0 {
		return time.Time{}
	}
	month := x & 0x0F
	day := (x >> 4) & 0x1F
	year := (x >> 9) & 0x7F
	if year < 70 {
		year += 100
	}
	return time.Date(1900+year, time.Month(month), day, 0, 0, 0, 0, time.Local)
}

func encodeDate(order bytesex.Order, data []byte, when time.Time) {
	if when.IsZero() {
		bytesex.PutWord(order, data, 0)
		return
	}
	year := when.Year() - 1900
	x := int(when.Month()) | (when.Day() << 4) | ((year % 100) << 9)
	bytesex.PutWord(order, data, uint16(x))
}
