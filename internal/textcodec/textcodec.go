// Package textcodec bridges the p-System's DLE-compressed text file
// layout and ordinary host line-oriented text, so that a mounted text
// file can be read and written as if it were the editor's working
// representation rather than the on-disk block format: an optional
// 1024-byte editor header, followed by 1024-byte blocks of CR-terminated
// lines whose leading run of spaces may be compressed as a DLE escape.
package textcodec

const (
	blockSize  = 1024
	headerSize = 1024
	dle        = 0x10
)
