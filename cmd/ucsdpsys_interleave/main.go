// Command ucsdpsys_interleave rewrites a raw disk image between its
// physical sector order and the logical block order the volume engine
// expects, without interpreting the volume structure at all.
package main

import (
	"flag"
	"log"
	"os"

	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
)

var (
	encode = flag.Bool("e", false, "encode: logical order to physical interleave")
	decode = flag.Bool("d", false, "decode: physical interleave to logical order")
	kind   = flag.String("T", "guess", "interleave type: none, apple, pdp, guess")
)

func copyBlocks(src, dst sectorio.Store) error {
	const chunk = 512
	buf := make([]byte, chunk)
	size := src.SizeInBytes()
	for off := int64(0); off < size; off += chunk {
		n := int64(len(buf))
		if off+n > size {
			n = size - off
		}
		if _, err := src.ReadAt(off, buf[:n]); err != nil {
			return err
		}
		if _, err := dst.WriteAt(off, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func logic(in, out string) error {
	if *encode == *decode {
		return xerrors.New("ucsdpsys_interleave: exactly one of -e or -d is required")
	}

	raw, err := sectorio.OpenFile(in, true)
	if err != nil {
		return err
	}

	var result sectorio.Store
	if *decode {
		// raw holds bytes in physical sector order; reading it through
		// the interleave filter yields them in logical order, which we
		// copy straight into a plain memory store.
		source, err := sectorio.WrapInterleave(raw, *kind)
		if err != nil {
			return err
		}
		dst := sectorio.NewMemoryStore(raw.SizeInBytes(), false)
		if err := copyBlocks(source, dst); err != nil {
			return err
		}
		result = dst
	} else {
		// raw holds bytes in logical order; writing them through the
		// interleave filter onto a fresh memory store leaves that
		// store's bytes in physical order.
		dst := sectorio.NewMemoryStore(raw.SizeInBytes(), false)
		target, err := sectorio.WrapInterleave(dst, *kind)
		if err != nil {
			return err
		}
		if err := copyBlocks(raw, target); err != nil {
			return err
		}
		result = dst
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	return sectorio.CopyTo(result, f)
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		log.Fatal("usage: ucsdpsys_interleave [-e|-d] -T <type> <in> <out>")
	}
	if err := logic(flag.Arg(0), flag.Arg(1)); err != nil {
		log.Fatal(err)
	}
}
