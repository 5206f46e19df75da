// Command ucsdpsys_text converts between the p-System's DLE-compressed
// text file layout and plain host text, independent of any volume.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/textcodec"
)

var (
	encode = flag.Bool("e", false, "encode host text into p-System text block form")
	decode = flag.Bool("d", false, "decode p-System text block form into host text")
	noTabs = flag.Bool("no-tabs", false, "materialize leading indentation as spaces, not tabs")
	noNUL  = flag.Bool("no-nul", false, "do not guarantee a trailing NUL in every encoded block")
)

func logic(in, out string) error {
	if *encode == *decode {
		return xerrors.New("ucsdpsys_text: exactly one of -e or -d is required")
	}

	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()

	if *decode {
		dec := textcodec.NewDecoder(src, !*noTabs)
		return dec.DecodeAll(dst)
	}

	enc := textcodec.NewEncoder(dst, !*noNUL)
	if err := enc.WriteHeader(nil); err != nil {
		return err
	}
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := enc.WriteLine(strings.TrimRight(scanner.Text(), "\r")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return enc.Close()
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		log.Fatal("usage: ucsdpsys_text [-e|-d] [-no-tabs] [-no-nul] <in> <out>")
	}
	if err := logic(flag.Arg(0), flag.Arg(1)); err != nil {
		log.Fatal(err)
	}
}
