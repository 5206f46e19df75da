// Command ucsdpsys_fsck validates a p-System volume's directory
// structure, optionally repairing whatever it safely can.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/ucsdpsys/ucsdpsys-go/internal/diag"
	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

var (
	fix        = flag.Bool("fix", false, "repair whatever can safely be repaired")
	readOnly   = flag.Bool("read-only", false, "never write back, even with -fix")
	interleave = flag.String("interleave", "guess", "sector interleave: none, apple, pdp, guess")
)

func logic(imagePath string) error {
	concern := volume.ConcernCheck
	if *fix && !*readOnly {
		concern = volume.ConcernRepair
	}

	store, err := sectorio.OpenImage(imagePath, *readOnly)
	if err != nil {
		return err
	}
	store, err = sectorio.WrapInterleave(store, *interleave)
	if err != nil {
		return err
	}

	vol, problems, err := volume.Open(store, concern)
	if err != nil {
		return err
	}
	if problems == 0 {
		diag.Notice("%s: no problems found", imagePath)
		return nil
	}

	if concern == volume.ConcernRepair {
		diag.Notice("%s: %d problem(s) repaired", imagePath, problems)
		if err := vol.MetaSync(); err != nil {
			return err
		}
	} else {
		diag.Warning("%s: %d problem(s) found", imagePath, problems)
		os.Exit(1)
	}
	return nil
}

func main() {
	flag.Parse()
	diag.SetProgramName("ucsdpsys_fsck")
	if flag.NArg() != 1 {
		log.Fatal("usage: ucsdpsys_fsck [-fix] [-read-only] <image>")
	}
	if err := logic(flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}
