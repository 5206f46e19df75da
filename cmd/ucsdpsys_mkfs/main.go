// Command ucsdpsys_mkfs formats a fresh p-System volume image.
package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

var (
	sizeFlag   = flag.String("B", "", "volume size, e.g. 280kb, 800kb, 1mb")
	label      = flag.String("L", "", "volume label")
	twin       = flag.Bool("twin", false, "duplicate the meta-data region (twin label)")
	interleave = flag.String("I", "none", "sector interleave to format for: none, apple, pdp, raw")
	machine    = flag.String("A", "", "target machine, selects the default size: 6502, pdp11")
	bootFile   = flag.String("b", "", "boot blocks to install")
)

// machineDefaultKiB is the per-architecture default volume size when
// -B is not given.
var machineDefaultKiB = map[string]int64{
	"6502":  140,
	"pdp11": 800,
}

const defaultKiB = 256

func parseSize(machine, s string) (int64, error) {
	if s == "" {
		kib := int64(defaultKiB)
		if v, ok := machineDefaultKiB[machine]; ok {
			kib = v
		}
		return kib * 1024, nil
	}
	s = strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "gb"):
		mult, s = 1<<30, strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "mb"):
		mult, s = 1<<20, strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "kb"):
		mult, s = 1<<10, strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "b"):
		mult, s = 1, strings.TrimSuffix(s, "b")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("ucsdpsys_mkfs: -B %q: %w", s, err)
	}
	return n * mult, nil
}

func logic(imagePath string) error {
	sizeBytes, err := parseSize(*machine, *sizeFlag)
	if err != nil {
		return err
	}

	// The volume is built through the interleave filter so that the raw
	// store underneath ends up in the physical sector order the target
	// machine expects; the raw store is what gets written to disk.
	raw := sectorio.NewMemoryStore(sizeBytes, false)
	store, err := sectorio.WrapInterleave(raw, normalizeInterleave(*interleave))
	if err != nil {
		return err
	}

	vol, err := volume.Mkfs(store, *label, *twin)
	if err != nil {
		return err
	}

	if *bootFile != "" {
		buf, err := os.ReadFile(*bootFile)
		if err != nil {
			return err
		}
		if err := vol.SetBootBlocks(buf); err != nil {
			return err
		}
	}

	if err := vol.MetaSync(); err != nil {
		return err
	}

	f, err := os.Create(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return sectorio.CopyTo(raw, f)
}

// normalizeInterleave maps the mkfs -I vocabulary, which includes "raw"
// for an uninterleaved image, onto sectorio.WrapInterleave's "none".
func normalizeInterleave(kind string) string {
	if kind == "raw" {
		return "none"
	}
	return kind
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: ucsdpsys_mkfs [flags] <image>")
	}
	if err := logic(flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}
