// Command ucsdpsys_mount exposes a p-System volume image as a live FUSE
// mount, alongside a control socket for out-of-band administration
// (stats, crunch) while the mount is active.
package main

import (
	"context"
	"flag"
	"log"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/diag"
	"github.com/ucsdpsys/ucsdpsys-go/internal/diskctl"
	"github.com/ucsdpsys/ucsdpsys-go/internal/fusefs"
	"github.com/ucsdpsys/ucsdpsys-go/internal/oninterrupt"
	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

var (
	image = flag.String("f", "", "path to the volume image")

	interleave = flag.String("interleave", "guess",
		"sector interleave to apply: none, apple, pdp, guess")

	readOnly = flag.Bool("read-only", false, "mount read-only")

	allowWrites = flag.Bool("allow-writes", true,
		"when false, equivalent to -read-only")

	textMode = flag.Bool("text", false,
		"serve text-kind files in decoded host form")
)

func logic(mountpoint string) error {
	if *image == "" {
		return xerrors.New("ucsdpsys_mount: -f <image> is required")
	}
	ro := *readOnly || !*allowWrites

	store, err := sectorio.OpenImage(*image, ro)
	if err != nil {
		return err
	}
	store, err = sectorio.WrapInterleave(store, *interleave)
	if err != nil {
		return err
	}

	concern := volume.ConcernCheck
	vol, problems, err := volume.Open(store, concern)
	if err != nil {
		return err
	}
	if problems > 0 {
		diag.Warning("%d problem(s) found while opening %s", problems, *image)
	}

	fs := fusefs.New(vol, ro || store.IsReadOnly(), *textMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	join, err := fusefs.Mount(ctx, mountpoint, fs)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		return join(ctx)
	})
	g.Go(func() error {
		return diskctl.Serve(ctx, mountpoint+".ctl", fs)
	})
	oninterrupt.Register(func() {
		cancel()
		g.Wait()
	})
	return g.Wait()
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: ucsdpsys_mount -f <image> <mountpoint>")
	}
	if err := logic(flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}
