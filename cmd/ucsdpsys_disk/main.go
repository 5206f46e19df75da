// Command ucsdpsys_disk is the offline image toolbox: list, extract,
// insert, and remove files on a p-System volume image without mounting
// it, plus housekeeping operations (crunch, wipe-unused) and raw boot
// block access.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/diag"
	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
	"github.com/ucsdpsys/ucsdpsys-go/internal/textcodec"
	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

var (
	imagePath = flag.String("f", "", "path to the volume image")

	list   = flag.Bool("l", false, "list the volume's files")
	get    = flag.String("g", "", "extract a file by name to stdout or to a host path")
	put    = flag.String("p", "", "insert a host file under this volume name")
	remove = flag.String("r", "", "remove a file by name")

	output  = flag.String("o", "", "write -g output to this host path instead of stdout")
	archive = flag.String("archive", "", "export every file into this cpio archive")

	crunch      = flag.Bool("crunch", false, "compact free space")
	wipeUnused  = flag.Bool("wipe-unused", false, "zero all blocks not owned by a file")
	bootFile    = flag.String("boot", "", "boot blocks file, paired with -g/-p")
	sysVolume   = flag.Bool("system-volume", false, "require/mark this as the system volume")
	textMode    = flag.Bool("text", false, "run -g/-p through the p-System text codec")
	sortBy      = flag.String("sort", "", "sort -l output: block, name, date, size, kind")
	all         = flag.Bool("A", false, "include files normally elided from listings")
	interleave  = flag.String("interleave", "guess", "sector interleave: none, apple, pdp, guess")
	readOnlyOut = flag.Bool("read-only", false, "refuse any mutating operation")
)

func openVolume() (sectorio.Store, *volume.Volume, error) {
	if *imagePath == "" {
		return nil, nil, xerrors.New("ucsdpsys_disk: -f <image> is required")
	}
	store, err := sectorio.OpenImage(*imagePath, *readOnlyOut)
	if err != nil {
		return nil, nil, err
	}
	store, err = sectorio.WrapInterleave(store, *interleave)
	if err != nil {
		return nil, nil, err
	}
	vol, problems, err := volume.Open(store, volume.ConcernCheck)
	if err != nil {
		return nil, nil, err
	}
	if problems > 0 {
		diag.Warning("%d problem(s) found while opening %s", problems, *imagePath)
	}
	if *sysVolume && !vol.CheckForSystemFiles() {
		diag.Warning("%s does not look like a system volume", *imagePath)
	}
	return store, vol, nil
}

// suggest returns the closest existing filename to want, for a
// did-you-mean hint when a lookup misses; it never touches the volume.
func suggest(vol *volume.Volume, want string) string {
	best := ""
	bestScore := -1
	for i := 1; ; i++ {
		e := vol.Nth(i)
		if e == nil {
			break
		}
		if score := fstrcmp(strings.ToLower(want), strings.ToLower(e.Name)); score > bestScore {
			bestScore, best = score, e.Name
		}
	}
	return best
}

// fstrcmp scores how similar two strings are: the count of matching
// bytes at equal positions, minus the absolute length difference. Good
// enough to pick a plausible typo fix out of a short file list.
func fstrcmp(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	score := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			score++
		}
	}
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	return score - diff
}

func listFiles(vol *volume.Volume) {
	type row struct {
		e *volume.Entry
	}
	var rows []row
	for i := 1; ; i++ {
		e := vol.Nth(i)
		if e == nil {
			break
		}
		if !*all && e.Kind == volume.SecureDir {
			continue
		}
		rows = append(rows, row{e})
	}
	less := map[string]func(i, j int) bool{
		"block": func(i, j int) bool { return rows[i].e.FirstBlock < rows[j].e.FirstBlock },
		"name":  func(i, j int) bool { return rows[i].e.Name < rows[j].e.Name },
		"date":  func(i, j int) bool { return rows[i].e.When.Before(rows[j].e.When) },
		"size":  func(i, j int) bool { return rows[i].e.CurrentSize() < rows[j].e.CurrentSize() },
		"kind":  func(i, j int) bool { return rows[i].e.Kind < rows[j].e.Kind },
	}
	if cmp, ok := less[*sortBy]; ok {
		sort.SliceStable(rows, cmp)
	}
	for _, r := range rows {
		fmt.Printf("%4d %-15s %-10s %8d  %s\n",
			r.e.FirstBlock, r.e.Name, r.e.Kind, r.e.CurrentSize(),
			r.e.When.Format("02-Jan-06"))
	}
}

func getFile(vol *volume.Volume, name string) error {
	if *bootFile != "" {
		buf, err := vol.GetBootBlocks()
		if err != nil {
			return err
		}
		return renameio.WriteFile(*bootFile, buf, 0644)
	}
	e := vol.Find(name)
	if e == nil {
		return xerrors.Errorf("ucsdpsys_disk: %s: not found (did you mean %q?)", name, suggest(vol, name))
	}
	data, err := slurpFile(vol, e)
	if err != nil {
		return err
	}
	if *output != "" {
		return renameio.WriteFile(*output, data, 0644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

// slurpFile reads a whole file out of the volume, through the text
// codec when -text is on and the entry is text-kind.
func slurpFile(vol *volume.Volume, e *volume.Entry) ([]byte, error) {
	data := make([]byte, e.CurrentSize())
	if _, err := vol.OpenFile(e).Read(0, data); err != nil && err != io.EOF {
		return nil, err
	}
	if *textMode && e.Kind == volume.Text {
		var decoded bytes.Buffer
		dec := textcodec.NewDecoder(bytes.NewReader(data), true)
		if err := dec.DecodeAll(&decoded); err != nil {
			return nil, err
		}
		return decoded.Bytes(), nil
	}
	return data, nil
}

// archiveFiles exports every file on the volume into one cpio archive,
// written atomically so an interrupted run never leaves a torn archive
// behind.
func archiveFiles(vol *volume.Volume, path string) error {
	var buf bytes.Buffer
	wr := cpio.NewWriter(&buf)
	for i := 1; ; i++ {
		e := vol.Nth(i)
		if e == nil {
			break
		}
		if !*all && e.Kind == volume.SecureDir {
			continue
		}
		data, err := slurpFile(vol, e)
		if err != nil {
			return err
		}
		if err := wr.WriteHeader(&cpio.Header{
			Name:    e.Name,
			Mode:    cpio.FileMode(0644),
			Size:    int64(len(data)),
			ModTime: e.When,
		}); err != nil {
			return err
		}
		if _, err := wr.Write(data); err != nil {
			return err
		}
	}
	if err := wr.Close(); err != nil {
		return err
	}
	out, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer out.Cleanup()
	if _, err := io.Copy(out, &buf); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}

func putFile(vol *volume.Volume, hostPath string) error {
	if *bootFile != "" {
		buf, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		return vol.SetBootBlocks(buf)
	}
	name := hostPath
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if vol.Find(name) != nil {
		return xerrors.Errorf("ucsdpsys_disk: %s: already exists", name)
	}
	if !vol.HasRoomForNewFile() {
		return xerrors.New("ucsdpsys_disk: volume directory is full")
	}
	raw, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}
	kind := volume.DFKindFromExtension(name)
	if *textMode && kind == volume.Text {
		var buf bytes.Buffer
		enc := textcodec.NewEncoder(&buf, true)
		if err := enc.WriteHeader(nil); err != nil {
			return err
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if err := enc.WriteLine(line); err != nil {
				return err
			}
		}
		if err := enc.Close(); err != nil {
			return err
		}
		raw = buf.Bytes()
	}
	numBlocks := (len(raw) + 511) / 512
	e := volume.NewEntry(name, kind, vol.FirstEmptyBlock(), numBlocks)
	e.LastByte = len(raw) - (numBlocks-1)*512
	if e.LastByte <= 0 {
		e.LastByte = 512
	}
	if err := vol.AddNewFile(e); err != nil {
		return err
	}
	f := vol.OpenFile(e)
	_, err = f.Write(0, raw)
	return err
}

func removeFile(vol *volume.Volume, name string) error {
	e := vol.Find(name)
	if e == nil {
		return xerrors.Errorf("ucsdpsys_disk: %s: not found (did you mean %q?)", name, suggest(vol, name))
	}
	return vol.OpenFile(e).Unlink()
}

func logic() error {
	_, vol, err := openVolume()
	if err != nil {
		return err
	}

	switch {
	case *list:
		listFiles(vol)
		return nil
	case *archive != "":
		return archiveFiles(vol, *archive)
	case *get != "":
		return getFile(vol, *get)
	case *put != "":
		if err := putFile(vol, *put); err != nil {
			return err
		}
	case *remove != "":
		if err := removeFile(vol, *remove); err != nil {
			return err
		}
	}

	if *wipeUnused {
		if err := vol.WipeUnused(); err != nil {
			return err
		}
	}
	if *crunch {
		freed, err := vol.Crunch()
		if err != nil {
			return err
		}
		diag.Warning("crunch left %d free block(s) at the end of the volume", freed)
	}

	if *put != "" || *remove != "" || *wipeUnused || *crunch {
		return vol.MetaSync()
	}
	return nil
}

func main() {
	flag.Parse()
	if err := logic(); err != nil {
		log.Fatal(err)
	}
}
