package volume

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ucsdpsys/ucsdpsys-go/internal/bytesex"
	"github.com/ucsdpsys/ucsdpsys-go/internal/sectorio"
)

func newTestStore(t *testing.T, blocks int) sectorio.Store {
	t.Helper()
	return sectorio.NewMemoryStore(int64(blocks)<<9, false)
}

func TestLabelRoundTrip(t *testing.T) {
	want := NewLabel("MYDISK", 280, false)
	buf := make([]byte, entrySize)
	want.Write(bytesex.Little, buf)
	got := ReadLabel(bytesex.Little, buf)
	opts := []cmp.Option{cmp.AllowUnexported(Label{}), cmpopts.IgnoreFields(Label{}, "When")}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("label round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEntryRoundTrip(t *testing.T) {
	want := NewEntry("HELLO.TEXT", Text, 10, 4)
	buf := make([]byte, entrySize)
	want.Write(bytesex.Big, buf)
	got := ReadEntry(bytesex.Big, buf)
	// padding4/padding22 mirror the raw on-disk words (kind, status and
	// last-byte bits included), so they differ from a freshly built
	// entry's zero values without carrying any information of their own.
	got.padding4, got.padding22 = 0, 0
	opts := []cmp.Option{cmp.AllowUnexported(Entry{}), cmpopts.IgnoreFields(Entry{}, "When")}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("entry round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDFKindFromExtension(t *testing.T) {
	cases := map[string]DFKind{
		"FOO.TEXT":        Text,
		"FOO.CODE":        Code,
		"SYSTEM.PASCAL":   Code,
		"SYSTEM.MISCINFO": Data,
		"PIC.PNG":         Foto,
		"UNKNOWN.XYZZY":   Data,
	}
	for name, want := range cases {
		if got := DFKindFromExtension(name); got != want {
			t.Errorf("DFKindFromExtension(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestMkfsThenAddFileThenWriteThenRead(t *testing.T) {
	store := newTestStore(t, 280)
	v, err := Mkfs(store, "TESTVOL", false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Label.Name != "TESTVOL" {
		t.Fatalf("name = %q", v.Label.Name)
	}

	e := NewEntry("HELLO.TEXT", Text, v.FirstEmptyBlock(), 2)
	if err := v.AddNewFile(e); err != nil {
		t.Fatal(err)
	}

	f := v.OpenFile(e)
	payload := []byte("hello, p-system world")
	if _, err := f.Write(0, payload); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	if _, err := f.Read(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}

	// Reopen to confirm meta-data was actually persisted.
	v2, errs, err := Open(store, ConcernCheck)
	if err != nil {
		t.Fatal(err)
	}
	if errs != 0 {
		t.Errorf("unexpected fsck errors on reopen: %d", errs)
	}
	if len(v2.Files) != 1 || v2.Files[0].Name != "HELLO.TEXT" {
		t.Fatalf("reopened volume files = %+v", v2.Files)
	}
}

func TestWriteGrowsPastGapAndCompacts(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "SMALL", false)
	if err != nil {
		t.Fatal(err)
	}

	a := NewEntry("A.TEXT", Text, v.FirstEmptyBlock(), 1)
	if err := v.AddNewFile(a); err != nil {
		t.Fatal(err)
	}
	b := NewEntry("B.TEXT", Text, v.FirstEmptyBlock(), 1)
	if err := v.AddNewFile(b); err != nil {
		t.Fatal(err)
	}

	// B immediately follows A with no gap. Growing A past its single
	// block must relocate something to make room.
	fa := v.OpenFile(a)
	big := bytes.Repeat([]byte{0x5A}, 1024)
	if _, err := fa.Write(0, big); err != nil {
		t.Fatal(err)
	}
	if a.LastBlock-a.FirstBlock < 2 {
		t.Fatalf("A did not grow: %+v", a)
	}
	if b.FirstBlock < a.LastBlock {
		t.Errorf("B overlaps grown A: A=%+v B=%+v", a, b)
	}

	got := make([]byte, len(big))
	if _, err := fa.Read(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("A's data corrupted by relocation")
	}
}

func TestCrunchGathersFreeSpaceAtEnd(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "CRUNCH", false)
	if err != nil {
		t.Fatal(err)
	}
	a := NewEntry("A.TEXT", Text, v.FirstEmptyBlock(), 2)
	if err := v.AddNewFile(a); err != nil {
		t.Fatal(err)
	}
	b := NewEntry("B.TEXT", Text, a.LastBlock+3, 2) // leave a 3-block gap
	if err := v.AddNewFile(b); err != nil {
		t.Fatal(err)
	}

	gap, err := v.Crunch()
	if err != nil {
		t.Fatal(err)
	}
	if b.FirstBlock != a.LastBlock {
		t.Errorf("crunch left a gap: a.LastBlock=%d b.FirstBlock=%d", a.LastBlock, b.FirstBlock)
	}
	wantGap := v.Label.EOVBlock - b.LastBlock
	if gap != wantGap {
		t.Errorf("crunch gap = %d, want %d", gap, wantGap)
	}
}

func TestDeleteExistingFile(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "DEL", false)
	if err != nil {
		t.Fatal(err)
	}
	a := NewEntry("A.TEXT", Text, v.FirstEmptyBlock(), 1)
	if err := v.AddNewFile(a); err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteExistingFile(a); err != nil {
		t.Fatal(err)
	}
	if len(v.Files) != 0 {
		t.Errorf("file still present after delete")
	}
	if v.Find("A.TEXT") != nil {
		t.Errorf("deleted file still found")
	}
}

func TestFsckRepairsOutOfOrderEntries(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "ORDER", false)
	if err != nil {
		t.Fatal(err)
	}
	a := NewEntry("A.TEXT", Text, v.FirstEmptyBlock(), 1)
	if err := v.AddNewFile(a); err != nil {
		t.Fatal(err)
	}
	b := NewEntry("B.TEXT", Text, a.LastBlock, 1)
	if err := v.AddNewFile(b); err != nil {
		t.Fatal(err)
	}

	// Corrupt the on-disk order directly, bypassing the engine.
	v.Files[0], v.Files[1] = v.Files[1], v.Files[0]
	if err := v.MetaSync(); err != nil {
		t.Fatal(err)
	}

	_, errs, err := Open(store, ConcernRepair)
	if err != nil {
		t.Fatal(err)
	}
	if errs == 0 {
		t.Error("expected fsck to report the out-of-order entries")
	}
}

func TestMkfsStatfsAndFileLifecycle(t *testing.T) {
	store := newTestStore(t, 280) // 140 KiB
	v, err := Mkfs(store, "TEST", false)
	if err != nil {
		t.Fatal(err)
	}

	st := v.Statfs()
	if st.Files != 77 {
		t.Errorf("Files = %d, want 77", st.Files)
	}
	if st.BlocksFree != 274 {
		t.Errorf("BlocksFree = %d, want 274", st.BlocksFree)
	}
	if v.FirstEmptyBlock() != v.Label.LastBlock {
		t.Errorf("FirstEmptyBlock = %d, want %d", v.FirstEmptyBlock(), v.Label.LastBlock)
	}

	e := NewEntry("A.TEXT", Text, v.FirstEmptyBlock(), 0)
	if err := v.AddNewFile(e); err != nil {
		t.Fatal(err)
	}
	f := v.OpenFile(e)
	if n, err := f.Write(0, []byte("HELLO\n")); err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if e.CurrentSize() != 6 {
		t.Errorf("CurrentSize = %d, want 6", e.CurrentSize())
	}
	if e.SizeInBlocks() != 1 {
		t.Errorf("SizeInBlocks = %d, want 1", e.SizeInBlocks())
	}
	if got := v.Statfs().BlocksFree; got != 273 {
		t.Errorf("BlocksFree after write = %d, want 273", got)
	}

	if err := f.Unlink(); err != nil {
		t.Fatal(err)
	}
	if len(v.Files) != 0 {
		t.Errorf("Files = %d after unlink, want 0", len(v.Files))
	}
	if got := v.Statfs().BlocksFree; got != 274 {
		t.Errorf("BlocksFree after unlink = %d, want 274", got)
	}
}

func TestFindIsCaseInsensitive(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "CASE", false)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEntry("README.TEXT", Text, v.FirstEmptyBlock(), 1)
	if err := v.AddNewFile(e); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"README.TEXT", "readme.text", "/Readme.Text"} {
		if v.Find(name) != e {
			t.Errorf("Find(%q) missed", name)
		}
	}
	if v.Find("readme.text/nested") != nil {
		t.Error("Find accepted a nested path")
	}
}

func TestTruncateGrowthShufflesNextFileUp(t *testing.T) {
	store := newTestStore(t, 16) // 8 KiB
	v, err := Mkfs(store, "SHUF", false)
	if err != nil {
		t.Fatal(err)
	}
	x := NewEntry("X.DATA", Data, 6, 4) // [6,10)
	if err := v.AddNewFile(x); err != nil {
		t.Fatal(err)
	}
	y := NewEntry("Y.DATA", Data, 10, 4) // [10,14)
	if err := v.AddNewFile(y); err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0xC3}, 2048)
	if _, err := v.OpenFile(y).Write(0, payload); err != nil {
		t.Fatal(err)
	}

	// X has no gap after it, so growing it to 6 blocks has to shove Y
	// up against the end of the volume first.
	if err := v.OpenFile(x).Truncate(3072); err != nil {
		t.Fatal(err)
	}
	if x.FirstBlock != 6 || x.LastBlock != 12 {
		t.Errorf("X = [%d,%d), want [6,12)", x.FirstBlock, x.LastBlock)
	}
	if y.FirstBlock != 12 || y.LastBlock != 16 {
		t.Errorf("Y = [%d,%d), want [12,16)", y.FirstBlock, y.LastBlock)
	}
	got := make([]byte, len(payload))
	if _, err := v.OpenFile(y).Read(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Y's data corrupted by relocation")
	}
}

func TestMetaReadRepairsUnderFloorEntry(t *testing.T) {
	store := newTestStore(t, 280)
	v, err := Mkfs(store, "FIX", false)
	if err != nil {
		t.Fatal(err)
	}
	a := NewEntry("A.DATA", Data, 10, 2) // [10,12)
	b := NewEntry("B.DATA", Data, 5, 4)  // [5,9): starts below the meta-data region's end
	v.Files = []*Entry{a, b}             // out of order on purpose, bypassing AddNewFile
	if err := v.MetaSync(); err != nil {
		t.Fatal(err)
	}

	v2, errs, err := Open(store, ConcernRepair)
	if err != nil {
		t.Fatal(err)
	}
	if errs == 0 {
		t.Fatal("expected problems to be found and repaired")
	}
	if v2.Files[0].Name != "B.DATA" || v2.Files[0].FirstBlock != 6 {
		t.Errorf("first entry = %q [%d,%d), want B.DATA starting at 6",
			v2.Files[0].Name, v2.Files[0].FirstBlock, v2.Files[0].LastBlock)
	}

	_, errs, err = Open(store, ConcernCheck)
	if err != nil {
		t.Fatal(err)
	}
	if errs != 0 {
		t.Errorf("recheck after repair found %d problem(s), want 0", errs)
	}
}

func TestCrunchIsIdempotent(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "TWICE", false)
	if err != nil {
		t.Fatal(err)
	}
	a := NewEntry("A.DATA", Data, 8, 2) // gap before and after
	if err := v.AddNewFile(a); err != nil {
		t.Fatal(err)
	}
	b := NewEntry("B.DATA", Data, 14, 3)
	if err := v.AddNewFile(b); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Crunch(); err != nil {
		t.Fatal(err)
	}
	snapshot := append([]byte(nil), store.(interface{ Bytes() []byte }).Bytes()...)
	if _, err := v.Crunch(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(snapshot, store.(interface{ Bytes() []byte }).Bytes()) {
		t.Error("second crunch changed the image")
	}
}

func TestBootBlocksZeroPadShortInput(t *testing.T) {
	store := newTestStore(t, 40)
	v, err := Mkfs(store, "BOOT", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.SetBootBlocks([]byte("BOOTCODE")); err != nil {
		t.Fatal(err)
	}
	got, err := v.GetBootBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1024 {
		t.Fatalf("boot blocks length = %d, want 1024", len(got))
	}
	if !bytes.HasPrefix(got, []byte("BOOTCODE")) {
		t.Errorf("boot block prefix = %q", got[:8])
	}
	if !bytes.Equal(got[8:], make([]byte, 1024-8)) {
		t.Error("boot block tail not zero-padded")
	}
}

func TestDecodeDateRoundTrip(t *testing.T) {
	when := time.Date(1986, time.March, 14, 0, 0, 0, 0, time.Local)
	buf := make([]byte, 2)
	encodeDate(bytesex.Little, buf, when)
	got := decodeDate(bytesex.Little, buf)
	if got.Year() != 1986 || got.Month() != time.March || got.Day() != 14 {
		t.Errorf("decodeDate round trip = %v, want 1986-03-14", got)
	}
}
