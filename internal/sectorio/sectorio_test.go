package sectorio

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(4096, false)
	want := []byte("hello, p-system")
	if _, err := s.WriteAt(100, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if _, err := s.ReadAt(100, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestOffsetShim(t *testing.T) {
	s := NewMemoryStore(4096, false)
	shim := NewOffsetShim(s, 1024)
	if _, err := shim.WriteAt(0, []byte("X")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 1)
	if _, err := s.ReadAt(1024, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 'X' {
		t.Errorf("got %q, want X at underlying offset 1024", got)
	}
	if want := s.SizeInBytes() - 1024; shim.SizeInBytes() != want {
		t.Errorf("SizeInBytes = %d, want %d", shim.SizeInBytes(), want)
	}
}

func TestAppleInterleaveRoundTrip(t *testing.T) {
	s := NewMemoryStore(256*32, false)
	a := NewAppleInterleave(s)
	payload := bytes.Repeat([]byte{0xAB}, 256)
	if _, err := a.WriteAt(256*3, payload); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 256)
	if _, err := a.ReadAt(256*3, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("interleaved round trip mismatch")
	}
}

func TestPDPInterleaveRoundTrip(t *testing.T) {
	s := NewMemoryStore(128*26*4, false)
	p := NewPDPInterleave(s)
	payload := bytes.Repeat([]byte{0xCD}, 128)
	if _, err := p.WriteAt(128*40, payload); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 128)
	if _, err := p.ReadAt(128*40, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("PDP interleaved round trip mismatch")
	}
}

func TestRelocateBytesForwardAndBackward(t *testing.T) {
	s := NewMemoryStore(4096, false)
	payload := []byte("relocate-me")
	if _, err := s.WriteAt(0, payload); err != nil {
		t.Fatal(err)
	}
	if err := RelocateBytes(s, 2048, 0, len(payload)); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(payload))
	if _, err := s.ReadAt(2048, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("forward relocate mismatch: got %q", got)
	}

	if err := RelocateBytes(s, 2040, 2048, len(payload)); err != nil {
		t.Fatal(err)
	}
	got2 := make([]byte, len(payload))
	if _, err := s.ReadAt(2040, got2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, payload) {
		t.Errorf("overlapping backward relocate mismatch: got %q", got2)
	}
}

func TestGuessInterleavingFindsRawLabel(t *testing.T) {
	s := NewMemoryStore(4096, false)
	label := make([]byte, 16)
	label[2] = 6 // last_block = 6, little-endian
	label[6] = 4 // name length 4
	if _, err := s.WriteAt(1024, label); err != nil {
		t.Fatal(err)
	}
	got := GuessInterleaving(s)
	if got == nil {
		t.Fatal("expected a match for the raw store")
	}
	if got != Store(s) {
		t.Errorf("expected the raw store itself to match first")
	}
}

func TestGuessInterleavingFindsApplePermutedLabel(t *testing.T) {
	// Lay a valid volume label down at logical offset 1024 through the
	// Apple filter, so the physical image holds it permuted. The raw
	// probe must miss and the Apple probe must hit.
	phys := NewMemoryStore(16384, false)
	label := make([]byte, 16)
	label[2] = 6                  // last_block = 6, little-endian
	label[6] = 5                  // name length
	copy(label[7:], "APPLE")
	if _, err := NewAppleInterleave(phys).WriteAt(1024, label); err != nil {
		t.Fatal(err)
	}

	direct := make([]byte, 16)
	if _, err := phys.ReadAt(1024, direct); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(direct, label) {
		t.Fatal("test fixture is not actually permuted")
	}

	got := GuessInterleaving(phys)
	if got == nil {
		t.Fatal("guesser found nothing")
	}
	if _, ok := got.(*AppleInterleave); !ok {
		t.Fatalf("guesser picked %T, want *AppleInterleave", got)
	}
	readBack := make([]byte, 16)
	if _, err := got.ReadAt(1024, readBack); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(readBack, label) {
		t.Errorf("label through guessed stack = %x, want %x", readBack, label)
	}
}

func TestReadIMDUnavailableRawAndRLE(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("IMD test comment")
	buf.WriteByte(0x1A)

	// One track, 3 sectors of 128 bytes, sequential numbering.
	buf.Write([]byte{0x00, 0x00, 0x00, 0x03, 0x00})
	buf.Write([]byte{1, 2, 3}) // sector numbering map, one-based

	buf.WriteByte(0x00) // sector 1: unavailable

	buf.WriteByte(0x01) // sector 2: raw
	buf.Write(bytes.Repeat([]byte{0x42}, 128))

	buf.WriteByte(0x02) // sector 3: RLE
	buf.WriteByte(0x99)

	st, err := ReadIMD(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if st.SizeInBytes() != 128*3 {
		t.Fatalf("size = %d, want %d", st.SizeInBytes(), 128*3)
	}
	got := make([]byte, 128*3)
	if _, err := st.ReadAt(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[0:128], make([]byte, 128)) {
		t.Errorf("sector 1 not zero-filled")
	}
	if !bytes.Equal(got[128:256], bytes.Repeat([]byte{0x42}, 128)) {
		t.Errorf("sector 2 raw payload mismatch")
	}
	if !bytes.Equal(got[256:384], bytes.Repeat([]byte{0x99}, 128)) {
		t.Errorf("sector 3 RLE payload mismatch")
	}
}
