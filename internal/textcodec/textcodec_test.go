package textcodec

import (
	"bytes"
	"strings"
	"testing"
)

func encodeText(t *testing.T, lines []string, withHeader bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf, false)
	if withHeader {
		if err := enc.WriteHeader(nil); err != nil {
			t.Fatal(err)
		}
	}
	for _, line := range lines {
		if err := enc.WriteLine(line); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeText(t *testing.T, data []byte, tabs bool) string {
	t.Helper()
	var out bytes.Buffer
	dec := NewDecoder(bytes.NewReader(data), tabs)
	if err := dec.DecodeAll(&out); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestRoundTripNoLeadingSpace(t *testing.T) {
	lines := []string{"PROGRAM HELLO;", "BEGIN", "END.", ""}
	want := strings.Join(lines, "\n") + "\n"
	got := decodeText(t, encodeText(t, lines, true), false)
	if got != want {
		t.Errorf("round trip = %q, want %q", got, want)
	}
}

func TestRoundTripIndentedLines(t *testing.T) {
	lines := []string{
		"PROGRAM HELLO;",
		"BEGIN",
		"    WRITELN('HELLO');",
		"        WRITELN('NESTED');",
		"  X := 1;",
		"END.",
	}
	want := strings.Join(lines, "\n") + "\n"
	got := decodeText(t, encodeText(t, lines, true), false)
	if got != want {
		t.Errorf("round trip = %q, want %q", got, want)
	}
}

func TestRoundTripLongIndentSpansMultipleDLERuns(t *testing.T) {
	indent := strings.Repeat(" ", 500)
	lines := []string{indent + "DEEP;"}
	want := strings.Join(lines, "\n") + "\n"
	got := decodeText(t, encodeText(t, lines, true), false)
	if got != want {
		t.Errorf("round trip = %q, want %q", got, want)
	}
}

func TestRoundTripAcrossBlockBoundary(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "    LINE OF PASCAL CODE NUMBER;")
	}
	want := strings.Join(lines, "\n") + "\n"
	encoded := encodeText(t, lines, true)
	if len(encoded) <= blockSize {
		t.Fatalf("test fixture too small to span a block boundary: %d bytes", len(encoded))
	}
	got := decodeText(t, encoded, false)
	if got != want {
		t.Errorf("round trip across block boundary mismatch")
	}
}

func TestDecodeTabMaterialization(t *testing.T) {
	lines := []string{strings.Repeat(" ", 10) + "X;"}
	data := encodeText(t, lines, true)
	got := decodeText(t, data, true)
	want := "\t  X;\n"
	if got != want {
		t.Errorf("tab materialization = %q, want %q", got, want)
	}
}

func TestEncodeShortLeadingSpacesStayLiteral(t *testing.T) {
	encoded := encodeLine("  X")
	if bytes.Contains(encoded, []byte{dle}) {
		t.Errorf("encodeLine(%q) used a DLE escape for only 2 leading spaces: %v", "  X", encoded)
	}
}

func TestEncodeLongLeadingSpacesUseDLE(t *testing.T) {
	encoded := encodeLine(strings.Repeat(" ", 5) + "X")
	if !bytes.Contains(encoded, []byte{dle}) {
		t.Errorf("encodeLine did not compress a 5-space indent: %v", encoded)
	}
}

func TestEncodeDLERunExactBytes(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, true)
	if err := enc.WriteLine("    hello"); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	if len(got) != blockSize {
		t.Fatalf("block length = %d, want %d", len(got), blockSize)
	}
	want := []byte{dle, 32 + 4, 'h', 'e', 'l', 'l', 'o', 0x0D}
	if !bytes.HasPrefix(got, want) {
		t.Fatalf("block prefix = %x, want %x", got[:len(want)], want)
	}
	if !bytes.Equal(got[len(want):], make([]byte, blockSize-len(want))) {
		t.Error("block tail not NUL-padded")
	}
	if decoded := decodeText(t, got, false); decoded != "    hello\n" {
		t.Errorf("decode = %q, want %q", decoded, "    hello\n")
	}
}

func TestDecodeAlreadyStrippedInput(t *testing.T) {
	data := encodeText(t, []string{"HI THERE"}, false)
	if got := decodeText(t, data, false); got != "HI THERE\n" {
		t.Errorf("decode without header = %q, want %q", got, "HI THERE\n")
	}
}

func TestHeaderDetectionSkipsAllZeroHeader(t *testing.T) {
	header := make([]byte, headerSize)
	body := encodeText(t, []string{"HI"}, false)
	data := append(header, body...)
	got := decodeText(t, data, false)
	if got != "HI\n" {
		t.Errorf("decode with zero header = %q, want %q", got, "HI\n")
	}
}
