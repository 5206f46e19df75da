package bytesex

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, order := range []Order{Little, Big} {
		for _, w := range []uint16{0, 1, 6, 10, 0x00FF, 0xFF00, 0xFFFF, 0x1234} {
			buf := make([]byte, 2)
			PutWord(order, buf, w)
			if got := GetWord(order, buf); got != w {
				t.Errorf("%v: PutWord/GetWord(%#x) = %#x", order, w, got)
			}
		}
	}
}

func TestDetect(t *testing.T) {
	little := []byte{0x02, 0x00, 0x06, 0x00, 0, 0, 0, 0}
	if Detect(little) != Little {
		t.Errorf("expected little-endian")
	}
	big := []byte{0x00, 0x02, 0x00, 0x06, 0, 0, 0, 0}
	if Detect(big) != Big {
		t.Errorf("expected big-endian")
	}
}
