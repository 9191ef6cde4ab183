package model

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeRemainingLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		l   int
		enc []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	ve := make([]byte, 0, 4)
	for _, tt := range tests {
		var err error
		ve, err = EncodeRemainingLength(ve[:0], tt.l)
		if err != nil {
			t.Fatal(tt.l, err)
		}
		if !bytes.Equal(ve, tt.enc) {
			t.Fatalf("%d: got % X, want % X", tt.l, ve, tt.enc)
		}
		if n := RemainingLengthByteCount(tt.l); n != len(ve) {
			t.Fatalf("%d: byte count %d, encoded %d", tt.l, n, len(ve))
		}
	}
}

func TestEncodeRemainingLengthAppends(t *testing.T) {
	t.Parallel()

	p, err := EncodeRemainingLength([]byte{PUBLISH}, 28)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, []byte{0x30, 0x1C}) {
		t.Fatalf("% X", p)
	}
}

func TestEncodeRemainingLengthOverflow(t *testing.T) {
	t.Parallel()

	for _, l := range []int{MaxRemainingLength + 1, 1 << 30, -1} {
		p, err := EncodeRemainingLength(nil, l)
		if !errors.Is(err, ErrLengthOverflow) {
			t.Fatal(l, err)
		}
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatal(l, "not a protocol violation")
		}
		if len(p) != 0 {
			t.Fatal(l, "wrote bytes on failure")
		}
		if RemainingLengthByteCount(l) != 0 {
			t.Fatal(l, "byte count for invalid length")
		}
	}
}

func TestRemainingLengthRoundTrip(t *testing.T) {
	t.Parallel()

	for _, l := range []int{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x200000, 0xFFFFFFF} {
		enc, err := EncodeRemainingLength(nil, l)
		if err != nil {
			t.Fatal(l, err)
		}

		got, n, err := DecodeRemainingLength(enc)
		if err != nil {
			t.Fatal(l, err)
		}
		if got != l || n != RemainingLengthByteCount(l) {
			t.Fatalf("%#x: decoded %#x in %d bytes", l, got, n)
		}
	}
}

func TestDecodeRemainingLengthTrailingBytes(t *testing.T) {
	t.Parallel()

	l, n, err := DecodeRemainingLength([]byte{0x02, 0x00, 0x00})
	if err != nil || l != 2 || n != 1 {
		t.Fatal(l, n, err)
	}
}

func TestDecodeRemainingLengthMalformed(t *testing.T) {
	t.Parallel()

	_, n, err := DecodeRemainingLength([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	if !errors.Is(err, ErrMalformedLength) || errors.Is(err, ErrLengthIncomplete) {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatal("consumed", n)
	}

	for _, b := range [][]byte{nil, {0x80}, {0xFF, 0xFF}, {0x80, 0x80, 0x80}} {
		_, _, err = DecodeRemainingLength(b)
		if !errors.Is(err, ErrLengthIncomplete) || !errors.Is(err, ErrMalformedLength) {
			t.Fatalf("% X: %v", b, err)
		}
	}
}

func TestUTF8(t *testing.T) {
	t.Parallel()

	// U+0000 invalid
	if err := CheckUTF8("\x00", false); err == nil {
		t.Fatal(0)
	}

	// U+D7FF valid
	if err := CheckUTF8("\xED\x9F\xBF\x31", false); err != nil {
		t.Fatal(1, err)
	}

	// U+D800 invalid
	if err := CheckUTF8("\xED\xA0\x80", false); err == nil {
		t.Fatal(3)
	}

	// U+DFFF invalid
	if err := CheckUTF8("\xED\xBF\xBF", false); err == nil {
		t.Fatal(4)
	}

	// U+E000 valid
	if err := CheckUTF8("\xEE\x80\x80", false); err != nil {
		t.Fatal(5, err)
	}

	// U+0001, U+FEFF valid
	if err := CheckUTF8("\x01\xEF\xBB\xBF\x59", false); err != nil {
		t.Fatal(6, err)
	}

	// U+0001, U+FEFF, U+0000 invalid
	if err := CheckUTF8("\x01\xEF\xBB\xBF\x59\x00", false); err == nil {
		t.Fatal(7)
	}

	if err := CheckUTF8("sensors/+/temp", true); err != ErrContainsWildCards {
		t.Fatal(8, err)
	}
	if err := CheckUTF8("sensors/#", false); err != nil {
		t.Fatal(9, err)
	}
}

func TestNewPublishRequestCopiesPayload(t *testing.T) {
	t.Parallel()

	buf := []byte("Hello World!")
	r := NewPublishRequest("topic/greeting", buf)
	buf[0] = 'J'
	if string(r.Payload) != "Hello World!" {
		t.Fatal(string(r.Payload))
	}
}

func TestReturnCodeText(t *testing.T) {
	t.Parallel()

	if ReturnCodeText(IdentifierRejected) != "identifier rejected" {
		t.Fatal(ReturnCodeText(IdentifierRejected))
	}
	if ReturnCodeText(9) != "unknown return code 9" {
		t.Fatal(ReturnCodeText(9))
	}
}
