package sigtransport

import (
	"bytes"
	"testing"
)

func TestPadUnpadRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte("x"), 158),
		bytes.Repeat([]byte("x"), 159),
		bytes.Repeat([]byte("x"), 160),
		bytes.Repeat([]byte("x"), 161),
		bytes.Repeat([]byte("x"), 1000),
	}
	for _, pt := range cases {
		padded := Pad(pt)
		if (len(padded)+1)%padBlock != 0 {
			t.Fatalf("len(pad(%d)) = %d, not one less than a multiple of %d", len(pt), len(padded), padBlock)
		}
		got, err := Unpad(padded)
		if err != nil {
			t.Fatalf("unpad(pad(%d bytes)): %v", len(pt), err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("unpad(pad(x)) = %q, want %q", got, pt)
		}
	}
}

func TestUnpadRejectsMissingTerminator(t *testing.T) {
	buf := make([]byte, padBlock)
	if _, err := Unpad(buf); err != ErrInvalidPadding {
		t.Fatalf("expected ErrInvalidPadding, got %v", err)
	}
}

func TestUnpadRejectsGarbageAfterTerminator(t *testing.T) {
	buf := Pad([]byte("hi"))
	buf[len(buf)-1] = 0x01 // corrupt a trailing zero byte
	if _, err := Unpad(buf); err != ErrInvalidPadding {
		t.Fatalf("expected ErrInvalidPadding, got %v", err)
	}
}
