package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadLineSplitsLosslessly(t *testing.T) {
	input := "first\nsecond\r\nthird\n"
	r := NewReader(strings.NewReader(input), 0)

	want := []string{"first", "second", "third"}
	for _, w := range want {
		got, err := r.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if got != w {
			t.Fatalf("ReadLine = %q, want %q", got, w)
		}
	}
}

func TestReadLineExactMaxAccepted(t *testing.T) {
	line := strings.Repeat("a", 64)
	r := NewReader(strings.NewReader(line+"\n"), 64)
	got, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if got != line {
		t.Fatalf("ReadLine length = %d, want %d", len(got), len(line))
	}
}

func TestReadLineOverMaxRejected(t *testing.T) {
	line := strings.Repeat("a", 65)
	r := NewReader(strings.NewReader(line+"\n"), 64)
	if _, err := r.ReadLine(); err != ErrFrameTooLarge {
		t.Fatalf("ReadLine err = %v, want ErrFrameTooLarge", err)
	}
}

func TestWriteLineSingleWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, "hello"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if buf.String() != "hello\n" {
		t.Fatalf("buf = %q, want %q", buf.String(), "hello\n")
	}
}

func TestHandshakeKeyRoundTrip(t *testing.T) {
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i)
	}
	line := EncodeHandshakeKey(pub)
	got, err := DecodeHandshakeKey(line)
	if err != nil {
		t.Fatalf("DecodeHandshakeKey: %v", err)
	}
	if got != pub {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeHandshakeKeyWrongSize(t *testing.T) {
	short := EncodeShortKeyForTest()
	if _, err := DecodeHandshakeKey(short); err != ErrInvalidFrame {
		t.Fatalf("err = %v, want ErrInvalidFrame", err)
	}
}

// EncodeShortKeyForTest encodes a non-32-byte payload to exercise the
// KeySize rejection path without exporting a non-32-byte encoder.
func EncodeShortKeyForTest() string {
	return EncodeHandshakeKey([32]byte{})[:8]
}

func TestEnvelopeRoundTrip(t *testing.T) {
	var nonce [12]byte
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	ciphertext := []byte("ciphertext-and-tag-bytes")
	line := EncodeEnvelope(nonce, ciphertext)

	gotNonce, gotCT, err := DecodeEnvelope(line)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if gotNonce != nonce {
		t.Fatalf("nonce mismatch")
	}
	if !bytes.Equal(gotCT, ciphertext) {
		t.Fatalf("ciphertext mismatch: got %q want %q", gotCT, ciphertext)
	}
}

func TestDecodeEnvelopeTooShort(t *testing.T) {
	// Six raw bytes, well under the 12-byte nonce floor.
	line := "AQIDBAUG"
	if _, _, err := DecodeEnvelope(line); err != ErrInvalidFrame {
		t.Fatalf("err = %v, want ErrInvalidFrame", err)
	}
}

func TestDecodeEnvelopeBadBase64(t *testing.T) {
	if _, _, err := DecodeEnvelope("not base64!!"); err != ErrInvalidFrame {
		t.Fatalf("err = %v, want ErrInvalidFrame", err)
	}
}
