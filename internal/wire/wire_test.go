package wire

import (
	"bytes"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1 << 20, 1 << 40}
	for _, v := range cases {
		var buf bytes.Buffer
		if err := WriteUvarint(&buf, v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		got, err := ReadUvarint(&buf)
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestUvarintContinuationBytes(t *testing.T) {
	// 300 = 0b1_0010_1100 -> low 7 bits 0x2c with continuation, then 0x02
	var buf bytes.Buffer
	if err := WriteUvarint(&buf, 300); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xac, 0x02}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x want % x", buf.Bytes(), want)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello world, this is a blob")
	if err := WriteBlob(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := ReadBlob(&buf, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestBlobEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBlob(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadBlob(&buf, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty blob, got %v", got)
	}
}

func TestBlobTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBlob(&buf, make([]byte, 2000)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadBlob(&buf, 100); err != ErrBlobTooLarge {
		t.Fatalf("expected ErrBlobTooLarge, got %v", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	const s = "Hello world!"
	if err := WriteString(&buf, s); err != nil {
		t.Fatal(err)
	}
	got, err := ReadString(&buf, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Fatalf("got %q want %q", got, s)
	}
}

func TestRawRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0x5a}, 256)
	if err := WriteRaw(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRaw(&buf, 256)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("raw round trip mismatch")
	}
}

func TestReadRawShort(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 10))
	if _, err := ReadRaw(&buf, 256); err == nil {
		t.Fatal("expected short read error")
	}
}
