package wal

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaybeCompressSkipsSmallValues(t *testing.T) {
	small := []byte("short value")
	out, compressed := MaybeCompress(true, small)
	if compressed {
		t.Fatal("expected no compression below threshold")
	}
	if !bytes.Equal(out, small) {
		t.Fatal("value mutated despite no compression")
	}
}

func TestMaybeCompressSkipsWhenDisabled(t *testing.T) {
	big := []byte(strings.Repeat("a", 1024))
	out, compressed := MaybeCompress(false, big)
	if compressed {
		t.Fatal("expected no compression when disabled")
	}
	if !bytes.Equal(out, big) {
		t.Fatal("value mutated despite compression disabled")
	}
}

func TestMaybeCompressRoundTripsLargeRepetitiveValue(t *testing.T) {
	original := []byte(strings.Repeat("entropykv", 200))
	encoded, compressed := MaybeCompress(true, original)
	if !compressed {
		t.Fatal("expected repetitive value above threshold to compress")
	}
	if len(encoded) >= len(original) {
		t.Fatalf("compressed size %d not smaller than original %d", len(encoded), len(original))
	}
	decoded, err := Decompress(encoded, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, original) {
		t.Fatal("round trip mismatch")
	}
}

func TestDecompressPassthroughWhenNotCompressed(t *testing.T) {
	original := []byte("plain value")
	out, err := Decompress(original, false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, original) {
		t.Fatal("expected passthrough for uncompressed value")
	}
}
