package unsafehelpers

import "testing"

func TestBytesToStringRoundTrip(t *testing.T) {
	b := []byte("hello")
	if got := BytesToString(b); got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestBytesToStringEmpty(t *testing.T) {
	if got := BytesToString(nil); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}

func TestStringToBytesRoundTrip(t *testing.T) {
	s := "hello"
	b := StringToBytes(s)
	if string(b) != s {
		t.Fatalf("got %q, want %q", b, s)
	}
}

func TestStringToBytesEmpty(t *testing.T) {
	if got := StringToBytes(""); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
