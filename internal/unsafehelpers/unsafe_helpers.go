// Package unsafehelpers centralises all unavoidable usage of the `unsafe`
// standard library package so that the rest of entropykv stays clean and
// easy to audit. Every helper is documented with clear pre-/post-conditions.
//
// DISCLAIMER: these helpers deliberately bypass Go's normal safety checks for
// zero-allocation conversions. Use only inside this repository.
//
// © 2025 entropykv authors. MIT License.

package unsafehelpers

import "unsafe"

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee that b is never modified for the lifetime of the
// returned string — entropykv only calls this on keys that are about to be
// used solely as a map lookup key and then discarded.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes re-interprets string data as a byte slice without copying.
// The returned slice MUST remain read-only: writing to it mutates immutable
// string storage and is undefined behavior.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	strHdr := (*[2]uintptr)(unsafe.Pointer(&s))
	return unsafe.Slice((*byte)(unsafe.Pointer(strHdr[0])), strHdr[1])
}
