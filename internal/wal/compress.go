package wal

import "github.com/klauspost/compress/s2"

// compressThreshold is the minimum value size before we bother running S2.
// Small values cost more to compress than they save on disk.
const compressThreshold = 256

// MaybeCompress implements frame flags bit0 (spec §4.4: "bit0 compression
// reserved"). It returns the (possibly) compressed value and whether
// compression was applied; the caller sets Frame.Compressed accordingly.
func MaybeCompress(enabled bool, value []byte) ([]byte, bool) {
	if !enabled || len(value) < compressThreshold {
		return value, false
	}
	encoded := s2.Encode(nil, value)
	if len(encoded) >= len(value) {
		return value, false // not worth it
	}
	return encoded, true
}

// Decompress reverses MaybeCompress for a frame read off disk.
func Decompress(value []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return value, nil
	}
	return s2.Decode(nil, value)
}
