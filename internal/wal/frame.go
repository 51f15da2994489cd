// Package wal implements the per-shard write-ahead log: framed, checksummed,
// append-only segment files with rotation and crash-safe replay.
//
// Frame layout (binary, little-endian) is a stable on-disk contract — see
// spec §4.4. Changing it requires a format_version bump (FormatVersion)
// and a conversion path; this package never changes it silently.
//
// © 2025 entropykv authors. MIT License.
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Op identifies the mutation a WalFrame represents.
type Op uint8

const (
	OpPut             Op = 1
	OpDelete          Op = 2
	OpMigrationPut    Op = 3
	OpMigrationDelete Op = 4
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpMigrationPut:
		return "migration_put"
	case OpMigrationDelete:
		return "migration_delete"
	default:
		return "unknown"
	}
}

// Frame flag bits.
const (
	flagCompressed  uint8 = 1 << 0 // bit0: value is S2-compressed
	flagMigrationID uint8 = 1 << 1 // bit1: MigrationID field present
)

// Magic identifies an entropykv WAL frame stream: "WAP1".
const Magic uint32 = 0x57415031

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrFrameCorrupt indicates a frame failed its crc32c check. Recovery treats
// this as "truncate here and stop", never as a fatal error.
var ErrFrameCorrupt = errors.New("wal: frame checksum mismatch")

// ErrFrameTruncated indicates fewer bytes were available than the frame's
// declared lengths require — i.e. a partially-written trailing frame.
var ErrFrameTruncated = errors.New("wal: frame truncated")

// Frame is one WAL record: the atomic unit of durability.
type Frame struct {
	Seq         uint64
	Op          Op
	TimestampNs uint64
	MigrationID uint64 // valid only when HasMigration
	HasMigration bool
	Key         []byte
	Value       []byte // compressed when Compressed; Decode leaves it so, Decompress expands it
	Compressed  bool
}

// baseHeaderLen is the fixed-size prefix before key/value bytes:
// magic(4) + seq(8) + op(1) + flags(1) + ts(8) + key_len(4) + value_len(4) [+ migration_id(8)]
const baseHeaderLen = 4 + 8 + 1 + 1 + 8 + 4 + 4

// Encode appends the binary representation of f to dst and returns the
// extended slice. It never compresses: the caller compresses f.Value and sets
// f.Compressed beforehand (see MaybeCompress), so this file stays free of
// codec policy.
func Encode(dst []byte, f *Frame) []byte {
	flags := uint8(0)
	if f.Compressed {
		flags |= flagCompressed
	}
	if f.HasMigration {
		flags |= flagMigrationID
	}

	headerLen := baseHeaderLen
	if f.HasMigration {
		headerLen += 8
	}
	start := len(dst)
	dst = append(dst, make([]byte, headerLen)...)

	binary.LittleEndian.PutUint32(dst[start:], Magic)
	binary.LittleEndian.PutUint64(dst[start+4:], f.Seq)
	dst[start+12] = byte(f.Op)
	dst[start+13] = flags
	binary.LittleEndian.PutUint64(dst[start+14:], f.TimestampNs)
	binary.LittleEndian.PutUint32(dst[start+22:], uint32(len(f.Key)))
	binary.LittleEndian.PutUint32(dst[start+26:], uint32(len(f.Value)))
	off := start + 30
	if f.HasMigration {
		binary.LittleEndian.PutUint64(dst[off:], f.MigrationID)
		off += 8
	}

	dst = append(dst, f.Key...)
	dst = append(dst, f.Value...)

	sum := crc32.Checksum(dst[start:], castagnoli)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	dst = append(dst, crcBuf[:]...)
	return dst
}

// Decode reads exactly one frame from the front of src. It returns the frame,
// the number of bytes consumed, and an error. ErrFrameTruncated means src did
// not contain a full frame (caller should stop, not skip). ErrFrameCorrupt
// means the frame magic was wrong, or a full frame was present but its crc32c
// did not match (caller should truncate the segment at this offset and stop).
func Decode(src []byte) (*Frame, int, error) {
	if len(src) < baseHeaderLen {
		return nil, 0, ErrFrameTruncated
	}
	magic := binary.LittleEndian.Uint32(src)
	if magic != Magic {
		return nil, 0, ErrFrameCorrupt
	}
	f := &Frame{}
	f.Seq = binary.LittleEndian.Uint64(src[4:])
	f.Op = Op(src[12])
	flags := src[13]
	f.Compressed = flags&flagCompressed != 0
	f.HasMigration = flags&flagMigrationID != 0
	f.TimestampNs = binary.LittleEndian.Uint64(src[14:])
	keyLen := binary.LittleEndian.Uint32(src[22:])
	valLen := binary.LittleEndian.Uint32(src[26:])

	headerLen := baseHeaderLen
	off := 30
	if f.HasMigration {
		headerLen += 8
		if len(src) < off+8 {
			return nil, 0, ErrFrameTruncated
		}
		f.MigrationID = binary.LittleEndian.Uint64(src[off:])
		off += 8
	}

	total := headerLen + int(keyLen) + int(valLen) + 4 // +crc32c
	if len(src) < total {
		return nil, 0, ErrFrameTruncated
	}

	keyStart := off
	keyEnd := keyStart + int(keyLen)
	valEnd := keyEnd + int(valLen)

	wantSum := crc32.Checksum(src[:valEnd], castagnoli)
	gotSum := binary.LittleEndian.Uint32(src[valEnd:])
	if wantSum != gotSum {
		return nil, 0, ErrFrameCorrupt
	}

	f.Key = append([]byte(nil), src[keyStart:keyEnd]...)
	f.Value = append([]byte(nil), src[keyEnd:valEnd]...)
	return f, total, nil
}
