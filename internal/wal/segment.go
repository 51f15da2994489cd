package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/entropykv/entropykv/internal/bufpool"
)

// FormatVersion is bumped whenever the on-disk frame or header layout
// changes incompatibly (spec §6: "considered a stable on-disk contract").
const FormatVersion uint32 = 1

// segmentHeaderLen: magic(4) + format_version(4) + seq_base(8) + creation_ns(8) + reserved(8)
const segmentHeaderLen = 4 + 4 + 8 + 8 + 8

// trailerMagic marks a sealed segment's trailer record.
const trailerMagic uint32 = 0x57415054 // "WAPT"

// SegmentName returns the canonical file name for a segment with the given
// sequence base: NNNNNNNN.wal, zero-padded to 8 digits (spec §4.4).
func SegmentName(seqBase uint64) string {
	return fmt.Sprintf("%08d.wal", seqBase)
}

// Segment is one WAL file: append-only while active, immutable once sealed.
type Segment struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *bufio.Writer
	seqBase  uint64
	offset   int64 // bytes written so far, including header
	sealed   bool
	lastSeq  uint64
}

// CreateSegment creates a brand new segment file in dir with the given
// sequence base, writes its header, and returns it ready for appends.
func CreateSegment(dir string, seqBase uint64) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, SegmentName(seqBase))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment: %w", err)
	}

	hdr := make([]byte, segmentHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:], Magic)
	binary.LittleEndian.PutUint32(hdr[4:], FormatVersion)
	binary.LittleEndian.PutUint64(hdr[8:], seqBase)
	binary.LittleEndian.PutUint64(hdr[16:], uint64(time.Now().UnixNano()))
	// hdr[24:32] reserved, left zero.
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: write segment header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: fsync segment header: %w", err)
	}

	return &Segment{
		path:    path,
		file:    f,
		writer:  bufio.NewWriterSize(f, 64<<10),
		seqBase: seqBase,
		offset:  int64(segmentHeaderLen),
		lastSeq: seqBase - 1,
	}, nil
}

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// SeqBase returns the segment's starting sequence number.
func (s *Segment) SeqBase() uint64 { return s.seqBase }

// Sealed reports whether Seal has been called.
func (s *Segment) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Size returns the number of bytes written so far (header + frames).
func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Append encodes and writes a frame. It never straddles segments: callers in
// internal/shard decide whether to rotate *before* calling Append. Append
// does not fsync; callers control durability via Sync per the configured
// mode (async/grouped/sync, spec §4.3).
func (s *Segment) Append(f *Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return 0, fmt.Errorf("wal: segment %s is sealed", s.path)
	}
	if f.Seq <= s.lastSeq {
		return 0, fmt.Errorf("wal: out-of-order seq %d (last %d)", f.Seq, s.lastSeq)
	}
	scratch := bufpool.Get()
	defer bufpool.Put(scratch)
	buf := Encode(scratch.Bytes(), f)
	n, err := s.writer.Write(buf)
	if err != nil {
		return n, fmt.Errorf("wal: append: %w", err)
	}
	s.offset += int64(n)
	s.lastSeq = f.Seq
	return n, nil
}

// Sync flushes buffered frames and fsyncs the file.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Segment) syncLocked() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Seal writes a trailer record, fsyncs, and marks the segment immutable.
// A sealed segment may no longer be appended to.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil
	}
	trailer := make([]byte, 16)
	binary.LittleEndian.PutUint32(trailer[0:], trailerMagic)
	binary.LittleEndian.PutUint64(trailer[4:], s.lastSeq)
	crc := crc32.Checksum(trailer[:12], castagnoli)
	binary.LittleEndian.PutUint32(trailer[12:], crc)
	if _, err := s.writer.Write(trailer); err != nil {
		return fmt.Errorf("wal: write trailer: %w", err)
	}
	s.offset += int64(len(trailer))
	if err := s.syncLocked(); err != nil {
		return err
	}
	s.sealed = true
	return s.file.Close()
}

// Close releases the underlying file handle without sealing (used when
// abandoning a segment on shutdown; the active segment on restart is simply
// replayed and a fresh one opened per spec §4.8).
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil
	}
	_ = s.syncLocked()
	return s.file.Close()
}
