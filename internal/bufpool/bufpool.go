// Package bufpool provides pooled byte buffers for the WAL frame codec, so
// short-lived encode scratch space doesn't churn the GC-managed heap on
// every append. Every WAL append borrows a *bytes.Buffer, encodes the frame
// into it, writes it synchronously to the segment's buffered writer, and
// returns it once the frame bytes have been copied there.
//
// © 2025 entropykv authors. MIT License.
package bufpool

import (
	"bytes"
	"sync"
)

var pool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Get returns a reset, ready-to-use buffer.
func Get() *bytes.Buffer {
	buf := pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. Buffers that have grown unreasonably large are
// dropped instead of pooled, so one oversized value can't pin megabytes of
// scratch space forever.
func Put(buf *bytes.Buffer) {
	const maxPooled = 1 << 20 // 1 MiB
	if buf.Cap() > maxPooled {
		return
	}
	pool.Put(buf)
}
