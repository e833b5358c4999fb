// Package mp4io provides a minimal in-memory io.WriterAt/io.ReaderAt
// implementation for callers of mp4mux/mp4demux that don't want to back
// their container with a real file (tests, in-process pipelines, small
// clips assembled entirely in memory).
package mp4io

import (
	"io"

	"github.com/pkg/errors"
)

// MemFile is a growable in-memory buffer satisfying both io.WriterAt and
// io.ReaderAt, the two external-I/O interfaces mp4mux.Mux and
// mp4demux.Demux are built against.
type MemFile struct {
	buf []byte
}

// NewMemFile returns an empty MemFile with the given initial capacity
// hint.
func NewMemFile(capHint int) *MemFile {
	return &MemFile{buf: make([]byte, 0, capHint)}
}

// NewMemFileFromBytes wraps an existing byte slice for reading. The
// slice is used directly, not copied; callers that still hold a
// reference should treat it as owned by the MemFile from this point on.
func NewMemFileFromBytes(b []byte) *MemFile {
	return &MemFile{buf: b}
}

// WriteAt writes p at offset off, growing the buffer (zero-filling any
// gap) as needed. Implements io.WriterAt.
func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("mp4io: negative offset")
	}
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:end], p)
	return len(p), nil
}

// ReadAt reads into p starting at offset off. Implements io.ReaderAt.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the current contents. The slice aliases internal
// storage and is invalidated by the next WriteAt that grows the buffer.
func (f *MemFile) Bytes() []byte { return f.buf }

// Len reports the current size.
func (f *MemFile) Len() int { return len(f.buf) }
