// Package bitio provides the low-level byte- and bit-level primitives
// shared by the h26x and mp4mux packages: a growable byte buffer and
// MSB-first bit readers/writers over RBSP data.
package bitio

// Buffer is an amortized-growth byte buffer, analogous to minimp4's
// internal vector type. Append never re-reads already-written bytes,
// so callers may hold slices into Bytes() only until the next Append.
type Buffer struct {
	buf []byte
}

// NewBuffer returns an empty buffer with the given initial capacity hint.
func NewBuffer(capHint int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capHint)}
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int { return len(b.buf) }

// Bytes returns the buffer's current contents. The slice is only valid
// until the next call to Append or Reset.
func (b *Buffer) Bytes() []byte { return b.buf }

// Append grows the buffer by len(p) bytes and copies p into it.
func (b *Buffer) Append(p []byte) {
	b.grow(len(p))
	b.buf = append(b.buf, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(v byte) {
	b.grow(1)
	b.buf = append(b.buf, v)
}

// AppendU16 appends a big-endian uint16.
func (b *Buffer) AppendU16(v uint16) {
	b.Append([]byte{byte(v >> 8), byte(v)})
}

// AppendU24 appends a big-endian 24-bit value.
func (b *Buffer) AppendU24(v uint32) {
	b.Append([]byte{byte(v >> 16), byte(v >> 8), byte(v)})
}

// AppendU32 appends a big-endian uint32.
func (b *Buffer) AppendU32(v uint32) {
	b.Append([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// AppendU64 appends a big-endian uint64.
func (b *Buffer) AppendU64(v uint64) {
	b.Append([]byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	})
}

// PatchU32 overwrites 4 bytes at offset with a big-endian uint32. Used
// to back-patch box sizes once their contents are known.
func (b *Buffer) PatchU32(offset int, v uint32) {
	b.buf[offset] = byte(v >> 24)
	b.buf[offset+1] = byte(v >> 16)
	b.buf[offset+2] = byte(v >> 8)
	b.buf[offset+3] = byte(v)
}

// Reset empties the buffer while keeping its backing array.
func (b *Buffer) Reset() { b.buf = b.buf[:0] }

// grow ensures room for n additional bytes, using the same
// amortized-doubling growth as minimp4_vector_realloc: new_cap =
// max(old*2+1024, old+needed+1024).
func (b *Buffer) grow(n int) {
	need := len(b.buf) + n
	if need <= cap(b.buf) {
		return
	}
	newCap := cap(b.buf)*2 + 1024
	if alt := cap(b.buf) + n + 1024; alt > newCap {
		newCap = alt
	}
	nb := make([]byte, len(b.buf), newCap)
	copy(nb, b.buf)
	b.buf = nb
}
