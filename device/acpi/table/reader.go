package table

import "encoding/binary"

// Reader is a little-endian cursor over an immutable byte slice. Reads that
// would run past the end of the slice return zero values and set a sticky
// truncation flag that callers can inspect after decoding a structure.
type Reader struct {
	data      []byte
	offset    int
	truncated bool
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) Reader {
	return Reader{data: data}
}

// take returns the next n bytes and advances the cursor or returns nil and
// flags the reader as truncated if fewer than n bytes remain.
func (r *Reader) take(n int) []byte {
	if n < 0 || r.Remaining() < n {
		r.truncated = true
		r.offset = len(r.data)
		return nil
	}

	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Bytes copies the next len(dst) bytes into dst. On truncation dst is left
// untouched.
func (r *Reader) Bytes(dst []byte) {
	if b := r.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int {
	return r.offset
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Truncated returns true if any read ran past the end of the data.
func (r *Reader) Truncated() bool {
	return r.truncated
}
