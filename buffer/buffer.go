// Package buffer provides the capacity-bounded byte region handed to function handlers.
package buffer

// Buffer owns a fixed-capacity byte array with an explicit logical length.
//
// The writable view always spans the full capacity, so callers may write raw
// bytes and then declare how many of them are valid with SetLength. Capacity
// never changes after allocation.
type Buffer struct {
	data   []byte
	length int
}

// Allocate creates a buffer with the given capacity and zero length.
func Allocate(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{data: make([]byte, size)}
}

// Wrap creates a buffer over p whose capacity and length are both len(p).
// The buffer takes ownership of p.
func Wrap(p []byte) *Buffer {
	return &Buffer{data: p, length: len(p)}
}

// FromString allocates a buffer holding s.
func FromString(s string) *Buffer {
	return Wrap([]byte(s))
}

// Len returns the logical length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.length
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Writable returns the mutable view over [0, Cap()).
func (b *Buffer) Writable() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Readable returns the view over [0, Len()).
func (b *Buffer) Readable() []byte {
	if b == nil {
		return nil
	}
	return b.data[:b.length]
}

// Bytes returns a copy of the readable bytes.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.Len())
	copy(out, b.Readable())
	return out
}

// String returns the readable bytes as text.
func (b *Buffer) String() string {
	return string(b.Readable())
}

// SetLength declares how many bytes of the writable view are valid.
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > b.Cap() {
		return &RangeError{Requested: n, Capacity: b.Cap()}
	}
	b.length = n
	return nil
}

// Append copies p after the current length. Nothing is written if p does not fit.
func (b *Buffer) Append(p []byte) error {
	end := b.Len() + len(p)
	if end > b.Cap() {
		return &RangeError{Requested: end, Capacity: b.Cap()}
	}
	copy(b.data[b.length:end], p)
	b.length = end
	return nil
}

// WriteAt copies p at pos and extends the length to cover the written range.
func (b *Buffer) WriteAt(p []byte, pos int) (int, error) {
	if pos < 0 {
		return 0, &RangeError{Requested: pos, Capacity: b.Cap()}
	}
	end := pos + len(p)
	if end > b.Cap() {
		return 0, &RangeError{Requested: end, Capacity: b.Cap()}
	}
	n := copy(b.data[pos:end], p)
	if end > b.length {
		b.length = end
	}
	return n, nil
}

// Write appends p, implementing io.Writer so encoders can stream into a buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Reset sets the length back to zero. Capacity and contents are kept.
func (b *Buffer) Reset() {
	if b != nil {
		b.length = 0
	}
}
