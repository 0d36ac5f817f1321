package bitio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultWindowSize is the default size of the read window.
const DefaultWindowSize = 1 << 20

// ErrRange is returned when a read or seek goes past the end of the source.
var ErrRange = errors.New("out of range")

// Reader is a buffered random access reader over a large source.
// Only one window of the source is held in memory at a time.
type Reader struct {
	src  io.ReaderAt
	size int64
	pos  int64

	window      []byte
	windowStart int64
	windowLen   int

	// TryError holds the first error occurred in TryXXX() methods.
	TryError error
}

// NewReader returns a new Reader. A windowSize of zero uses DefaultWindowSize.
func NewReader(src io.ReaderAt, size int64, windowSize int) *Reader {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Reader{
		src:    src,
		size:   size,
		window: make([]byte, windowSize),
	}
}

// NewBytesReader returns a Reader over an in-memory buffer.
func NewBytesReader(buf []byte) *Reader {
	return NewReader(bytes.NewReader(buf), int64(len(buf)), len(buf)+1)
}

// Pos returns the current offset.
func (r *Reader) Pos() int64 {
	return r.pos
}

// Size returns the size of the source.
func (r *Reader) Size() int64 {
	return r.size
}

// Remaining returns the number of bytes after the current offset.
func (r *Reader) Remaining() int64 {
	return r.size - r.pos
}

// EOF reports whether the current offset is at the end of the source.
func (r *Reader) EOF() bool {
	return r.pos >= r.size
}

// Seek moves to the absolute offset.
func (r *Reader) Seek(offset int64) error {
	if offset < 0 || offset > r.size {
		return fmt.Errorf("%w: seek to %d, size %d", ErrRange, offset, r.size)
	}
	r.pos = offset
	return nil
}

// Skip moves n bytes forward.
func (r *Reader) Skip(n int64) error {
	return r.Seek(r.pos + n)
}

func (r *Reader) inWindow(n int) bool {
	return r.windowLen > 0 &&
		r.pos >= r.windowStart &&
		r.pos+int64(n) <= r.windowStart+int64(r.windowLen)
}

// fill loads the window containing the current offset.
// The window start is aligned to the window size unless
// the request would straddle the window boundary.
func (r *Reader) fill(n int) error {
	ws := int64(len(r.window))
	start := r.pos - r.pos%ws
	if r.pos+int64(n) > start+ws {
		start = r.pos
	}
	length := ws
	if start+length > r.size {
		length = r.size - start
	}

	read, err := r.src.ReadAt(r.window[:length], start)
	if int64(read) < length {
		r.windowLen = 0
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read window at %d: %w", start, err)
	}
	r.windowStart = start
	r.windowLen = read
	return nil
}

// peek returns the next n bytes without advancing.
// The returned slice may alias the window.
func (r *Reader) peek(n int) ([]byte, error) {
	if n < 0 || r.pos+int64(n) > r.size {
		return nil, fmt.Errorf("%w: read %d bytes at %d, size %d", ErrRange, n, r.pos, r.size)
	}
	if n == 0 {
		return nil, nil
	}
	if n > len(r.window) {
		buf := make([]byte, n)
		read, err := r.src.ReadAt(buf, r.pos)
		if read < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read at %d: %w", r.pos, err)
		}
		return buf, nil
	}
	if !r.inWindow(n) {
		if err := r.fill(n); err != nil {
			return nil, err
		}
	}
	off := int(r.pos - r.windowStart)
	return r.window[off : off+n], nil
}

func (r *Reader) next(n int) ([]byte, error) {
	b, err := r.peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return b, nil
}

// ReadUint8 reads 8 bits.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads 16 bits.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint24 reads 24 bits.
func (r *Reader) ReadUint24() (uint32, error) {
	b, err := r.next(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadUint32 reads 32 bits.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 reads 64 bits.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadUint16LE reads 16 bits little-endian.
func (r *Reader) ReadUint16LE() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32LE reads 32 bits little-endian.
func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadBytes reads n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadString reads a fixed n byte string and trims trailing NULs.
func (r *Reader) ReadString(n int) (string, error) {
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(b, "\x00")), nil
}

// ReadCString reads a NUL terminated string of at most max bytes
// including the terminator. A string that reaches max without
// a terminator is returned as is.
func (r *Reader) ReadCString(max int) (string, error) {
	var out []byte
	for i := 0; i < max; i++ {
		c, err := r.ReadUint8()
		if err != nil {
			return "", err
		}
		if c == 0 {
			break
		}
		out = append(out, c)
	}
	return string(out), nil
}

// TryReadUint8 tries to read 8 bits.
func (r *Reader) TryReadUint8() uint8 {
	if r.TryError != nil {
		return 0
	}
	v, err := r.ReadUint8()
	r.TryError = err
	return v
}

// TryReadUint16 tries to read 16 bits.
func (r *Reader) TryReadUint16() uint16 {
	if r.TryError != nil {
		return 0
	}
	v, err := r.ReadUint16()
	r.TryError = err
	return v
}

// TryReadUint24 tries to read 24 bits.
func (r *Reader) TryReadUint24() uint32 {
	if r.TryError != nil {
		return 0
	}
	v, err := r.ReadUint24()
	r.TryError = err
	return v
}

// TryReadUint32 tries to read 32 bits.
func (r *Reader) TryReadUint32() uint32 {
	if r.TryError != nil {
		return 0
	}
	v, err := r.ReadUint32()
	r.TryError = err
	return v
}

// TryReadUint64 tries to read 64 bits.
func (r *Reader) TryReadUint64() uint64 {
	if r.TryError != nil {
		return 0
	}
	v, err := r.ReadUint64()
	r.TryError = err
	return v
}

// TryReadBytes tries to read n bytes.
func (r *Reader) TryReadBytes(n int) []byte {
	if r.TryError != nil {
		return nil
	}
	v, err := r.ReadBytes(n)
	r.TryError = err
	return v
}

// TryRead tries to fill p.
func (r *Reader) TryRead(p []byte) {
	if r.TryError != nil {
		return
	}
	b, err := r.next(len(p))
	if err != nil {
		r.TryError = err
		return
	}
	copy(p, b)
}

// TryReadCString tries to read a NUL terminated string.
func (r *Reader) TryReadCString(max int) string {
	if r.TryError != nil {
		return ""
	}
	v, err := r.ReadCString(max)
	r.TryError = err
	return v
}
