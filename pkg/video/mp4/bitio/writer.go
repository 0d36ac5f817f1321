package bitio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Writer is a buffered sequential writer that can seek
// back to patch fields that are only known later.
type Writer struct {
	out  io.WriteSeeker
	buf  *bufio.Writer
	pos  int64
	size int64

	// TryError holds the first error occurred in TryXXX() methods.
	TryError error
}

// NewWriter returns a new Writer using the specified io.WriteSeeker as the output.
// Offsets are absolute positions in out.
func NewWriter(out io.WriteSeeker) (*Writer, error) {
	pos, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("current position: %w", err)
	}
	return &Writer{
		out:  out,
		buf:  bufio.NewWriterSize(out, 64*1024),
		pos:  pos,
		size: pos,
	}, nil
}

// Pos returns the current offset.
func (w *Writer) Pos() int64 {
	return w.pos
}

// Size returns the highest offset written so far.
func (w *Writer) Size() int64 {
	return w.size
}

func (w *Writer) advance(n int) {
	w.pos += int64(n)
	if w.pos > w.size {
		w.size = w.pos
	}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.advance(n)
	return n, err
}

// WriteByte implements io.ByteWriter.
func (w *Writer) WriteByte(b byte) error {
	err := w.buf.WriteByte(b)
	if err == nil {
		w.advance(1)
	}
	return err
}

// WriteUint8 writes 8 bits.
func (w *Writer) WriteUint8(r uint8) error {
	return w.WriteByte(r)
}

// WriteUint16 writes 16 bits.
func (w *Writer) WriteUint16(r uint16) error {
	_, err := w.Write([]byte{
		byte(r >> 8),
		byte(r),
	})
	return err
}

// WriteUint24 writes 24 bits.
func (w *Writer) WriteUint24(r uint32) error {
	_, err := w.Write([]byte{
		byte(r >> 16),
		byte(r >> 8),
		byte(r),
	})
	return err
}

// WriteUint32 writes 32 bits.
func (w *Writer) WriteUint32(r uint32) error {
	_, err := w.Write([]byte{
		byte(r >> 24),
		byte(r >> 16),
		byte(r >> 8),
		byte(r),
	})
	return err
}

// WriteUint64 writes 64 bits.
func (w *Writer) WriteUint64(r uint64) error {
	_, err := w.Write([]byte{
		byte(r >> 56),
		byte(r >> 48),
		byte(r >> 40),
		byte(r >> 32),
		byte(r >> 24),
		byte(r >> 16),
		byte(r >> 8),
		byte(r),
	})
	return err
}

// WriteUint16LE writes 16 bits little-endian.
func (w *Writer) WriteUint16LE(r uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], r)
	_, err := w.Write(b[:])
	return err
}

// WriteUint32LE writes 32 bits little-endian.
func (w *Writer) WriteUint32LE(r uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], r)
	_, err := w.Write(b[:])
	return err
}

// WriteString writes s into a fixed n byte field padded with NULs.
func (w *Writer) WriteString(s string, n int) error {
	b := make([]byte, n)
	copy(b, s)
	_, err := w.Write(b)
	return err
}

// WriteCString writes s followed by a NUL character.
func (w *Writer) WriteCString(s string) error {
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	return w.WriteByte(0)
}

// ErrNegativeOffset negative offset.
var ErrNegativeOffset = errors.New("negative offset")

// Seek flushes pending bytes and moves to the absolute offset.
func (w *Writer) Seek(offset int64) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if _, err := w.out.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	w.pos = offset
	return nil
}

// PatchUint32 overwrites 32 bits at offset and returns to the current position.
func (w *Writer) PatchUint32(offset int64, r uint32) error {
	prev := w.pos
	if err := w.Seek(offset); err != nil {
		return err
	}
	if err := w.WriteUint32(r); err != nil {
		return err
	}
	return w.Seek(prev)
}

// PatchUint64 overwrites 64 bits at offset and returns to the current position.
func (w *Writer) PatchUint64(offset int64, r uint64) error {
	prev := w.pos
	if err := w.Seek(offset); err != nil {
		return err
	}
	if err := w.WriteUint64(r); err != nil {
		return err
	}
	return w.Seek(prev)
}

// Flush writes buffered data to the output.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// TryWrite tries to write len(p) bytes.
func (w *Writer) TryWrite(p []byte) {
	if w.TryError == nil {
		_, w.TryError = w.Write(p)
	}
}

// TryWriteByte tries to write 1 byte.
func (w *Writer) TryWriteByte(b byte) {
	if w.TryError == nil {
		w.TryError = w.WriteByte(b)
	}
}

// TryWriteUint16 tries to write 16 bits.
func (w *Writer) TryWriteUint16(r uint16) {
	if w.TryError == nil {
		w.TryError = w.WriteUint16(r)
	}
}

// TryWriteUint24 tries to write 24 bits.
func (w *Writer) TryWriteUint24(r uint32) {
	if w.TryError == nil {
		w.TryError = w.WriteUint24(r)
	}
}

// TryWriteUint32 tries to write 32 bits.
func (w *Writer) TryWriteUint32(r uint32) {
	if w.TryError == nil {
		w.TryError = w.WriteUint32(r)
	}
}

// TryWriteUint64 tries to write 64 bits.
func (w *Writer) TryWriteUint64(r uint64) {
	if w.TryError == nil {
		w.TryError = w.WriteUint64(r)
	}
}

// TryWriteString tries to write a fixed size string.
func (w *Writer) TryWriteString(s string, n int) {
	if w.TryError == nil {
		w.TryError = w.WriteString(s, n)
	}
}

// TryWriteCString tries to write a NUL terminated string.
func (w *Writer) TryWriteCString(s string) {
	if w.TryError == nil {
		w.TryError = w.WriteCString(s)
	}
}
