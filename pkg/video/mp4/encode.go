package mp4

import (
	"fmt"
	"math"

	"osdrender/pkg/video/mp4/bitio"
)

// WriteBox writes a box with a 32 bit size header.
// The size is written as a placeholder and patched after the body.
func WriteBox(w *bitio.Writer, b Box) error {
	start := w.Pos()

	typ := b.Type()
	w.TryWriteUint32(0)
	w.TryWrite(typ[:])
	if w.TryError != nil {
		return w.TryError
	}

	if err := b.Marshal(w); err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if w.TryError != nil {
		return w.TryError
	}

	size := w.Pos() - start
	if size > math.MaxUint32 {
		return fmt.Errorf("%w: %s %d bytes", ErrBoxTooLarge, typ, size)
	}
	return w.PatchUint32(start, uint32(size))
}

// LargeBox is an open box with a 64 bit size header
// whose body is written by the caller.
type LargeBox struct {
	w     *bitio.Writer
	start int64
}

// StartLargeBox writes a 64 bit box header with a placeholder size.
func StartLargeBox(w *bitio.Writer, typ BoxType) (*LargeBox, error) {
	start := w.Pos()
	w.TryWriteUint32(1)
	w.TryWrite(typ[:])
	w.TryWriteUint64(0)
	if w.TryError != nil {
		return nil, w.TryError
	}
	return &LargeBox{w: w, start: start}, nil
}

// BodyOffset returns the offset of the first body byte.
func (b *LargeBox) BodyOffset() int64 {
	return b.start + 16
}

// Close patches the box size.
func (b *LargeBox) Close() error {
	return b.w.PatchUint64(b.start+8, uint64(b.w.Pos()-b.start))
}

// WriteLargeBox writes a box with a 64 bit size header.
func WriteLargeBox(w *bitio.Writer, b Box) error {
	lb, err := StartLargeBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := b.Marshal(w); err != nil {
		return fmt.Errorf("marshal %s: %w", b.Type(), err)
	}
	if w.TryError != nil {
		return w.TryError
	}
	return lb.Close()
}
