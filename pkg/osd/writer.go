package osd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Writer writes captures, frames must be written in order. Nothing
// in the renderer records telemetry, Writer builds test fixtures.
type Writer struct {
	out  io.Writer
	prev uint32
	n    int
}

// NewWriter creates a new Writer and writes the header.
func NewWriter(out io.Writer, header Header) (*Writer, error) {
	if _, err := out.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{out: out}, nil
}

// ErrFrameOrder frames must have increasing frame numbers.
var ErrFrameOrder = errors.New("frame number is lower than the previous frame")

// WriteFrame writes a single frame.
func (w *Writer) WriteFrame(frameNumber uint32, codes []uint16) error {
	if w.n != 0 && frameNumber < w.prev {
		return fmt.Errorf("%w: %d < %d", ErrFrameOrder, frameNumber, w.prev)
	}

	buf := make([]byte, 8+len(codes)*2)
	binary.LittleEndian.PutUint32(buf[0:4], frameNumber)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(codes)))
	for i, code := range codes {
		binary.LittleEndian.PutUint16(buf[8+i*2:], code)
	}
	if _, err := w.out.Write(buf); err != nil {
		return err
	}
	w.prev = frameNumber
	w.n++
	return nil
}
