package osd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"osdrender/pkg/video/mp4/bitio"
)

// Frame is one OSD grid.
type Frame struct {
	FrameNumber uint32
	FrameSize   uint32
	FrameData   []uint16
}

// Code returns the code of cell (x, y) in a grid with rows rows.
// Cells outside the frame data are empty.
func (f *Frame) Code(x, y, rows int) uint16 {
	if x < 0 || y < 0 || y >= rows {
		return 0
	}
	i := x*rows + y
	if i >= len(f.FrameData) {
		return 0
	}
	return f.FrameData[i]
}

// Reader reads a capture frame by frame.
type Reader struct {
	in     *bitio.Reader
	header Header

	// Truncated is set when the last frame was cut short.
	Truncated bool
}

// NewReader reads the header.
func NewReader(in *bitio.Reader) (*Reader, error) {
	r := &Reader{in: in}
	if err := r.header.Unmarshal(in); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return r, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header {
	return r.header
}

// ReadFrame returns the next frame or io.EOF. A truncated
// final frame is reported as io.EOF and sets Truncated.
func (r *Reader) ReadFrame() (*Frame, error) {
	if r.in.EOF() {
		return nil, io.EOF
	}

	frame, err := r.readFrame()
	if errors.Is(err, bitio.ErrRange) {
		r.Truncated = true
		if err := r.in.Seek(r.in.Size()); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return frame, nil
}

func (r *Reader) readFrame() (*Frame, error) {
	var f Frame
	var err error
	if f.FrameNumber, err = r.in.ReadUint32LE(); err != nil {
		return nil, err
	}
	if f.FrameSize, err = r.in.ReadUint32LE(); err != nil {
		return nil, err
	}
	if int64(f.FrameSize)*2 > r.in.Remaining() {
		return nil, fmt.Errorf("%w: frame %d needs %d bytes",
			bitio.ErrRange, f.FrameNumber, int64(f.FrameSize)*2)
	}
	buf, err := r.in.ReadBytes(int(f.FrameSize) * 2)
	if err != nil {
		return nil, err
	}
	f.FrameData = make([]uint16, f.FrameSize)
	for i := range f.FrameData {
		f.FrameData[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return &f, nil
}

// ReadAllFrames reads and returns every complete frame.
func (r *Reader) ReadAllFrames() ([]Frame, error) {
	var frames []Frame
	for {
		f, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, *f)
	}
}

// Decode reads a whole capture from r.
func Decode(r io.Reader) (*Header, []Frame, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read capture: %w", err)
	}
	reader, err := NewReader(bitio.NewBytesReader(buf))
	if err != nil {
		return nil, nil, err
	}
	frames, err := reader.ReadAllFrames()
	if err != nil {
		return nil, nil, err
	}
	header := reader.Header()
	return &header, frames, nil
}
