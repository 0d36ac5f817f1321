// Package writerseeker is an in-memory output sink for rendered videos.
package writerseeker

import (
	"bytes"
	"errors"
	"io"
)

// WriterSeeker is an in-memory io.WriteSeeker that can be
// read back through io.ReaderAt once writing is done.
type WriterSeeker struct {
	buf bytes.Buffer
	pos int
}

// Write writes to the buffer of this WriterSeeker instance.
func (ws *WriterSeeker) Write(p []byte) (n int, err error) {
	// Grow the buffer with null bytes if the offset is past the end.
	if extra := ws.pos - ws.buf.Len(); extra > 0 {
		if _, err := ws.buf.Write(make([]byte, extra)); err != nil {
			return n, err
		}
	}

	if ws.pos < ws.buf.Len() {
		n = copy(ws.buf.Bytes()[ws.pos:], p)
		p = p[n:]
	}

	if len(p) > 0 {
		var bn int
		bn, err = ws.buf.Write(p)
		n += bn
	}

	ws.pos += n
	return n, err
}

// ErrNegativeResultPos negative result pos.
var ErrNegativeResultPos = errors.New("negative result pos")

// Seek seeks in the buffer of this WriterSeeker instance.
func (ws *WriterSeeker) Seek(offset int64, whence int) (int64, error) {
	newPos, offs := 0, int(offset)
	switch whence {
	case io.SeekStart:
		newPos = offs
	case io.SeekCurrent:
		newPos = ws.pos + offs
	case io.SeekEnd:
		newPos = ws.buf.Len() + offs
	}
	if newPos < 0 {
		return 0, ErrNegativeResultPos
	}
	ws.pos = newPos
	return int64(newPos), nil
}

// ReadAt implements io.ReaderAt over the written bytes.
func (ws *WriterSeeker) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(ws.buf.Bytes()).ReadAt(p, off)
}

// Size returns the number of bytes written.
func (ws *WriterSeeker) Size() int64 {
	return int64(ws.buf.Len())
}

// Close :.
func (ws *WriterSeeker) Close() error {
	return nil
}

// Bytes returns the underlying byte slice.
func (ws *WriterSeeker) Bytes() []byte {
	return ws.buf.Bytes()
}
