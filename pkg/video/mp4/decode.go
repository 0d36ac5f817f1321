package mp4

import (
	"fmt"

	"osdrender/pkg/video/mp4/bitio"
)

// LogFunc receives non-fatal decoder diagnostics.
type LogFunc func(format string, a ...interface{})

// Decoder decodes boxes from a bitio.Reader.
type Decoder struct {
	*bitio.Reader
	logf LogFunc
}

// NewDecoder returns a new Decoder. logf may be nil.
func NewDecoder(r *bitio.Reader, logf LogFunc) *Decoder {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Decoder{Reader: r, logf: logf}
}

// ReadHeader reads a box header at the current offset.
func (d *Decoder) ReadHeader() (*Header, error) {
	h := &Header{
		Start:      d.Pos(),
		HeaderSize: 8,
	}

	size, err := d.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("read size: %w", err)
	}
	if err := d.readType(&h.Type); err != nil {
		return nil, fmt.Errorf("read type: %w", err)
	}

	switch size {
	case 0:
		// Box extends to the end of the stream.
		h.Size = uint64(d.Size() - h.Start)
	case 1:
		largeSize, err := d.ReadUint64()
		if err != nil {
			return nil, fmt.Errorf("read large size: %w", err)
		}
		h.Size = largeSize
		h.HeaderSize = 16
	default:
		h.Size = uint64(size)
	}

	if h.Size < uint64(h.HeaderSize) {
		return nil, fmt.Errorf("%w: %s size %d smaller than header",
			ErrStreamFormat, h.Type, h.Size)
	}
	h.End = h.Start + int64(h.Size)
	if h.End > d.Size() {
		return nil, fmt.Errorf("%w: %s at %d extends past end of stream",
			ErrStreamFormat, h.Type, h.Start)
	}
	return h, nil
}

func (d *Decoder) readType(typ *BoxType) error {
	b, err := d.ReadBytes(4)
	if err != nil {
		return err
	}
	copy(typ[:], b)
	return nil
}

// DecodeBox reads one box including its children.
// Unknown box types are returned as *Unknown.
func (d *Decoder) DecodeBox() (Box, *Header, error) {
	h, err := d.ReadHeader()
	if err != nil {
		return nil, nil, err
	}

	box, known := newBox(h.Type)
	if !known {
		d.logf("unknown box %q at offset %d, skipping %d bytes", h.Type, h.Start, h.Size)
	}

	d.TryError = nil
	if err := box.Unmarshal(d, h); err != nil {
		return nil, nil, fmt.Errorf("unmarshal %s: %w", h.Type, err)
	}

	pos := d.Pos()
	switch {
	case pos < h.End:
		d.logf("box %q at offset %d: %d bytes not consumed", h.Type, h.Start, h.End-pos)
		if err := d.Seek(h.End); err != nil {
			return nil, nil, err
		}
	case pos > h.End:
		return nil, nil, fmt.Errorf("%w: %s at offset %d overran by %d bytes",
			ErrStreamFormat, h.Type, h.Start, pos-h.End)
	}
	return box, h, nil
}

// DecodeChildren decodes boxes until the end of the parent.
func (d *Decoder) DecodeChildren(c *Container, parent *Header) error {
	for d.Pos() < parent.End {
		if parent.End-d.Pos() < 8 {
			d.logf("box %q: %d trailing bytes", parent.Type, parent.End-d.Pos())
			return d.Seek(parent.End)
		}
		child, _, err := d.DecodeBox()
		if err != nil {
			return err
		}
		c.Add(child)
	}
	return nil
}

// remaining returns the number of unread body bytes.
func (d *Decoder) remaining(h *Header) int64 {
	return h.End - d.Pos()
}
