package mp4

import (
	"errors"
	"fmt"

	"osdrender/pkg/video/mp4/bitio"
)

// Errors.
var (
	ErrStreamFormat       = errors.New("invalid stream format")
	ErrBoxMissing         = fmt.Errorf("%w: required box missing", ErrStreamFormat)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported box version", ErrStreamFormat)
	ErrMultipleChunks     = fmt.Errorf("%w: more than one chunk", ErrStreamFormat)
	ErrBoxTooLarge        = errors.New("box too large for 32 bit size")
)

// BoxType is mpeg box type.
type BoxType [4]byte

// StrToBoxType converts a four character string to a BoxType.
func StrToBoxType(code string) BoxType {
	var typ BoxType
	copy(typ[:], code)
	return typ
}

func (t BoxType) String() string {
	return string(t[:])
}

// Box is common interface of box.
type Box interface {
	// Type returns the BoxType.
	Type() BoxType

	// Unmarshal box body from decoder. The header has already been read.
	Unmarshal(d *Decoder, h *Header) error

	// Marshal box body to writer.
	Marshal(w *bitio.Writer) error
}

// Header is the decoded box header.
type Header struct {
	Type       BoxType
	Size       uint64
	Start      int64 // Offset of the first header byte.
	End        int64 // Offset after the last body byte.
	HeaderSize int
}

// BodySize returns the size of the box body.
func (h *Header) BodySize() int64 {
	return h.End - h.Start - int64(h.HeaderSize)
}

var registry = map[BoxType]func() Box{}

// Register adds a box implementation to the decoder registry.
func Register(factory func() Box) {
	registry[factory().Type()] = factory
}

func newBox(typ BoxType) (Box, bool) {
	factory, exist := registry[typ]
	if !exist {
		return &Unknown{BoxType: typ}, false
	}
	return factory(), true
}

func init() {
	for _, factory := range []func() Box{
		func() Box { return &Avc1{} },
		func() Box { return &AvcC{} },
		func() Box { return &Btrt{} },
		func() Box { return &Co64{} },
		func() Box { return &Ctts{} },
		func() Box { return &Dinf{} },
		func() Box { return &Dref{} },
		func() Box { return &Edts{} },
		func() Box { return &Elst{} },
		func() Box { return &Free{} },
		func() Box { return &Ftyp{} },
		func() Box { return &Hdlr{} },
		func() Box { return &Mdat{} },
		func() Box { return &Mdhd{} },
		func() Box { return &Mdia{} },
		func() Box { return &Minf{} },
		func() Box { return &Moov{} },
		func() Box { return &Mvhd{} },
		func() Box { return &Pasp{} },
		func() Box { return &Smhd{} },
		func() Box { return &Stbl{} },
		func() Box { return &Stco{} },
		func() Box { return &Stsc{} },
		func() Box { return &Stsd{} },
		func() Box { return &Stss{} },
		func() Box { return &Stsz{} },
		func() Box { return &Stts{} },
		func() Box { return &Tkhd{} },
		func() Box { return &Trak{} },
		func() Box { return &Udta{} },
		func() Box { return &URL{} },
		func() Box { return &URN{} },
		func() Box { return &Vmhd{} },
	} {
		Register(factory)
	}
}

// Container holds the child boxes of a container box,
// keyed by type and in decode order.
type Container struct {
	children map[BoxType][]Box
	order    []Box
}

// Add appends a child box.
func (c *Container) Add(boxes ...Box) {
	if c.children == nil {
		c.children = make(map[BoxType][]Box)
	}
	for _, b := range boxes {
		c.children[b.Type()] = append(c.children[b.Type()], b)
		c.order = append(c.order, b)
	}
}

// Children returns all children of the given type.
func (c *Container) Children(typ BoxType) []Box {
	return c.children[typ]
}

// Child returns the first child of the given type or nil.
func (c *Container) Child(typ BoxType) Box {
	if boxes := c.children[typ]; len(boxes) != 0 {
		return boxes[0]
	}
	return nil
}

// All returns every child in order.
func (c *Container) All() []Box {
	return c.order
}

// Find follows a path of child types and returns the first match.
func (c *Container) Find(path ...BoxType) Box {
	cur := c
	var box Box
	for _, typ := range path {
		if cur == nil {
			return nil
		}
		box = cur.Child(typ)
		if box == nil {
			return nil
		}
		cur = containerOf(box)
	}
	return box
}

type parent interface {
	container() *Container
}

func (c *Container) container() *Container { return c }

func containerOf(b Box) *Container {
	if p, ok := b.(parent); ok {
		return p.container()
	}
	return nil
}

// MarshalChildren writes every child box.
func (c *Container) MarshalChildren(w *bitio.Writer) error {
	for _, child := range c.order {
		if err := WriteBox(w, child); err != nil {
			return err
		}
	}
	return nil
}

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// GetFlags returns the flags.
func (b *FullBox) GetFlags() uint32 {
	flag := uint32(b.Flags[0]) << 16
	flag ^= uint32(b.Flags[1]) << 8
	flag ^= uint32(b.Flags[2])
	return flag
}

// CheckFlag checks the flag status.
func (b *FullBox) CheckFlag(flag uint32) bool {
	return b.GetFlags()&flag != 0
}

// MarshalField box to writer.
func (b *FullBox) MarshalField(w *bitio.Writer) error {
	w.TryWriteByte(b.Version)
	w.TryWriteByte(b.Flags[0])
	w.TryWriteByte(b.Flags[1])
	w.TryWriteByte(b.Flags[2])
	return w.TryError
}

// UnmarshalField reads version and flags.
func (b *FullBox) UnmarshalField(d *Decoder) error {
	b.Version = d.TryReadUint8()
	d.TryRead(b.Flags[:])
	return d.TryError
}

func (b *FullBox) checkVersion(typ BoxType, max uint8) error {
	if b.Version > max {
		return fmt.Errorf("%w: %s version %d", ErrUnsupportedVersion, typ, b.Version)
	}
	return nil
}
