package osd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"osdrender/pkg/video/mp4/bitio"
)

// Magic identifies a capture.
const Magic = "MSPOSD\x00"

// HeaderSize is the marshaled size of Header.
const HeaderSize = 18

// Supported versions.
const (
	MinVersion = 1
	MaxVersion = 2
)

// SDColumns is the grid width of standard definition captures.
const SDColumns = 30

// Errors.
var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
)

// Font variants.
const (
	FontVariantGeneric      uint8 = 0
	FontVariantBetaflight   uint8 = 1
	FontVariantINAV         uint8 = 2
	FontVariantArdupilot    uint8 = 3
	FontVariantKISSUltra    uint8 = 4
	FontVariantQuicksilver  uint8 = 5
	fontVariantMaxSupported       = FontVariantQuicksilver
)

// Config is the grid and font configuration of a capture.
type Config struct {
	CharWidth   uint8
	CharHeight  uint8
	FontWidth   uint8
	FontHeight  uint8
	XOffset     uint16
	YOffset     uint16
	FontVariant uint8
}

// Header capture file header.
type Header struct {
	Version uint16
	Config  Config
}

// IsHD reports whether the grid is wider than the SD grid.
func (h Header) IsHD() bool {
	return int(h.Config.CharWidth) > SDColumns
}

// GridSize returns the number of cells in the grid.
func (h Header) GridSize() int {
	return int(h.Config.CharWidth) * int(h.Config.CharHeight)
}

// Marshal header.
func (h Header) Marshal() []byte {
	out := make([]byte, HeaderSize)
	copy(out, Magic)
	binary.LittleEndian.PutUint16(out[7:9], h.Version)
	out[9] = h.Config.CharWidth
	out[10] = h.Config.CharHeight
	out[11] = h.Config.FontWidth
	out[12] = h.Config.FontHeight
	binary.LittleEndian.PutUint16(out[13:15], h.Config.XOffset)
	binary.LittleEndian.PutUint16(out[15:17], h.Config.YOffset)
	out[17] = h.Config.FontVariant
	return out
}

// Unmarshal header from reader.
func (h *Header) Unmarshal(r *bitio.Reader) error {
	magic, err := r.ReadBytes(len(Magic))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != Magic {
		return fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}

	version, err := r.ReadUint16LE()
	if err != nil {
		return err
	}
	if version < MinVersion || version > MaxVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	h.Version = version

	c := &h.Config
	if c.CharWidth, err = r.ReadUint8(); err != nil {
		return err
	}
	if c.CharHeight, err = r.ReadUint8(); err != nil {
		return err
	}
	if c.FontWidth, err = r.ReadUint8(); err != nil {
		return err
	}
	if c.FontHeight, err = r.ReadUint8(); err != nil {
		return err
	}
	if c.XOffset, err = r.ReadUint16LE(); err != nil {
		return err
	}
	if c.YOffset, err = r.ReadUint16LE(); err != nil {
		return err
	}
	if c.FontVariant, err = r.ReadUint8(); err != nil {
		return err
	}
	return nil
}
