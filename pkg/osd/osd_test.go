package osd

import (
	"bytes"
	"testing"

	"osdrender/pkg/video/mp4/bitio"

	"github.com/stretchr/testify/require"
)

var testHeader = []byte{
	'M', 'S', 'P', 'O', 'S', 'D', 0, // Magic.
	0x01, 0x00, // Version.
	53,         // Char width.
	20,         // Char height.
	24,         // Font width.
	36,         // Font height.
	0x03, 0x00, // X offset.
	0x04, 0x00, // Y offset.
	2, // Font variant.
}

func TestHeader(t *testing.T) {
	var h Header
	require.NoError(t, h.Unmarshal(bitio.NewBytesReader(testHeader)))

	expected := Header{
		Version: 1,
		Config: Config{
			CharWidth:   53,
			CharHeight:  20,
			FontWidth:   24,
			FontHeight:  36,
			XOffset:     3,
			YOffset:     4,
			FontVariant: FontVariantINAV,
		},
	}
	require.Equal(t, expected, h)
	require.True(t, h.IsHD())
	require.Equal(t, 53*20, h.GridSize())
	require.Equal(t, testHeader, h.Marshal())

	sd := Header{Config: Config{CharWidth: 30, CharHeight: 16}}
	require.False(t, sd.IsHD())
}

func TestHeaderErrors(t *testing.T) {
	bad := append([]byte{}, testHeader...)
	bad[0] = 'X'
	var h Header
	require.ErrorIs(t, h.Unmarshal(bitio.NewBytesReader(bad)), ErrBadMagic)
	require.ErrorIs(t, h.Unmarshal(bitio.NewBytesReader([]byte("MSP"))), ErrBadMagic)

	version := append([]byte{}, testHeader...)
	version[7] = 9
	require.ErrorIs(t, h.Unmarshal(bitio.NewBytesReader(version)), ErrUnsupportedVersion)

	require.ErrorIs(t, h.Unmarshal(bitio.NewBytesReader(testHeader[:12])), bitio.ErrRange)
}

func TestReader(t *testing.T) {
	buf := append([]byte{}, testHeader...)
	buf = append(buf,
		// Frame 1.
		0x00, 0x00, 0x00, 0x00, // Frame number.
		0x02, 0x00, 0x00, 0x00, // Frame size.
		0x41, 0x00, 0x01, 0x01, // Data.

		// Frame 2.
		0x28, 0x00, 0x00, 0x00, // Frame number.
		0x01, 0x00, 0x00, 0x00, // Frame size.
		0xff, 0x01, // Data.
	)

	r, err := NewReader(bitio.NewBytesReader(buf))
	require.NoError(t, err)
	require.Equal(t, uint8(53), r.Header().Config.CharWidth)

	frames, err := r.ReadAllFrames()
	require.NoError(t, err)
	require.False(t, r.Truncated)
	expected := []Frame{
		{FrameNumber: 0, FrameSize: 2, FrameData: []uint16{0x41, 0x101}},
		{FrameNumber: 40, FrameSize: 1, FrameData: []uint16{0x1ff}},
	}
	require.Equal(t, expected, frames)
}

func TestReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{Version: 2, Config: Config{CharWidth: 2, CharHeight: 2}})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(0, []uint16{1, 2, 3, 4}))
	require.NoError(t, w.WriteFrame(10, []uint16{5, 6, 7, 8}))
	require.ErrorIs(t, w.WriteFrame(5, nil), ErrFrameOrder)

	full := buf.Bytes()
	testCases := map[string]int{
		"mid data":   len(full) - 3,
		"mid size":   len(full) - 12,
		"mid number": len(full) - 14,
	}
	for name, size := range testCases {
		t.Run(name, func(t *testing.T) {
			r, err := NewReader(bitio.NewBytesReader(full[:size]))
			require.NoError(t, err)
			frames, err := r.ReadAllFrames()
			require.NoError(t, err)
			require.True(t, r.Truncated)
			require.Equal(t, []Frame{
				{FrameNumber: 0, FrameSize: 4, FrameData: []uint16{1, 2, 3, 4}},
			}, frames)
		})
	}

	header, frames, err := Decode(bytes.NewReader(full))
	require.NoError(t, err)
	require.Equal(t, uint16(2), header.Version)
	require.Len(t, frames, 2)
}

func TestReaderHugeFrameSize(t *testing.T) {
	buf := append([]byte{}, testHeader...)
	buf = append(buf,
		0x00, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
		0x01, 0x00,
	)
	r, err := NewReader(bitio.NewBytesReader(buf))
	require.NoError(t, err)
	frames, err := r.ReadAllFrames()
	require.NoError(t, err)
	require.Empty(t, frames)
	require.True(t, r.Truncated)
}

func TestFrameCode(t *testing.T) {
	// 2 columns, 3 rows.
	f := Frame{FrameData: []uint16{1, 2, 3, 4, 5, 6}}
	require.Equal(t, uint16(1), f.Code(0, 0, 3))
	require.Equal(t, uint16(3), f.Code(0, 2, 3))
	require.Equal(t, uint16(4), f.Code(1, 0, 3))
	require.Equal(t, uint16(6), f.Code(1, 2, 3))
	require.Equal(t, uint16(0), f.Code(2, 0, 3))
	require.Equal(t, uint16(0), f.Code(0, 3, 3))
	require.Equal(t, uint16(0), f.Code(-1, 0, 3))
}

func TestSelector(t *testing.T) {
	s := NewSelector([]Frame{
		{FrameNumber: 0},
		{FrameNumber: 40},
		{FrameNumber: 90},
	})
	require.Equal(t, 3, s.Len())

	expected := map[int]uint32{
		0: 0, 39: 0, 40: 40, 50: 40, 89: 40, 90: 90, 119: 90,
	}
	for _, index := range []int{0, 39, 40, 50, 89, 90, 119} {
		require.Equal(t, expected[index], s.Advance(index).FrameNumber, index)
	}
	// Never moves backwards.
	require.Equal(t, uint32(90), s.Advance(10).FrameNumber)
	require.Equal(t, uint32(90), s.Current().FrameNumber)

	// Frames starting late still select the first frame.
	s = NewSelector([]Frame{{FrameNumber: 90}, {FrameNumber: 10}})
	require.Equal(t, uint32(10), s.Advance(0).FrameNumber)
	require.Equal(t, uint32(90), s.Advance(95).FrameNumber)

	require.Nil(t, NewSelector(nil).Advance(5))
	require.Nil(t, NewSelector(nil).Current())
}
