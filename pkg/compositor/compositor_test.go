package compositor

import (
	"image"
	"image/color"
	"testing"

	"osdrender/pkg/font"
	"osdrender/pkg/osd"
	"osdrender/pkg/srt"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

var (
	green = color.RGBA{G: 0xff, A: 0xff}
	black = color.RGBA{A: 0xff}
)

func tileColor(i int) color.RGBA {
	return color.RGBA{R: uint8(40 * i), B: 0x10, A: 0xff}
}

// testPack returns a SD pack with 4 tiles on page 0 and 1 tile on page 1.
func testPack(t *testing.T) *font.Pack {
	newSheet := func(n int, offset int) image.Image {
		img := image.NewRGBA(image.Rect(0, 0, font.SDTileWidth, n*font.SDTileHeight))
		for i := 0; i < n; i++ {
			r := image.Rect(0, i*font.SDTileHeight, font.SDTileWidth, (i+1)*font.SDTileHeight)
			draw.Draw(img, r, image.NewUniform(tileColor(offset+i)), image.Point{}, draw.Src)
		}
		return img
	}
	pack, err := font.LoadPackFromImages("test", font.Sheets{
		SD: [2]image.Image{newSheet(4, 0), newSheet(1, 5)},
	})
	require.NoError(t, err)
	return pack
}

func uniform(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// 2x2 grid of 36x54 cells, 72x108 overlay.
var testHeader = osd.Header{
	Version: 1,
	Config:  osd.Config{CharWidth: 2, CharHeight: 2},
}

func TestCanvasSize(t *testing.T) {
	testCases := []struct{ w, h, ew, eh int }{
		{1920, 1080, 1920, 1080},
		{1440, 1080, 1920, 1080},
		{640, 480, 854, 480},
		{2000, 1081, 2000, 1082},
	}
	for _, tc := range testCases {
		w, h := CanvasSize(tc.w, tc.h)
		require.Equal(t, []int{tc.ew, tc.eh}, []int{w, h})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New(Options{Header: testHeader, SourceWidth: 1, SourceHeight: 1})
	require.ErrorIs(t, err, ErrNoFonts)

	_, err = New(Options{Header: testHeader, Fonts: testPack(t)})
	require.ErrorIs(t, err, ErrInvalidSourceSize)

	_, err = New(Options{Fonts: testPack(t), SourceWidth: 1, SourceHeight: 1})
	require.ErrorIs(t, err, ErrEmptyGrid)
}

func TestComposite(t *testing.T) {
	c, err := New(Options{
		Header: testHeader,
		Frames: []osd.Frame{
			// Column-major: (0,0) (0,1) (1,0) (1,1).
			{FrameNumber: 0, FrameData: []uint16{0, 0, 1, 0}},
			{FrameNumber: 40, FrameData: []uint16{0, 2, 0, 0}},
			{FrameNumber: 90, FrameData: []uint16{0, 0, 0, 256}},
		},
		Fonts:        testPack(t),
		SourceWidth:  144,
		SourceHeight: 108,
	})
	require.NoError(t, err)
	require.Equal(t, 192, c.Width())
	require.Equal(t, 108, c.Height())
	require.Nil(t, c.CurrentFrame())

	src := uniform(144, 108, green)

	// The overlay is placed at x=60, cells are 36x54.
	img := c.Composite(src, 0)
	require.Equal(t, uint32(0), c.CurrentFrame().FrameNumber)
	require.Equal(t, black, img.RGBAAt(10, 50))
	require.Equal(t, green, img.RGBAAt(30, 50))
	require.Equal(t, green, img.RGBAAt(60+18, 27))
	require.Equal(t, tileColor(1), img.RGBAAt(60+36+18, 27))

	img = c.Composite(src, 50)
	require.Equal(t, uint32(40), c.CurrentFrame().FrameNumber)
	require.Equal(t, green, img.RGBAAt(60+36+18, 27))
	require.Equal(t, tileColor(2), img.RGBAAt(60+18, 54+27))

	// Page 1.
	img = c.Composite(src, 100)
	require.Equal(t, uint32(90), c.CurrentFrame().FrameNumber)
	require.Equal(t, tileColor(5), img.RGBAAt(60+36+18, 54+27))

	// Indices never move the selection back.
	c.Composite(src, 10)
	require.Equal(t, uint32(90), c.CurrentFrame().FrameNumber)
}

func TestCompositeChromaKey(t *testing.T) {
	c, err := New(Options{
		Header:       testHeader,
		Frames:       []osd.Frame{{FrameData: []uint16{3}}},
		Fonts:        testPack(t),
		ChromaKey:    true,
		SourceWidth:  192,
		SourceHeight: 108,
	})
	require.NoError(t, err)

	img := c.Composite(uniform(192, 108, green), 0)
	require.Equal(t, DefaultChromaKeyColor, img.RGBAAt(5, 5))
	require.Equal(t, DefaultChromaKeyColor, img.RGBAAt(150, 80))
	require.Equal(t, tileColor(3), img.RGBAAt(60+18, 27))
}

func TestCompositeScaledOverlay(t *testing.T) {
	c, err := New(Options{
		Header:       testHeader,
		Frames:       []osd.Frame{{FrameData: []uint16{1, 1, 1, 1}}},
		Fonts:        testPack(t),
		SourceWidth:  384,
		SourceHeight: 216,
	})
	require.NoError(t, err)

	// Overlay is scaled by 2 to 144x216 and placed at x=120.
	img := c.Composite(uniform(384, 216, green), 0)
	require.Equal(t, green, img.RGBAAt(110, 100))
	require.Equal(t, tileColor(1), img.RGBAAt(130, 20))
	require.Equal(t, tileColor(1), img.RGBAAt(250, 200))
	require.Equal(t, green, img.RGBAAt(270, 100))
}

func TestCompositeSubtitles(t *testing.T) {
	opts := Options{
		Header:       testHeader,
		Fonts:        testPack(t),
		ChromaKey:    true,
		SourceWidth:  192,
		SourceHeight: 108,
	}
	plain, err := New(opts)
	require.NoError(t, err)
	expected := image.NewRGBA(image.Rect(0, 0, 192, 108))
	draw.Draw(expected, expected.Bounds(), plain.Composite(nil, 0), image.Point{}, draw.Src)

	opts.Subtitles = []srt.Frame{{
		End:    1000,
		Fields: srt.Fields{Signal: "4", FlightTime: `01' 15"`},
	}}
	withText, err := New(opts)
	require.NoError(t, err)
	require.NotEqual(t, expected.Pix, withText.Composite(nil, 0).Pix)
}
