// Package compositor burns the OSD grid and subtitle telemetry into frames.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"osdrender/pkg/font"
	"osdrender/pkg/osd"
	"osdrender/pkg/srt"

	"golang.org/x/image/draw"
)

// DefaultChromaKeyColor is magenta.
var DefaultChromaKeyColor = color.RGBA{R: 0xff, G: 0x00, B: 0xff, A: 0xff}

// Errors.
var (
	ErrNoFonts           = errors.New("no font pack")
	ErrInvalidSourceSize = errors.New("invalid source size")
	ErrEmptyGrid         = errors.New("empty OSD grid")
)

// Options of a compositor.
type Options struct {
	Header    osd.Header
	Frames    []osd.Frame
	Subtitles []srt.Frame
	Fonts     *font.Pack

	// Replace the video with a solid color.
	ChromaKey      bool
	ChromaKeyColor color.RGBA

	SourceWidth  int
	SourceHeight int

	// Video frame rate used to convert frame indices to subtitle time.
	FrameRate int
}

// Compositor owns the canvas and overlay, it is not safe for
// concurrent use.
type Compositor struct {
	opts      Options
	hd        bool
	osdFrames *osd.Selector
	subtitles *srt.Selector
	text      *textDrawer

	cellWidth  int
	cellHeight int

	canvas  *image.RGBA
	overlay *image.RGBA
	fill    *image.Uniform
}

// New returns a compositor.
func New(opts Options) (*Compositor, error) {
	if opts.Fonts == nil {
		return nil, ErrNoFonts
	}
	if opts.SourceWidth <= 0 || opts.SourceHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSourceSize, opts.SourceWidth, opts.SourceHeight)
	}
	if opts.Header.GridSize() == 0 {
		return nil, ErrEmptyGrid
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 60
	}
	if opts.ChromaKeyColor == (color.RGBA{}) {
		opts.ChromaKeyColor = DefaultChromaKeyColor
	}

	c := &Compositor{
		opts:      opts,
		hd:        opts.Header.IsHD(),
		osdFrames: osd.NewSelector(opts.Frames),
	}

	c.cellWidth, c.cellHeight = opts.Fonts.TileSize(c.hd)
	if w, h := int(opts.Header.Config.FontWidth), int(opts.Header.Config.FontHeight); w != 0 && h != 0 {
		c.cellWidth, c.cellHeight = w, h
	}

	width, height := CanvasSize(opts.SourceWidth, opts.SourceHeight)
	c.canvas = image.NewRGBA(image.Rect(0, 0, width, height))

	cfg := opts.Header.Config
	c.overlay = image.NewRGBA(image.Rect(0, 0,
		int(cfg.XOffset)+int(cfg.CharWidth)*c.cellWidth,
		int(cfg.YOffset)+int(cfg.CharHeight)*c.cellHeight,
	))

	if opts.ChromaKey {
		c.fill = image.NewUniform(opts.ChromaKeyColor)
	} else {
		c.fill = image.NewUniform(color.Black)
	}

	if len(opts.Subtitles) != 0 {
		c.subtitles = srt.NewSelector(opts.Subtitles)
		text, err := newTextDrawer(float64(c.cellHeight) * 0.6)
		if err != nil {
			return nil, err
		}
		c.text = text
	}
	return c, nil
}

// CanvasSize returns the output size for a source size. Narrow
// sources are centered on a 16:9 canvas. Sizes are rounded up to
// even values.
func CanvasSize(sourceWidth, sourceHeight int) (int, int) {
	width := sourceWidth
	if wide := sourceHeight * 16 / 9; wide > width {
		width = wide
	}
	return width + width%2, sourceHeight + sourceHeight%2
}

// Width of the canvas.
func (c *Compositor) Width() int {
	return c.canvas.Bounds().Dx()
}

// Height of the canvas.
func (c *Compositor) Height() int {
	return c.canvas.Bounds().Dy()
}

// CurrentFrame returns the selected OSD frame, nil before the first
// call to Composite or when the capture is empty.
func (c *Compositor) CurrentFrame() *osd.Frame {
	return c.osdFrames.Current()
}

// Composite draws the frame at presentation index. The returned image
// is reused by the next call.
func (c *Compositor) Composite(src image.Image, index int) *image.RGBA {
	// Background.
	draw.Draw(c.canvas, c.canvas.Bounds(), c.fill, image.Point{}, draw.Src)
	if !c.opts.ChromaKey && src != nil {
		draw.Draw(c.canvas, centered(c.canvas.Bounds(), src.Bounds().Size()), src, src.Bounds().Min, draw.Src)
	}

	// Overlay.
	draw.Draw(c.overlay, c.overlay.Bounds(), image.Transparent, image.Point{}, draw.Src)
	if frame := c.osdFrames.Advance(index); frame != nil {
		c.drawGrid(frame)
	}
	if c.subtitles != nil {
		at := time.Duration(index) * time.Second / time.Duration(c.opts.FrameRate)
		if sub := c.subtitles.At(at); sub != nil {
			c.text.drawFields(c.overlay, sub.Fields)
		}
	}

	// Fit the overlay inside the canvas.
	ob := c.overlay.Bounds()
	cb := c.canvas.Bounds()
	scale := float64(cb.Dx()) / float64(ob.Dx())
	if s := float64(cb.Dy()) / float64(ob.Dy()); s < scale {
		scale = s
	}
	size := image.Pt(int(float64(ob.Dx())*scale), int(float64(ob.Dy())*scale))
	draw.ApproxBiLinear.Scale(c.canvas, centered(cb, size), c.overlay, ob, draw.Over, nil)

	return c.canvas
}

func (c *Compositor) drawGrid(frame *osd.Frame) {
	cfg := c.opts.Header.Config
	rows := int(cfg.CharHeight)
	for x := 0; x < int(cfg.CharWidth); x++ {
		for y := 0; y < rows; y++ {
			code := frame.Code(x, y, rows)
			if code == 0 {
				continue
			}
			tile := c.opts.Fonts.Tile(code, c.hd)
			if tile == nil {
				continue
			}
			cell := image.Rect(0, 0, c.cellWidth, c.cellHeight).Add(image.Pt(
				int(cfg.XOffset)+x*c.cellWidth,
				int(cfg.YOffset)+y*c.cellHeight,
			))
			if tile.Bounds().Size() == cell.Size() {
				draw.Draw(c.overlay, cell, tile, image.Point{}, draw.Over)
			} else {
				draw.NearestNeighbor.Scale(c.overlay, cell, tile, tile.Bounds(), draw.Over, nil)
			}
		}
	}
}

// centered returns a rectangle of size centered in bounds.
func centered(bounds image.Rectangle, size image.Point) image.Rectangle {
	origin := bounds.Min.Add(image.Pt(
		(bounds.Dx()-size.X)/2,
		(bounds.Dy()-size.Y)/2,
	))
	return image.Rectangle{Min: origin, Max: origin.Add(size)}
}
