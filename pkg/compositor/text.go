package compositor

import (
	"fmt"
	"image"
	"image/color"

	"osdrender/pkg/srt"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type textDrawer struct {
	face    xfont.Face
	size    float64
	outline *image.Uniform
	fill    *image.Uniform
}

func newTextDrawer(size float64) (*textDrawer, error) {
	if size < 8 {
		size = 8
	}
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: xfont.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("new face: %w", err)
	}
	return &textDrawer{
		face:    face,
		size:    size,
		outline: image.NewUniform(color.Black),
		fill:    image.NewUniform(color.White),
	}, nil
}

type label struct {
	name  string
	value string
}

func fieldLabels(f srt.Fields) []label {
	return []label{
		{"Signal", f.Signal},
		{"CH", f.Channel},
		{"Time", f.FlightTime},
		{"SBat", joinCells(f.SkyBattery, f.SkyBatteryCells)},
		{"GBat", f.GroundBattery},
		{"Delay", f.Delay},
		{"Bitrate", f.Bitrate},
		{"RC", f.RCSignal},
		{"Dist", f.Distance},
	}
}

func joinCells(battery, cells string) string {
	if battery == "" || cells == "" {
		return battery
	}
	return battery + " " + cells + "S"
}

// drawFields draws every field in a fixed slot along the bottom
// edge of dst. Empty fields leave their slot blank.
func (t *textDrawer) drawFields(dst *image.RGBA, fields srt.Fields) {
	labels := fieldLabels(fields)
	b := dst.Bounds()
	slot := b.Dx() / len(labels)
	baseline := b.Max.Y - int(t.size/2)

	for i, l := range labels {
		if l.value == "" {
			continue
		}
		t.drawString(dst, l.name+":"+l.value, b.Min.X+i*slot+int(t.size/4), baseline)
	}
}

var outlineOffsets = []image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// drawString draws s with a one pixel outline.
func (t *textDrawer) drawString(dst *image.RGBA, s string, x, y int) {
	d := &xfont.Drawer{Dst: dst, Face: t.face}

	d.Src = t.outline
	for _, off := range outlineOffsets {
		d.Dot = fixed.P(x+off.X, y+off.Y)
		d.DrawString(s)
	}

	d.Src = t.fill
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
