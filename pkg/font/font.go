// Package font slices OSD font sheets into glyph tiles.
package font

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Tile sizes in pixels.
const (
	SDTileWidth  = 36
	SDTileHeight = 54
	HDTileWidth  = 24
	HDTileHeight = 36
)

// PageSize is the number of codes per page.
const PageSize = 256

// ErrSheetTooSmall the sheet cannot hold a single tile.
var ErrSheetTooSmall = errors.New("sheet is smaller than a tile")

// Font is a sliced sheet.
type Font struct {
	Name       string
	TileWidth  int
	TileHeight int
	Tiles      []*image.RGBA
}

// NewFont slices img into tileWidth x tileHeight tiles, column-major.
// Tile 0 is the top left, tile 1 is below it.
func NewFont(name string, img image.Image, tileWidth, tileHeight int) (*Font, error) {
	b := img.Bounds()
	cols := b.Dx() / tileWidth
	rows := b.Dy() / tileHeight
	if cols == 0 || rows == 0 {
		return nil, fmt.Errorf("%w: %s %dx%d, tile %dx%d",
			ErrSheetTooSmall, name, b.Dx(), b.Dy(), tileWidth, tileHeight)
	}

	f := &Font{
		Name:       name,
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
		Tiles:      make([]*image.RGBA, 0, cols*rows),
	}
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			src := image.Rect(
				b.Min.X+x*tileWidth,
				b.Min.Y+y*tileHeight,
				b.Min.X+(x+1)*tileWidth,
				b.Min.Y+(y+1)*tileHeight,
			)
			tile := image.NewRGBA(image.Rect(0, 0, tileWidth, tileHeight))
			draw.Draw(tile, tile.Bounds(), img, src.Min, draw.Src)
			f.Tiles = append(f.Tiles, tile)
		}
	}
	return f, nil
}

// Tile returns tile i or nil.
func (f *Font) Tile(i int) *image.RGBA {
	if f == nil || i < 0 || i >= len(f.Tiles) {
		return nil
	}
	return f.Tiles[i]
}

// Pack holds both pages of both definitions.
type Pack struct {
	Name string
	SD   [2]*Font
	HD   [2]*Font
}

// Tile returns the tile of code. Codes below PageSize are on
// page 0, the rest on page 1. Missing tiles are nil.
func (p *Pack) Tile(code uint16, hd bool) *image.RGBA {
	pages := p.SD
	if hd {
		pages = p.HD
	}
	page := int(code) / PageSize
	if page >= len(pages) {
		return nil
	}
	return pages[page].Tile(int(code) % PageSize)
}

// TileSize returns the tile size of a definition.
func (p *Pack) TileSize(hd bool) (int, int) {
	pages := p.SD
	w, h := SDTileWidth, SDTileHeight
	if hd {
		pages = p.HD
		w, h = HDTileWidth, HDTileHeight
	}
	if pages[0] != nil {
		return pages[0].TileWidth, pages[0].TileHeight
	}
	return w, h
}
