package font

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"

	// Sheet formats.
	_ "image/png"

	_ "golang.org/x/image/webp"

	"osdrender/pkg/osd"
)

// ErrNotExist the sheet does not exist in the source.
var ErrNotExist = errors.New("font sheet does not exist")

// Source opens font sheets by file name.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads sheets from a file system.
type DirSource struct {
	FS fs.FS
}

// Open implements Source.
func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := s.FS.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// HTTPSource downloads sheets relative to a base URL.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// ErrUnexpectedStatus non 200 response.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Open implements Source.
func (s HTTPSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.Path = path.Join(u.Path, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	switch res.StatusCode {
	case http.StatusOK:
		return res.Body, nil
	case http.StatusNotFound:
		res.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	default:
		res.Body.Close()
		return nil, fmt.Errorf("%w: %s %d", ErrUnexpectedStatus, name, res.StatusCode)
	}
}

var variantNames = map[uint8]string{
	osd.FontVariantBetaflight:  "bf",
	osd.FontVariantINAV:        "inav",
	osd.FontVariantArdupilot:   "ardu",
	osd.FontVariantKISSUltra:   "ultra",
	osd.FontVariantQuicksilver: "quic",
}

// VariantName returns the short name of a font variant,
// empty for the generic font.
func VariantName(variant uint8) string {
	return variantNames[variant]
}

// FileName returns the sheet name, font[_<variant>][_hd][_2].png.
func FileName(variant uint8, hd bool, page int) string {
	name := "font"
	if v := VariantName(variant); v != "" {
		name += "_" + v
	}
	if hd {
		name += "_hd"
	}
	if page == 1 {
		name += "_2"
	}
	return name + ".png"
}

// LoadPack loads the four sheets of a variant. Variant sheets that do
// not exist fall back to the generic font. The second page is optional.
func LoadPack(ctx context.Context, src Source, variant uint8) (*Pack, error) {
	name := VariantName(variant)
	if name == "" {
		name = "generic"
	}
	pack := &Pack{Name: name}

	for _, hd := range []bool{false, true} {
		tileWidth, tileHeight := SDTileWidth, SDTileHeight
		if hd {
			tileWidth, tileHeight = HDTileWidth, HDTileHeight
		}
		for page := 0; page < 2; page++ {
			font, err := loadFont(ctx, src, variant, hd, page, tileWidth, tileHeight)
			if errors.Is(err, ErrNotExist) && page == 1 {
				continue
			}
			if err != nil {
				return nil, err
			}
			if hd {
				pack.HD[page] = font
			} else {
				pack.SD[page] = font
			}
		}
	}
	return pack, nil
}

func loadFont(
	ctx context.Context,
	src Source,
	variant uint8,
	hd bool,
	page int,
	tileWidth int,
	tileHeight int,
) (*Font, error) {
	name := FileName(variant, hd, page)
	img, err := openImage(ctx, src, name)
	if errors.Is(err, ErrNotExist) && VariantName(variant) != "" {
		name = FileName(osd.FontVariantGeneric, hd, page)
		img, err = openImage(ctx, src, name)
	}
	if err != nil {
		return nil, err
	}
	return NewFont(name, img, tileWidth, tileHeight)
}

func openImage(ctx context.Context, src Source, name string) (image.Image, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return img, nil
}

// Sheets are caller supplied sheet images, page 1 may be nil.
type Sheets struct {
	SD [2]image.Image
	HD [2]image.Image
}

// LoadPackFromImages builds a pack from decoded sheets.
func LoadPackFromImages(name string, sheets Sheets) (*Pack, error) {
	pack := &Pack{Name: name}
	for page := 0; page < 2; page++ {
		if img := sheets.SD[page]; img != nil {
			font, err := NewFont(fmt.Sprintf("%s_sd_%d", name, page), img, SDTileWidth, SDTileHeight)
			if err != nil {
				return nil, err
			}
			pack.SD[page] = font
		}
		if img := sheets.HD[page]; img != nil {
			font, err := NewFont(fmt.Sprintf("%s_hd_%d", name, page), img, HDTileWidth, HDTileHeight)
			if err != nil {
				return nil, err
			}
			pack.HD[page] = font
		}
	}
	return pack, nil
}
