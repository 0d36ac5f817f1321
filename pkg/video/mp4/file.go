package mp4

import (
	"errors"
	"fmt"

	"osdrender/pkg/video/mp4/bitio"
)

// Box types used for navigation.
var (
	TypeFtyp = StrToBoxType("ftyp")
	TypeMoov = StrToBoxType("moov")
	TypeMdat = StrToBoxType("mdat")
	TypeMvhd = StrToBoxType("mvhd")
	TypeTrak = StrToBoxType("trak")
	TypeTkhd = StrToBoxType("tkhd")
	TypeMdia = StrToBoxType("mdia")
	TypeMdhd = StrToBoxType("mdhd")
	TypeHdlr = StrToBoxType("hdlr")
	TypeMinf = StrToBoxType("minf")
	TypeStbl = StrToBoxType("stbl")
	TypeStsd = StrToBoxType("stsd")
	TypeAvc1 = StrToBoxType("avc1")
	TypeAvcC = StrToBoxType("avcC")
	TypeStts = StrToBoxType("stts")
	TypeCtts = StrToBoxType("ctts")
	TypeStsc = StrToBoxType("stsc")
	TypeStsz = StrToBoxType("stsz")
	TypeStco = StrToBoxType("stco")
	TypeCo64 = StrToBoxType("co64")
	TypeStss = StrToBoxType("stss")
)

// File is a parsed top level box sequence.
type File struct {
	Ftyp *Ftyp
	Moov *Moov
	Mdat *Mdat

	// Top level boxes other than ftyp, moov and mdat.
	Others []Box
}

// ReadFile parses the top level boxes of r.
// The mdat payload is not read.
func ReadFile(r *bitio.Reader, logf LogFunc) (*File, error) {
	d := NewDecoder(r, logf)
	f := &File{}
	for !d.EOF() {
		if d.Remaining() < 8 {
			d.logf("%d trailing bytes at offset %d", d.Remaining(), d.Pos())
			break
		}
		box, h, err := d.DecodeBox()
		if err != nil {
			if f.Moov != nil && f.Mdat != nil && errors.Is(err, ErrStreamFormat) {
				// Garbage after a complete file.
				d.logf("stop parsing at offset %d: %v", d.Pos(), err)
				break
			}
			return nil, err
		}
		switch b := box.(type) {
		case *Ftyp:
			f.Ftyp = b
		case *Moov:
			f.Moov = b
		case *Mdat:
			if f.Mdat != nil {
				d.logf("ignoring extra mdat at offset %d", h.Start)
				continue
			}
			f.Mdat = b
		default:
			f.Others = append(f.Others, box)
		}
	}

	if f.Moov == nil {
		return nil, fmt.Errorf("%w: moov", ErrBoxMissing)
	}
	if f.Mdat == nil {
		return nil, fmt.Errorf("%w: mdat", ErrBoxMissing)
	}
	return f, nil
}

// Track is a decoded video track.
type Track struct {
	Tkhd    *Tkhd
	Mdhd    *Mdhd
	Avc1    *Avc1
	AvcC    *AvcC
	Samples *SampleTable
}

// Timescale returns the media timescale.
func (t *Track) Timescale() uint32 {
	return t.Mdhd.Timescale
}

// Duration returns the media duration in timescale units.
func (t *Track) Duration() uint64 {
	return t.Mdhd.Duration()
}

// Mvhd returns the movie header or nil.
func (b *Moov) Mvhd() *Mvhd {
	mvhd, _ := b.Child(TypeMvhd).(*Mvhd)
	return mvhd
}

// Traks returns every track.
func (b *Moov) Traks() []*Trak {
	var traks []*Trak
	for _, box := range b.Children(TypeTrak) {
		if trak, ok := box.(*Trak); ok {
			traks = append(traks, trak)
		}
	}
	return traks
}

// HandlerType returns the track handler type.
func (b *Trak) HandlerType() string {
	hdlr, ok := b.Find(TypeMdia, TypeHdlr).(*Hdlr)
	if !ok {
		return ""
	}
	return string(hdlr.HandlerType[:])
}

// VideoTrack returns the first H.264 video track.
func (f *File) VideoTrack() (*Track, error) {
	var trak *Trak
	for _, t := range f.Moov.Traks() {
		if t.HandlerType() == "vide" {
			trak = t
			break
		}
	}
	if trak == nil {
		return nil, fmt.Errorf("%w: video trak", ErrBoxMissing)
	}

	track := &Track{}
	var ok bool
	if track.Tkhd, ok = trak.Child(TypeTkhd).(*Tkhd); !ok {
		return nil, fmt.Errorf("%w: tkhd", ErrBoxMissing)
	}
	if track.Mdhd, ok = trak.Find(TypeMdia, TypeMdhd).(*Mdhd); !ok {
		return nil, fmt.Errorf("%w: mdhd", ErrBoxMissing)
	}
	stbl, ok := trak.Find(TypeMdia, TypeMinf, TypeStbl).(*Stbl)
	if !ok {
		return nil, fmt.Errorf("%w: stbl", ErrBoxMissing)
	}
	if track.Avc1, ok = stbl.Find(TypeStsd, TypeAvc1).(*Avc1); !ok {
		return nil, fmt.Errorf("%w: avc1", ErrBoxMissing)
	}
	if track.AvcC = track.Avc1.AvcC(); track.AvcC == nil {
		return nil, fmt.Errorf("%w: avcC", ErrBoxMissing)
	}

	samples, err := NewSampleTable(stbl)
	if err != nil {
		return nil, err
	}
	mdatStart := uint64(f.Mdat.DataOffset)
	if err := samples.CheckBounds(mdatStart, mdatStart+uint64(f.Mdat.DataSize)); err != nil {
		return nil, fmt.Errorf("mdat: %w", err)
	}
	track.Samples = samples
	return track, nil
}
