// Package mp4muxer writes a single H.264 track MP4 file with a 64 bit
// mdat followed by the moov box.
package mp4muxer

import (
	"errors"
	"fmt"
	"io"
	"math"

	"osdrender/pkg/video/h264"
	"osdrender/pkg/video/mp4"
	"osdrender/pkg/video/mp4/bitio"
)

// Defaults.
const (
	VideoTimescale   = 90000
	DefaultFrameRate = 60
	videoTrackID     = 1
	movieTimescale   = 1000
)

// Errors.
var (
	ErrFinalized          = errors.New("muxer finalized")
	ErrNoParameterSets    = errors.New("missing SPS or PPS")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrInvalidFrameRate   = errors.New("invalid frame rate")
	ErrSampleNotAVCC      = errors.New("sample is not AVCC")
	ErrFirstSampleNotSync = errors.New("first sample is not a sync sample")
)

var unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// Config of the output track.
type Config struct {
	Width     int
	Height    int
	FrameRate int // Default 60.

	// Parameter sets can be omitted here and set
	// later with SetParameterSets before Finalize.
	SPS []byte
	PPS []byte
}

// Sample is a AVCC encoded access unit.
type Sample struct {
	Data []byte
	Sync bool

	// Duration in VideoTimescale units, zero means one frame.
	Duration uint32
}

// Muxer writes samples to out as they arrive. The sample
// tables are kept in memory and written by Finalize.
type Muxer struct {
	out  *bitio.Writer
	mdat *mp4.LargeBox
	cfg  Config

	sampleDelta uint32
	duration    uint64

	stts []mp4.SttsEntry
	stss []uint32
	stsz []uint32

	finalized bool
}

// New writes the ftyp and mdat headers to out.
func New(out io.WriteSeeker, cfg Config) (*Muxer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 ||
		cfg.Width > math.MaxUint16 || cfg.Height > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, cfg.Width, cfg.Height)
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FrameRate < 0 || VideoTimescale%cfg.FrameRate != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameRate, cfg.FrameRate)
	}

	w, err := bitio.NewWriter(out)
	if err != nil {
		return nil, err
	}

	ftyp := &mp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 512,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}
	if err := mp4.WriteBox(w, ftyp); err != nil {
		return nil, fmt.Errorf("write ftyp: %w", err)
	}

	mdat, err := mp4.StartLargeBox(w, mp4.TypeMdat)
	if err != nil {
		return nil, fmt.Errorf("write mdat header: %w", err)
	}

	return &Muxer{
		out:         w,
		mdat:        mdat,
		cfg:         cfg,
		sampleDelta: uint32(VideoTimescale / cfg.FrameRate),
	}, nil
}

// SetParameterSets sets the SPS and PPS written to avcC.
func (m *Muxer) SetParameterSets(sps, pps []byte) {
	m.cfg.SPS = sps
	m.cfg.PPS = pps
}

// SampleCount returns the number of written samples.
func (m *Muxer) SampleCount() int {
	return len(m.stsz)
}

// SampleDelta returns the default sample duration.
func (m *Muxer) SampleDelta() uint32 {
	return m.sampleDelta
}

// WriteSample appends a sample to mdat.
func (m *Muxer) WriteSample(s Sample) error {
	if m.finalized {
		return ErrFinalized
	}
	if len(m.stsz) == 0 && !s.Sync {
		return ErrFirstSampleNotSync
	}
	if _, err := h264.AVCCUnmarshal(s.Data); err != nil {
		return fmt.Errorf("%w: sample %d: %v", ErrSampleNotAVCC, len(m.stsz), err)
	}

	delta := s.Duration
	if delta == 0 {
		delta = m.sampleDelta
	}
	if n := len(m.stts); n > 0 && m.stts[n-1].SampleDelta == delta {
		m.stts[n-1].SampleCount++
	} else {
		m.stts = append(m.stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: delta})
	}
	m.duration += uint64(delta)

	m.stsz = append(m.stsz, uint32(len(s.Data)))
	if s.Sync {
		m.stss = append(m.stss, uint32(len(m.stsz)))
	}

	if _, err := m.out.Write(s.Data); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}

// Finalize patches the mdat size, writes moov and flushes.
func (m *Muxer) Finalize() error {
	if m.finalized {
		return ErrFinalized
	}
	m.finalized = true

	if len(m.cfg.SPS) == 0 || len(m.cfg.PPS) == 0 {
		return ErrNoParameterSets
	}

	if err := m.mdat.Close(); err != nil {
		return fmt.Errorf("close mdat: %w", err)
	}

	moov, err := m.generateMoov()
	if err != nil {
		return err
	}
	if err := mp4.WriteBox(m.out, moov); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	return m.out.Flush()
}

func (m *Muxer) generateMoov() (*mp4.Moov, error) {
	/*
	   moov
	   - mvhd
	   - trak
	*/
	durationMs := m.duration * movieTimescale / VideoTimescale

	mvhd := &mp4.Mvhd{
		Timescale:   movieTimescale,
		Rate:        65536,
		Volume:      256,
		Matrix:      unityMatrix,
		NextTrackID: videoTrackID + 1,
	}
	if durationMs > math.MaxUint32 {
		mvhd.Version = 1
		mvhd.DurationV1 = durationMs
	} else {
		mvhd.DurationV0 = uint32(durationMs)
	}

	trak, err := m.generateTrak(durationMs)
	if err != nil {
		return nil, err
	}

	moov := &mp4.Moov{}
	moov.Add(mvhd, trak)
	return moov, nil
}

func (m *Muxer) generateTrak(durationMs uint64) (*mp4.Trak, error) {
	/*
	   trak
	   - tkhd
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/
	tkhd := &mp4.Tkhd{
		FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID: videoTrackID,
		Matrix:  unityMatrix,
		Width:   uint32(m.cfg.Width * 65536),
		Height:  uint32(m.cfg.Height * 65536),
	}
	mdhd := &mp4.Mdhd{
		Timescale: VideoTimescale,
		Language:  [3]byte{'u', 'n', 'd'},
	}
	if durationMs > math.MaxUint32 || m.duration > math.MaxUint32 {
		tkhd.Version = 1
		tkhd.DurationV1 = durationMs
		mdhd.Version = 1
		mdhd.DurationV1 = m.duration
	} else {
		tkhd.DurationV0 = uint32(durationMs)
		mdhd.DurationV0 = uint32(m.duration)
	}

	minf, err := m.generateMinf()
	if err != nil {
		return nil, err
	}

	mdia := &mp4.Mdia{}
	mdia.Add(
		mdhd,
		&mp4.Hdlr{
			HandlerType: [4]byte{'v', 'i', 'd', 'e'},
			Name:        "VideoHandler",
		},
		minf,
	)

	trak := &mp4.Trak{}
	trak.Add(tkhd, mdia)
	return trak, nil
}

func (m *Muxer) generateMinf() (*mp4.Minf, error) {
	/*
	   minf
	   - vmhd
	   - dinf
	     - dref
	       - url
	   - stbl
	     - stsd
	     - stts
	     - stss
	     - stsc
	     - stsz
	     - stco | co64
	*/
	stsd, err := m.generateStsd()
	if err != nil {
		return nil, err
	}

	stbl := &mp4.Stbl{}
	stbl.Add(
		stsd,
		&mp4.Stts{Entries: m.stts},
		&mp4.Stss{SampleNumbers: m.stss},
	)

	var chunkOffsets []uint64
	if len(m.stsz) != 0 {
		stbl.Add(&mp4.Stsc{Entries: []mp4.StscEntry{{
			FirstChunk:             1,
			SamplesPerChunk:        uint32(len(m.stsz)),
			SampleDescriptionIndex: 1,
		}}})
		chunkOffsets = []uint64{uint64(m.mdat.BodyOffset())}
	} else {
		stbl.Add(&mp4.Stsc{})
	}
	stbl.Add(&mp4.Stsz{SampleCount: uint32(len(m.stsz)), EntrySizes: m.stsz})
	stbl.Add(chunkOffsetBox(chunkOffsets))

	dref := &mp4.Dref{}
	dref.Add(&mp4.URL{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, mp4.URLSelfContained}}})
	dinf := &mp4.Dinf{}
	dinf.Add(dref)

	minf := &mp4.Minf{}
	minf.Add(&mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}, dinf, stbl)
	return minf, nil
}

// chunkOffsetBox returns co64 when an offset needs more than 32 bits.
func chunkOffsetBox(offsets []uint64) mp4.Box {
	for _, offset := range offsets {
		if offset > math.MaxUint32 {
			return &mp4.Co64{ChunkOffsets: offsets}
		}
	}
	stco := &mp4.Stco{ChunkOffsets: make([]uint32, len(offsets))}
	for i, offset := range offsets {
		stco.ChunkOffsets[i] = uint32(offset)
	}
	return stco
}

func (m *Muxer) generateStsd() (*mp4.Stsd, error) {
	/*
	   stsd
	   - avc1
	     - avcC
	*/
	avcC, err := NewAvcC(m.cfg.SPS, m.cfg.PPS)
	if err != nil {
		return nil, err
	}

	avc1 := &mp4.Avc1{
		SampleEntry: mp4.SampleEntry{
			DataReferenceIndex: 1,
		},
		Width:           uint16(m.cfg.Width),
		Height:          uint16(m.cfg.Height),
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Depth:           24,
		PreDefined3:     -1,
	}
	avc1.Add(avcC)

	stsd := &mp4.Stsd{}
	stsd.Add(avc1)
	return stsd, nil
}

// NewAvcC builds a decoder configuration record from a SPS and PPS.
func NewAvcC(sps, pps []byte) (*mp4.AvcC, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, ErrNoParameterSets
	}
	var spsp h264.SPS
	if err := spsp.Unmarshal(sps); err != nil {
		return nil, fmt.Errorf("unmarshal sps: %w", err)
	}

	avcC := &mp4.AvcC{
		ConfigurationVersion: 1,
		Profile:              spsp.ProfileIdc,
		ProfileCompatibility: spsp.ConstraintFlags,
		Level:                spsp.LevelIdc,
		Reserved:             0x3f,
		LengthSizeMinusOne:   3,
		Reserved2:            0x7,
		SequenceParameterSets: []mp4.AVCParameterSet{
			{NALUnit: sps},
		},
		PictureParameterSets: []mp4.AVCParameterSet{
			{NALUnit: pps},
		},
	}
	if mp4.IsHighProfile(spsp.ProfileIdc) {
		avcC.HighProfileFieldsEnabled = true
		avcC.Reserved3 = 0x3f
		avcC.ChromaFormat = uint8(spsp.ChromeFormatIdc)
		avcC.Reserved4 = 0x1f
		avcC.BitDepthLumaMinus8 = uint8(spsp.BitDepthLumaMinus8)
		avcC.Reserved5 = 0x1f
		avcC.BitDepthChromaMinus8 = uint8(spsp.BitDepthChromaMinus8)
	}
	return avcC, nil
}
