package h264

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

func readGolombUnsigned(br *bitio.Reader) (uint32, error) {
	leadingZeroBits := uint32(0)

	for {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}
		if b != 0 {
			break
		}
		leadingZeroBits++
		if leadingZeroBits > 31 {
			return 0, ErrGolombTooLong
		}
	}

	codeNum := uint32(0)
	for n := leadingZeroBits; n > 0; n-- {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}
		codeNum |= uint32(b) << (n - 1)
	}

	return (1 << leadingZeroBits) - 1 + codeNum, nil
}

func readGolombSigned(br *bitio.Reader) (int32, error) {
	v, err := readGolombUnsigned(br)
	if err != nil {
		return 0, err
	}
	vi := int32(v)

	if (vi & 0x01) != 0 {
		return (vi + 1) / 2, nil
	}
	return -vi / 2, nil
}

func readFlag(br *bitio.Reader) (bool, error) {
	tmp, err := br.ReadBits(1)
	if err != nil {
		return false, err
	}
	return tmp == 1, nil
}

func skipScalingList(br *bitio.Reader, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale, err := readGolombSigned(br)
			if err != nil {
				return err
			}
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// SpsFramecropping is the frame cropping part of a SPS.
type SpsFramecropping struct {
	LeftOffset   uint32
	RightOffset  uint32
	TopOffset    uint32
	BottomOffset uint32
}

func (c *SpsFramecropping) unmarshal(br *bitio.Reader) error {
	var err error
	if c.LeftOffset, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if c.RightOffset, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if c.TopOffset, err = readGolombUnsigned(br); err != nil {
		return err
	}
	c.BottomOffset, err = readGolombUnsigned(br)
	return err
}

// SPS is a H264 sequence parameter set.
// Parsing stops before the VUI parameters.
type SPS struct {
	ProfileIdc      uint8
	ConstraintFlags uint8
	LevelIdc        uint8
	ID              uint32

	// only for selected ProfileIdcs
	ChromeFormatIdc         uint32
	SeparateColourPlaneFlag bool
	BitDepthLumaMinus8      uint32
	BitDepthChromaMinus8    uint32

	Log2MaxFrameNumMinus4 uint32
	PicOrderCntType       uint32

	// PicOrderCntType == 0
	Log2MaxPicOrderCntLsbMinus4 uint32

	// PicOrderCntType == 1
	DeltaPicOrderAlwaysZeroFlag bool
	OffsetForNonRefPic          int32
	OffsetForTopToBottomField   int32
	OffsetForRefFrames          []int32

	MaxNumRefFrames                uint32
	GapsInFrameNumValueAllowedFlag bool
	PicWidthInMbsMinus1            uint32
	PicHeightInMbsMinus1           uint32
	FrameMbsOnlyFlag               bool

	// FrameMbsOnlyFlag == false
	MbAdaptiveFrameFieldFlag bool

	Direct8x8InferenceFlag bool

	// frameCroppingFlag == true
	FrameCropping *SpsFramecropping

	VUIParametersPresentFlag bool
}

// SPS errors.
var (
	ErrSPSBufferTooShort    = errors.New("buffer too short")
	ErrSPSWrongForbiddenBit = errors.New("wrong forbidden bit")
	ErrSPSWrongType         = errors.New("not a SPS")
	ErrGolombTooLong        = errors.New("exp-golomb code too long")
)

// Unmarshal decodes a SPS from bytes.
func (s *SPS) Unmarshal(buf []byte) error { //nolint:funlen
	// ref: ISO/IEC 14496-10:2020

	buf = AntiCompetitionRemove(buf)

	if len(buf) < 4 {
		return ErrSPSBufferTooShort
	}

	if buf[0]>>7 != 0 {
		return ErrSPSWrongForbiddenBit
	}
	if TypeOf(buf) != NALUTypeSPS {
		return ErrSPSWrongType
	}

	s.ProfileIdc = buf[1]
	s.ConstraintFlags = buf[2]
	s.LevelIdc = buf[3]

	br := bitio.NewReader(bytes.NewReader(buf[4:]))

	var err error
	if s.ID, err = readGolombUnsigned(br); err != nil {
		return err
	}

	if err := s.unmarshalProfileIdc(br); err != nil {
		return err
	}

	if s.Log2MaxFrameNumMinus4, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if s.PicOrderCntType, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if err := s.unmarshalPicOrderCnt(br); err != nil {
		return err
	}

	if s.MaxNumRefFrames, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if s.GapsInFrameNumValueAllowedFlag, err = readFlag(br); err != nil {
		return err
	}
	if s.PicWidthInMbsMinus1, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if s.PicHeightInMbsMinus1, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if s.FrameMbsOnlyFlag, err = readFlag(br); err != nil {
		return err
	}

	s.MbAdaptiveFrameFieldFlag = false
	if !s.FrameMbsOnlyFlag {
		if s.MbAdaptiveFrameFieldFlag, err = readFlag(br); err != nil {
			return err
		}
	}

	if s.Direct8x8InferenceFlag, err = readFlag(br); err != nil {
		return err
	}

	frameCroppingFlag, err := readFlag(br)
	if err != nil {
		return err
	}
	s.FrameCropping = nil
	if frameCroppingFlag {
		s.FrameCropping = &SpsFramecropping{}
		if err := s.FrameCropping.unmarshal(br); err != nil {
			return err
		}
	}

	s.VUIParametersPresentFlag, err = readFlag(br)
	return err
}

func (s *SPS) unmarshalProfileIdc(br *bitio.Reader) error {
	s.ChromeFormatIdc = 1
	s.SeparateColourPlaneFlag = false
	s.BitDepthLumaMinus8 = 0
	s.BitDepthChromaMinus8 = 0

	switch s.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
	default:
		return nil
	}

	var err error
	if s.ChromeFormatIdc, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if s.ChromeFormatIdc == 3 {
		if s.SeparateColourPlaneFlag, err = readFlag(br); err != nil {
			return err
		}
	}
	if s.BitDepthLumaMinus8, err = readGolombUnsigned(br); err != nil {
		return err
	}
	if s.BitDepthChromaMinus8, err = readGolombUnsigned(br); err != nil {
		return err
	}
	// qpprime_y_zero_transform_bypass_flag
	if _, err := readFlag(br); err != nil {
		return err
	}

	seqScalingMatrixPresentFlag, err := readFlag(br)
	if err != nil {
		return err
	}
	if !seqScalingMatrixPresentFlag {
		return nil
	}

	lim := 8
	if s.ChromeFormatIdc == 3 {
		lim = 12
	}
	for i := 0; i < lim; i++ {
		present, err := readFlag(br)
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		if err := skipScalingList(br, size); err != nil {
			return err
		}
	}
	return nil
}

func (s *SPS) unmarshalPicOrderCnt(br *bitio.Reader) error {
	s.Log2MaxPicOrderCntLsbMinus4 = 0
	s.DeltaPicOrderAlwaysZeroFlag = false
	s.OffsetForNonRefPic = 0
	s.OffsetForTopToBottomField = 0
	s.OffsetForRefFrames = nil

	var err error
	switch s.PicOrderCntType {
	case 0:
		s.Log2MaxPicOrderCntLsbMinus4, err = readGolombUnsigned(br)
		return err

	case 1:
		if s.DeltaPicOrderAlwaysZeroFlag, err = readFlag(br); err != nil {
			return err
		}
		if s.OffsetForNonRefPic, err = readGolombSigned(br); err != nil {
			return err
		}
		if s.OffsetForTopToBottomField, err = readGolombSigned(br); err != nil {
			return err
		}
		numRefFramesInPicOrderCntCycle, err := readGolombUnsigned(br)
		if err != nil {
			return err
		}
		for i := uint32(0); i < numRefFramesInPicOrderCntCycle; i++ {
			v, err := readGolombSigned(br)
			if err != nil {
				return err
			}
			s.OffsetForRefFrames = append(s.OffsetForRefFrames, v)
		}
	}
	return nil
}

// Width returns the video width.
func (s SPS) Width() int {
	if s.FrameCropping != nil {
		return int(((s.PicWidthInMbsMinus1 + 1) * 16) - (s.FrameCropping.LeftOffset+s.FrameCropping.RightOffset)*2)
	}
	return int((s.PicWidthInMbsMinus1 + 1) * 16)
}

// Height returns the video height.
func (s SPS) Height() int {
	f := uint32(0)
	if s.FrameMbsOnlyFlag {
		f = 1
	}

	if s.FrameCropping != nil {
		return int(((2 - f) * (s.PicHeightInMbsMinus1 + 1) * 16) - (s.FrameCropping.TopOffset+s.FrameCropping.BottomOffset)*2)
	}
	return int((2 - f) * (s.PicHeightInMbsMinus1 + 1) * 16)
}

// CodecString returns the RFC 6381 codec string, "avc1.PPCCLL".
func (s SPS) CodecString() string {
	return CodecString(s.ProfileIdc, s.ConstraintFlags, s.LevelIdc)
}

// CodecString formats profile, constraint flags and level as "avc1.PPCCLL".
func CodecString(profile, constraints, level uint8) string {
	return fmt.Sprintf("avc1.%02x%02x%02x", profile, constraints, level)
}
