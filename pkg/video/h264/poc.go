package h264

import (
	"bytes"
	"errors"
	"sort"

	"github.com/icza/bitio"
)

// POC errors.
var (
	ErrPicOrderCntTypeUnsupported = errors.New("pic_order_cnt_type = 1 is unsupported")
	ErrPOCMissing                 = errors.New("POC not found")
	ErrSliceHeaderTooShort        = errors.New("slice header too short")
)

// Enough for every slice header field up to pic_order_cnt_lsb.
const maxSliceHeaderPrefix = 32

// PictureOrderCount returns pic_order_cnt_lsb of a slice NALU.
// Only pic_order_cnt_type 0 carries it.
func PictureOrderCount(nalu []byte, sps *SPS) (uint32, error) {
	if len(nalu) < 2 {
		return 0, ErrSliceHeaderTooShort
	}
	if sps.PicOrderCntType != 0 {
		return 0, ErrPicOrderCntTypeUnsupported
	}

	buf := nalu
	if len(buf) > maxSliceHeaderPrefix {
		buf = buf[:maxSliceHeaderPrefix]
	}
	buf = AntiCompetitionRemove(buf)
	br := bitio.NewReader(bytes.NewReader(buf[1:]))

	if _, err := readGolombUnsigned(br); err != nil { // first_mb_in_slice
		return 0, err
	}
	if _, err := readGolombUnsigned(br); err != nil { // slice_type
		return 0, err
	}
	if _, err := readGolombUnsigned(br); err != nil { // pic_parameter_set_id
		return 0, err
	}
	if sps.SeparateColourPlaneFlag {
		if _, err := br.ReadBits(2); err != nil { // colour_plane_id
			return 0, err
		}
	}
	if _, err := br.ReadBits(uint8(sps.Log2MaxFrameNumMinus4 + 4)); err != nil { // frame_num
		return 0, err
	}
	if !sps.FrameMbsOnlyFlag {
		fieldPic, err := readFlag(br)
		if err != nil {
			return 0, err
		}
		if fieldPic {
			if _, err := br.ReadBits(1); err != nil { // bottom_field_flag
				return 0, err
			}
		}
	}
	if TypeOf(nalu) == NALUTypeIDR {
		if _, err := readGolombUnsigned(br); err != nil { // idr_pic_id
			return 0, err
		}
	}

	lsb, err := br.ReadBits(uint8(sps.Log2MaxPicOrderCntLsbMinus4 + 4))
	if err != nil {
		return 0, err
	}
	return uint32(lsb), nil
}

func findPictureOrderCount(au [][]byte, sps *SPS) (uint32, error) {
	for _, nalu := range au {
		if TypeOf(nalu).IsVCL() {
			return PictureOrderCount(nalu, sps)
		}
	}
	return 0, ErrPOCMissing
}

// POCDiff returns poc1-poc2 accounting for pic_order_cnt_lsb wraparound.
func POCDiff(poc1 uint32, poc2 uint32, sps *SPS) int32 {
	diff := int32(poc1) - int32(poc2)
	switch {
	case diff < -((1 << (sps.Log2MaxPicOrderCntLsbMinus4 + 3)) - 1):
		diff += 1 << (sps.Log2MaxPicOrderCntLsbMinus4 + 4)

	case diff > ((1 << (sps.Log2MaxPicOrderCntLsbMinus4 + 3)) - 1):
		diff -= 1 << (sps.Log2MaxPicOrderCntLsbMinus4 + 4)
	}
	return diff
}

// DisplayOrder returns the indices of aus, which are in decode order,
// sorted by display order. Pictures after an IDR are displayed after
// every picture before it.
func DisplayOrder(aus [][][]byte, sps *SPS) ([]int, error) {
	order := make([]int, len(aus))
	for i := range order {
		order[i] = i
	}
	if sps.PicOrderCntType == 2 {
		return order, nil
	}

	pocs := make([]int64, len(aus))
	var base, maxSeen, prev int64
	var prevLsb uint32
	for i, au := range aus {
		lsb, err := findPictureOrderCount(au, sps)
		if err != nil {
			return nil, err
		}
		var poc int64
		if i == 0 || IDRPresent(au) {
			base = maxSeen + 1
			if i == 0 {
				base = 0
			}
			poc = base + int64(lsb)
		} else {
			poc = prev + int64(POCDiff(lsb, prevLsb, sps))
		}
		pocs[i] = poc
		if poc > maxSeen || i == 0 {
			maxSeen = poc
		}
		prev, prevLsb = poc, lsb
	}

	sort.SliceStable(order, func(a, b int) bool {
		return pocs[order[a]] < pocs[order[b]]
	})
	return order, nil
}
