package h264

import "fmt"

// NALUType is the type of a NALU.
type NALUType uint8

// NALU types.
const (
	NALUTypeNonIDR                        NALUType = 1
	NALUTypeDataPartitionA                NALUType = 2
	NALUTypeDataPartitionB                NALUType = 3
	NALUTypeDataPartitionC                NALUType = 4
	NALUTypeIDR                           NALUType = 5
	NALUTypeSEI                           NALUType = 6
	NALUTypeSPS                           NALUType = 7
	NALUTypePPS                           NALUType = 8
	NALUTypeAccessUnitDelimiter           NALUType = 9
	NALUTypeEndOfSequence                 NALUType = 10
	NALUTypeEndOfStream                   NALUType = 11
	NALUTypeFillerData                    NALUType = 12
	NALUTypeSPSExtension                  NALUType = 13
	NALUTypePrefix                        NALUType = 14
	NALUTypeSubsetSPS                     NALUType = 15
	NALUTypeSliceLayerWithoutPartitioning NALUType = 19
	NALUTypeSliceExtension                NALUType = 20
)

var naluTypeLabels = map[NALUType]string{
	NALUTypeNonIDR:                        "NonIDR",
	NALUTypeDataPartitionA:                "DataPartitionA",
	NALUTypeDataPartitionB:                "DataPartitionB",
	NALUTypeDataPartitionC:                "DataPartitionC",
	NALUTypeIDR:                           "IDR",
	NALUTypeSEI:                           "SEI",
	NALUTypeSPS:                           "SPS",
	NALUTypePPS:                           "PPS",
	NALUTypeAccessUnitDelimiter:           "AccessUnitDelimiter",
	NALUTypeEndOfSequence:                 "EndOfSequence",
	NALUTypeEndOfStream:                   "EndOfStream",
	NALUTypeFillerData:                    "FillerData",
	NALUTypeSPSExtension:                  "SPSExtension",
	NALUTypePrefix:                        "Prefix",
	NALUTypeSubsetSPS:                     "SubsetSPS",
	NALUTypeSliceLayerWithoutPartitioning: "SliceLayerWithoutPartitioning",
	NALUTypeSliceExtension:                "SliceExtension",
}

// String implements fmt.Stringer.
func (nt NALUType) String() string {
	if l, ok := naluTypeLabels[nt]; ok {
		return l
	}
	return fmt.Sprintf("unknown (%d)", nt)
}

// TypeOf returns the type of nalu. Empty NALUs have type 0.
func TypeOf(nalu []byte) NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return NALUType(nalu[0] & 0x1F)
}

// IsVCL reports whether the NALU carries slice data.
func (nt NALUType) IsVCL() bool {
	return nt >= NALUTypeNonIDR && nt <= NALUTypeIDR
}

// AntiCompetitionRemove removes the emulation prevention bytes
// (0x00 0x00 0x03) from a NALU.
func AntiCompetitionRemove(nalu []byte) []byte {
	// Fast path, most NALUs headers have none.
	found := false
	for i := 2; i < len(nalu); i++ {
		if nalu[i] == 3 && nalu[i-1] == 0 && nalu[i-2] == 0 {
			found = true
			break
		}
	}
	if !found {
		return nalu
	}

	ret := make([]byte, 0, len(nalu))
	zeros := 0
	for _, b := range nalu {
		if zeros == 2 && b == 3 {
			zeros = 0
			continue
		}
		ret = append(ret, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return ret
}

// IDRPresent reports whether the access unit contains an IDR slice.
func IDRPresent(au [][]byte) bool {
	for _, nalu := range au {
		if TypeOf(nalu) == NALUTypeIDR {
			return true
		}
	}
	return false
}

// ParameterSets returns the first SPS and PPS of the access unit.
func ParameterSets(au [][]byte) (sps []byte, pps []byte) {
	for _, nalu := range au {
		switch TypeOf(nalu) {
		case NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}
	return sps, pps
}
