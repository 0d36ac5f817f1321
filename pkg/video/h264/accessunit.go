package h264

// AccessUnits groups a NALU sequence in decode order into access units.
// A new unit starts at an access unit delimiter, at a SPS, PPS or SEI
// that follows slice data, or at a slice whose first_mb_in_slice is 0
// once the current unit already holds slice data.
func AccessUnits(nalus [][]byte) [][][]byte {
	var aus [][][]byte
	var cur [][]byte
	hasVCL := false

	flush := func() {
		if len(cur) != 0 {
			aus = append(aus, cur)
		}
		cur = nil
		hasVCL = false
	}

	for _, nalu := range nalus {
		typ := TypeOf(nalu)
		switch {
		case typ == NALUTypeAccessUnitDelimiter:
			flush()
		case typ == NALUTypeSPS || typ == NALUTypePPS || typ == NALUTypeSEI:
			if hasVCL {
				flush()
			}
		case typ.IsVCL():
			if hasVCL && firstMbInSliceIsZero(nalu) {
				flush()
			}
			hasVCL = true
		}
		cur = append(cur, nalu)
	}
	flush()
	return aus
}

// ue(v) of 0 is the single bit 1.
func firstMbInSliceIsZero(nalu []byte) bool {
	return len(nalu) > 1 && nalu[1]&0x80 != 0
}
