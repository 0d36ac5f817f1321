package h264

import "errors"

// MaxNALUSize is the maximum size of a NALU.
// with a 250 Mbps H264 video, the maximum NALU size is 2.2MB.
const MaxNALUSize = 3 * 1024 * 1024

// ErrAnnexBNoStartCode is returned when a stream does not begin with a start code.
var ErrAnnexBNoStartCode = errors.New("annex-b stream does not start with a start code")

// AnnexBMarshal encodes NALUs into the Annex-B stream format.
func AnnexBMarshal(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}

	buf := make([]byte, n)
	pos := 0
	for _, nalu := range nalus {
		pos += copy(buf[pos:], []byte{0x00, 0x00, 0x00, 0x01})
		pos += copy(buf[pos:], nalu)
	}
	return buf
}

// AnnexBUnmarshal splits an Annex-B stream into NALUs.
// Both 3 and 4 byte start codes are accepted. The returned
// NALUs reference buf.
func AnnexBUnmarshal(buf []byte) ([][]byte, error) {
	start, ok := nextStartCode(buf, 0)
	if !ok || start.codeStart != 0 {
		if len(buf) == 0 {
			return nil, nil
		}
		return nil, ErrAnnexBNoStartCode
	}

	var nalus [][]byte
	for {
		next, ok := nextStartCode(buf, start.dataStart)
		end := len(buf)
		if ok {
			end = next.codeStart
		}
		// Trailing zeros belong to the next start code.
		for end > start.dataStart && buf[end-1] == 0 && ok {
			end--
		}
		if end > start.dataStart {
			nalus = append(nalus, buf[start.dataStart:end])
		}
		if !ok {
			return nalus, nil
		}
		start = next
	}
}

type startCode struct {
	codeStart int
	dataStart int
}

func nextStartCode(buf []byte, from int) (startCode, bool) {
	for i := from; i+2 < len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 {
			continue
		}
		if buf[i+2] == 1 {
			return startCode{codeStart: i, dataStart: i + 3}, true
		}
		if i+3 < len(buf) && buf[i+2] == 0 && buf[i+3] == 1 {
			return startCode{codeStart: i, dataStart: i + 4}, true
		}
	}
	return startCode{}, false
}
