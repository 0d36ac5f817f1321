package h264

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrAVCCInvalidLength is returned when a length prefix exceeds the buffer.
var ErrAVCCInvalidLength = errors.New("invalid length")

// AVCCNALUSizeTooBigError .
type AVCCNALUSizeTooBigError struct {
	NALUSize int
}

func (e AVCCNALUSizeTooBigError) Error() string {
	return fmt.Sprintf("NALU size (%d) is too big (maximum is %d)", e.NALUSize, MaxNALUSize)
}

// AVCCUnmarshal decodes NALUs from the AVCC stream format
// with 4 byte length prefixes.
func AVCCUnmarshal(buf []byte) ([][]byte, error) {
	return AVCCUnmarshalSize(buf, 4)
}

// AVCCUnmarshalSize decodes NALUs prefixed by lengthSize byte lengths,
// lengthSize is avcC.LengthSizeMinusOne+1.
func AVCCUnmarshalSize(buf []byte, lengthSize int) ([][]byte, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, fmt.Errorf("%w: length size %d", ErrAVCCInvalidLength, lengthSize)
	}

	bl := len(buf)
	pos := 0
	var ret [][]byte

	for pos < bl {
		if (bl - pos) < lengthSize {
			return nil, ErrAVCCInvalidLength
		}

		le := 0
		for i := 0; i < lengthSize; i++ {
			le = le<<8 | int(buf[pos+i])
		}
		pos += lengthSize

		if le > MaxNALUSize {
			return nil, AVCCNALUSizeTooBigError{NALUSize: le}
		}
		if (bl - pos) < le {
			return nil, ErrAVCCInvalidLength
		}

		ret = append(ret, buf[pos:pos+le])
		pos += le
	}

	if len(ret) == 0 {
		return nil, ErrAVCCInvalidLength
	}
	return ret, nil
}

// AVCCMarshal encodes NALUs into the AVCC stream format.
func AVCCMarshal(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}

	buf := make([]byte, n)
	pos := 0
	for _, nalu := range nalus {
		binary.BigEndian.PutUint32(buf[pos:], uint32(len(nalu)))
		pos += 4
		pos += copy(buf[pos:], nalu)
	}
	return buf
}
