// Package codec is the boundary between the pipeline and a platform
// video codec. Decoders and encoders queue work and only block in Flush.
package codec

import (
	"context"
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// Errors.
var (
	ErrNotConfigured = errors.New("codec not configured")
	ErrClosed        = errors.New("codec closed")
)

// DecoderConfig describes the input bitstream.
type DecoderConfig struct {
	// Codec is the RFC 6381 codec string, "avc1.PPCCLL".
	Codec       string
	CodedWidth  int
	CodedHeight int

	// Description is the raw avcC record.
	Description []byte

	SPS [][]byte
	PPS [][]byte

	// NALULengthSize is the size of the sample NALU length prefixes.
	NALULengthSize int
}

// EncoderConfig describes the output bitstream.
type EncoderConfig struct {
	Codec     string
	Width     int
	Height    int
	Bitrate   int64 // Bits per second.
	FrameRate int
}

// EncodedChunk is one compressed access unit. Samples submitted to a
// decoder carry length prefixed NALUs, encoder output is AVCC with
// 4 byte prefixes.
type EncodedChunk struct {
	// Index is the decode order sample index for decoder input and
	// the presentation index for encoder output.
	Index     int
	Timestamp int64
	Duration  int64
	Sync      bool
	Data      []byte
}

// VideoFrame is one decoded or composited picture.
// Image is nil when the decoder produced no picture for the chunk.
type VideoFrame struct {
	Index     int
	Timestamp int64
	Image     image.Image
}

// Decoder decodes chunks into frames.
type Decoder interface {
	Configure(DecoderConfig) error

	// Decode queues a chunk, the data is copied.
	Decode(EncodedChunk) error

	// Flush decodes every queued chunk and returns
	// one frame per chunk in submission order.
	Flush(ctx context.Context) ([]VideoFrame, error)

	// QueueSize returns the number of queued chunks.
	QueueSize() int
	Close() error
}

// Encoder encodes frames into chunks.
type Encoder interface {
	Configure(EncoderConfig) error

	// Encode queues a frame, the pixels are copied.
	Encode(frame VideoFrame, keyFrame bool) error

	// Flush encodes every queued frame and returns
	// one chunk per frame in submission order.
	Flush(ctx context.Context) ([]EncodedChunk, error)

	// ParameterSets returns the SPS and PPS of the output stream.
	// They are known after the first Flush.
	ParameterSets() (sps []byte, pps []byte)

	QueueSize() int
	Close() error
}

// Factory creates codecs for a job.
type Factory interface {
	NewDecoder() (Decoder, error)
	NewEncoder() (Encoder, error)
}

// ToRGBA returns img as *image.RGBA, converting when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
