// Package codecmock is a deterministic in-memory codec.
//
// The decoder paints every picture with IndexColor of its sample index
// and the encoder emits one single-NALU chunk per frame.
package codecmock

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"osdrender/pkg/codec"
	"osdrender/pkg/video/h264"

	"golang.org/x/image/draw"
)

// Parameter sets of the encoder output, baseline 64x48.
var (
	SPS = []byte{0x67, 0x42, 0x00, 0x1e, 0xf4, 0x23, 0xc8}
	PPS = []byte{0x68, 0xce, 0x38, 0x80}
)

// IndexColor returns the fill color of decoded sample i.
func IndexColor(i int) color.RGBA {
	return color.RGBA{R: uint8(i), G: uint8(i >> 8), B: 0x80, A: 0xff}
}

// DecoderOptions .
type DecoderOptions struct {
	ConfigureErr error
	DecodeErr    error
	FlushErr     error
	FlushDelay   time.Duration

	// Missing sample indices are decoded without a picture.
	Missing map[int]bool
}

// EncoderOptions .
type EncoderOptions struct {
	ConfigureErr error
	FlushErr     error
	FlushDelay   time.Duration
}

// Factory creates mock codecs and keeps them for inspection.
type Factory struct {
	DecoderOptions DecoderOptions
	EncoderOptions EncoderOptions

	mu       sync.Mutex
	decoders []*Decoder
	encoders []*Encoder
}

// NewDecoder implements codec.Factory.
func (f *Factory) NewDecoder() (codec.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &Decoder{opts: f.DecoderOptions}
	f.decoders = append(f.decoders, d)
	return d, nil
}

// NewEncoder implements codec.Factory.
func (f *Factory) NewEncoder() (codec.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &Encoder{opts: f.EncoderOptions}
	f.encoders = append(f.encoders, e)
	return e, nil
}

// LastDecoder returns the most recently created decoder.
func (f *Factory) LastDecoder() *Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.decoders) == 0 {
		return nil
	}
	return f.decoders[len(f.decoders)-1]
}

// LastEncoder returns the most recently created encoder.
func (f *Factory) LastEncoder() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.encoders) == 0 {
		return nil
	}
	return f.encoders[len(f.encoders)-1]
}

func wait(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Decoder mock.
type Decoder struct {
	opts DecoderOptions

	mu     sync.Mutex
	config *codec.DecoderConfig
	queue  []codec.EncodedChunk
	closed bool

	// Decoded counts chunks returned by Flush.
	Decoded int
}

// Config returns the applied configuration.
func (d *Decoder) Config() *codec.DecoderConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Configure implements codec.Decoder.
func (d *Decoder) Configure(config codec.DecoderConfig) error {
	if d.opts.ConfigureErr != nil {
		return d.opts.ConfigureErr
	}
	if config.CodedWidth <= 0 || config.CodedHeight <= 0 {
		return fmt.Errorf("invalid coded size: %dx%d", config.CodedWidth, config.CodedHeight)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = &config
	return nil
}

// Decode implements codec.Decoder.
func (d *Decoder) Decode(chunk codec.EncodedChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return codec.ErrClosed
	}
	if d.config == nil {
		return codec.ErrNotConfigured
	}
	if d.opts.DecodeErr != nil {
		return d.opts.DecodeErr
	}
	chunk.Data = append([]byte(nil), chunk.Data...)
	d.queue = append(d.queue, chunk)
	return nil
}

// Flush implements codec.Decoder.
func (d *Decoder) Flush(ctx context.Context) ([]codec.VideoFrame, error) {
	if err := wait(ctx, d.opts.FlushDelay); err != nil {
		return nil, err
	}
	if d.opts.FlushErr != nil {
		return nil, d.opts.FlushErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, codec.ErrClosed
	}

	frames := make([]codec.VideoFrame, 0, len(d.queue))
	for _, chunk := range d.queue {
		frame := codec.VideoFrame{
			Index:     chunk.Index,
			Timestamp: chunk.Timestamp,
		}
		if !d.opts.Missing[chunk.Index] {
			img := image.NewRGBA(image.Rect(0, 0, d.config.CodedWidth, d.config.CodedHeight))
			draw.Draw(img, img.Bounds(), image.NewUniform(IndexColor(chunk.Index)), image.Point{}, draw.Src)
			frame.Image = img
		}
		frames = append(frames, frame)
	}
	d.Decoded += len(d.queue)
	d.queue = nil
	return frames, nil
}

// QueueSize implements codec.Decoder.
func (d *Decoder) QueueSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close implements codec.Decoder.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.queue = nil
	return nil
}

// Closed reports whether Close was called.
func (d *Decoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// EncodedFrame records one frame passed to Encode.
type EncodedFrame struct {
	Index    int
	KeyFrame bool
	Size     image.Point

	// Center is the pixel at the center of the frame.
	Center color.RGBA
}

// Encoder mock.
type Encoder struct {
	opts EncoderOptions

	mu      sync.Mutex
	config  *codec.EncoderConfig
	queue   []codec.EncodedChunk
	flushed bool
	closed  bool

	// Frames records every encoded frame.
	Frames []EncodedFrame
}

// Config returns the applied configuration.
func (e *Encoder) Config() *codec.EncoderConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Configure implements codec.Encoder.
func (e *Encoder) Configure(config codec.EncoderConfig) error {
	if e.opts.ConfigureErr != nil {
		return e.opts.ConfigureErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = &config
	return nil
}

// Encode implements codec.Encoder.
func (e *Encoder) Encode(frame codec.VideoFrame, keyFrame bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codec.ErrClosed
	}
	if e.config == nil {
		return codec.ErrNotConfigured
	}
	b := frame.Image.Bounds()
	center := color.RGBAModel.Convert(
		frame.Image.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.RGBA)
	e.Frames = append(e.Frames, EncodedFrame{
		Index:    frame.Index,
		KeyFrame: keyFrame,
		Size:     b.Size(),
		Center:   center,
	})

	header := byte(h264.NALUTypeNonIDR) | 0x40
	if keyFrame {
		header = byte(h264.NALUTypeIDR) | 0x60
	}
	nalu := []byte{header, byte(frame.Index >> 8), byte(frame.Index)}
	e.queue = append(e.queue, codec.EncodedChunk{
		Index:     frame.Index,
		Timestamp: frame.Timestamp,
		Sync:      keyFrame,
		Data:      h264.AVCCMarshal([][]byte{nalu}),
	})
	return nil
}

// Flush implements codec.Encoder.
func (e *Encoder) Flush(ctx context.Context) ([]codec.EncodedChunk, error) {
	if err := wait(ctx, e.opts.FlushDelay); err != nil {
		return nil, err
	}
	if e.opts.FlushErr != nil {
		return nil, e.opts.FlushErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, codec.ErrClosed
	}
	chunks := e.queue
	e.queue = nil
	e.flushed = true
	return chunks, nil
}

// ParameterSets implements codec.Encoder.
func (e *Encoder) ParameterSets() ([]byte, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.flushed {
		return nil, nil
	}
	return SPS, PPS
}

// QueueSize implements codec.Encoder.
func (e *Encoder) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close implements codec.Encoder.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.queue = nil
	return nil
}

// Closed reports whether Close was called.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
