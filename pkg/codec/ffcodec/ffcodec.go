// Package ffcodec implements the codec boundary with one ffmpeg
// subprocess per flushed batch. Decoders feed Annex-B on stdin and read
// raw RGBA pictures from stdout, encoders do the reverse with libx264.
package ffcodec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"osdrender/pkg/codec"
	"osdrender/pkg/ffmpeg"
	"osdrender/pkg/log"
	"osdrender/pkg/video/h264"

	"golang.org/x/sync/errgroup"
)

// Errors.
var (
	ErrNoParameterSets = errors.New("missing SPS or PPS")
	ErrShortFrame      = errors.New("truncated raw frame")
	ErrFrameSize       = errors.New("frame size does not match configuration")
	ErrChunkCount      = errors.New("encoder output does not match input frame count")
)

// DefaultPreset libx264 preset.
const DefaultPreset = "medium"

// Factory creates ffmpeg backed codecs.
type Factory struct {
	FFmpeg     *ffmpeg.FFMPEG
	NewProcess ffmpeg.NewProcessFunc // Defaults to ffmpeg.NewProcess.
	Logger     *log.Logger
	JobID      string

	Preset string

	// ExtraArgs are added to the encoder arguments before the output.
	ExtraArgs []string

	// StopTimeout is the grace period between interrupt and kill.
	StopTimeout time.Duration
}

// NewDecoder implements codec.Factory.
func (f *Factory) NewDecoder() (codec.Decoder, error) {
	return &Decoder{f: f}, nil
}

// NewEncoder implements codec.Factory.
func (f *Factory) NewEncoder() (codec.Encoder, error) {
	return &Encoder{f: f}, nil
}

func (f *Factory) logf(level log.Level, format string, a ...interface{}) {
	if f.Logger == nil {
		return
	}
	var e *log.Event
	switch level {
	case log.LevelError:
		e = f.Logger.Error()
	case log.LevelWarning:
		e = f.Logger.Warn()
	case log.LevelInfo:
		e = f.Logger.Info()
	default:
		e = f.Logger.Debug()
	}
	e.Src("ffmpeg").Job(f.JobID).Msgf(format, a...)
}

// run starts ffmpeg with args, writes input to its stdin and
// passes its stdout to read. The three run concurrently.
func (f *Factory) run(
	ctx context.Context,
	args []string,
	input []byte,
	read func(io.Reader) error,
) error {
	cmd := f.FFmpeg.Command(args...)

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	newProcess := f.NewProcess
	if newProcess == nil {
		newProcess = ffmpeg.NewProcess
	}
	timeout := f.StopTimeout
	if timeout == 0 {
		timeout = time.Second
	}
	process := newProcess(cmd).
		Timeout(timeout).
		StderrLogger(func(msg string) {
			f.logf(log.LevelDebug, "%v", msg)
		})

	f.logf(log.LevelDebug, "starting: %v", strings.Join(args, " "))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := process.Start(ctx)
		stdinR.Close()
		stdoutW.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := stdinW.Write(input)
		stdinW.Close()
		if err != nil {
			return fmt.Errorf("write stdin: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := read(stdoutR)
		if err != nil {
			stdoutR.CloseWithError(err)
			return err
		}
		// Drain so ffmpeg never blocks on a full pipe.
		_, err = io.Copy(io.Discard, stdoutR)
		return err
	})
	return g.Wait()
}

// Decoder decodes batches of H.264 samples.
type Decoder struct {
	f *Factory

	mu     sync.Mutex
	config *codec.DecoderConfig
	sps    *h264.SPS
	queue  []codec.EncodedChunk
	closed bool
}

// Configure implements codec.Decoder.
func (d *Decoder) Configure(config codec.DecoderConfig) error {
	if len(config.SPS) == 0 || len(config.PPS) == 0 {
		return ErrNoParameterSets
	}
	var sps h264.SPS
	if err := sps.Unmarshal(config.SPS[0]); err != nil {
		return fmt.Errorf("parse sps: %w", err)
	}
	if config.CodedWidth <= 0 || config.CodedHeight <= 0 {
		config.CodedWidth = sps.Width()
		config.CodedHeight = sps.Height()
	}
	if config.NALULengthSize == 0 {
		config.NALULengthSize = 4
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = &config
	d.sps = &sps
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
	chunk.Data = append([]byte(nil), chunk.Data...)
	d.queue = append(d.queue, chunk)
	return nil
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

func (d *Decoder) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"pipe:1",
	}
}

// Flush implements codec.Decoder.
func (d *Decoder) Flush(ctx context.Context) ([]codec.VideoFrame, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, codec.ErrClosed
	}
	queue := d.queue
	d.queue = nil
	config := d.config
	sps := d.sps
	d.mu.Unlock()

	if len(queue) == 0 {
		return nil, nil
	}

	aus := make([][][]byte, len(queue))
	var stream []byte
	for i, chunk := range queue {
		nalus, err := h264.AVCCUnmarshalSize(chunk.Data, config.NALULengthSize)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", chunk.Index, err)
		}
		aus[i] = nalus

		// Every batch starts with a sync sample,
		// repeat the parameter sets so it decodes on its own.
		if i == 0 || chunk.Sync {
			stream = append(stream, h264.AnnexBMarshal(config.SPS)...)
			stream = append(stream, h264.AnnexBMarshal(config.PPS)...)
		}
		stream = append(stream, h264.AnnexBMarshal(nalus)...)
	}

	order, err := h264.DisplayOrder(aus, sps)
	if err != nil {
		d.f.logf(log.LevelWarning, "display order unknown, assuming decode order: %v", err)
		order = make([]int, len(aus))
		for i := range order {
			order[i] = i
		}
	}

	var pictures []*image.RGBA
	read := func(r io.Reader) error {
		var err error
		pictures, err = readFrames(r, config.CodedWidth, config.CodedHeight)
		return err
	}
	if err := d.f.run(ctx, d.args(), stream, read); err != nil {
		return nil, err
	}

	frames := make([]codec.VideoFrame, len(queue))
	for i, chunk := range queue {
		frames[i] = codec.VideoFrame{Index: chunk.Index, Timestamp: chunk.Timestamp}
	}

	// Raw video carries no timestamps. Pictures can only be matched
	// to samples by position when none were dropped or added.
	if len(pictures) != len(queue) {
		d.f.logf(log.LevelWarning,
			"decoded %d pictures for %d samples, batch %d-%d is unattributable",
			len(pictures), len(queue), queue[0].Index, queue[len(queue)-1].Index)
		return frames, nil
	}
	for k, picture := range pictures {
		frames[order[k]].Image = picture
	}
	return frames, nil
}

func readFrames(r io.Reader, width, height int) ([]*image.RGBA, error) {
	var frames []*image.RGBA
	for {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		_, err := io.ReadFull(r, img.Pix)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrShortFrame, len(frames), err)
		}
		frames = append(frames, img)
	}
}

type queuedFrame struct {
	index     int
	timestamp int64
	keyFrame  bool
}

// Encoder encodes batches of RGBA frames with libx264.
//
// Every flush runs a new libx264 process, so the first picture of
// each batch is always an IDR. Chunks are only flagged Sync where a
// key frame was requested, or for the first chunk of the stream.
type Encoder struct {
	f *Factory

	mu      sync.Mutex
	config  *codec.EncoderConfig
	pix     []byte
	queue   []queuedFrame
	sps     []byte
	pps     []byte
	started bool
	closed  bool
}

// Configure implements codec.Encoder.
func (e *Encoder) Configure(config codec.EncoderConfig) error {
	if config.Width <= 0 || config.Height <= 0 ||
		config.Width%2 != 0 || config.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrFrameSize, config.Width, config.Height)
	}
	if config.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %d", config.FrameRate)
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
	rgba := codec.ToRGBA(frame.Image)
	if rgba.Rect.Dx() != e.config.Width || rgba.Rect.Dy() != e.config.Height {
		return fmt.Errorf("%w: got %v", ErrFrameSize, rgba.Rect.Size())
	}
	for y := 0; y < e.config.Height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+e.config.Width*4]
		e.pix = append(e.pix, row...)
	}
	e.queue = append(e.queue, queuedFrame{
		index:     frame.Index,
		timestamp: frame.Timestamp,
		keyFrame:  keyFrame,
	})
	return nil
}

// QueueSize implements codec.Encoder.
func (e *Encoder) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ParameterSets implements codec.Encoder.
func (e *Encoder) ParameterSets() ([]byte, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sps, e.pps
}

// Close implements codec.Encoder.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.queue = nil
	e.pix = nil
	return nil
}

func (e *Encoder) args(config codec.EncoderConfig, queue []queuedFrame) []string {
	preset := e.f.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(config.Width) + "x" + strconv.Itoa(config.Height),
		"-r", strconv.Itoa(config.FrameRate),
		"-i", "pipe:0",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-preset", preset,
		"-b:v", strconv.FormatInt(config.Bitrate, 10),
		"-bf", "0",
		"-g", strconv.Itoa(len(queue)),
		"-sc_threshold", "0",
	}

	var keys []string
	for n, frame := range queue {
		if frame.keyFrame {
			keys = append(keys, "eq(n,"+strconv.Itoa(n)+")")
		}
	}
	if len(keys) != 0 {
		args = append(args, "-force_key_frames", "expr:"+strings.Join(keys, "+"))
	}

	args = append(args, e.f.ExtraArgs...)
	return append(args, "-f", "h264", "pipe:1")
}

// Flush implements codec.Encoder.
func (e *Encoder) Flush(ctx context.Context) ([]codec.EncodedChunk, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, codec.ErrClosed
	}
	queue := e.queue
	pix := e.pix
	e.queue = nil
	e.pix = nil
	config := *e.config
	e.mu.Unlock()

	if len(queue) == 0 {
		return nil, nil
	}

	var out bytes.Buffer
	read := func(r io.Reader) error {
		_, err := io.Copy(&out, r)
		return err
	}
	if err := e.f.run(ctx, e.args(config, queue), pix, read); err != nil {
		return nil, err
	}

	nalus, err := h264.AnnexBUnmarshal(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parse encoder output: %w", err)
	}

	e.mu.Lock()
	first := !e.started
	e.mu.Unlock()

	var chunks []codec.EncodedChunk
	for _, au := range h264.AccessUnits(nalus) {
		if sps, pps := h264.ParameterSets(au); sps != nil && pps != nil {
			e.setParameterSets(sps, pps)
		}

		var samples [][]byte
		vcl := false
		for _, nalu := range au {
			switch typ := h264.TypeOf(nalu); {
			case typ == h264.NALUTypeSPS, typ == h264.NALUTypePPS,
				typ == h264.NALUTypeAccessUnitDelimiter:
			default:
				vcl = vcl || typ.IsVCL()
				samples = append(samples, nalu)
			}
		}
		if !vcl {
			continue
		}

		n := len(chunks)
		if n >= len(queue) {
			return nil, fmt.Errorf("%w: more than %d pictures", ErrChunkCount, len(queue))
		}
		chunks = append(chunks, codec.EncodedChunk{
			Index:     queue[n].index,
			Timestamp: queue[n].timestamp,
			Sync:      h264.IDRPresent(au) && (queue[n].keyFrame || (first && n == 0)),
			Data:      h264.AVCCMarshal(samples),
		})
	}
	if len(chunks) != len(queue) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChunkCount, len(chunks), len(queue))
	}

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	return chunks, nil
}

func (e *Encoder) setParameterSets(sps, pps []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sps == nil {
		e.sps = append([]byte(nil), sps...)
		e.pps = append([]byte(nil), pps...)
	}
}
