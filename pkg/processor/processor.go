// Package processor renders a job: it decodes the input video one GOP at
// a time, composites every frame in presentation order, encodes the
// result and muxes it into a new MP4 file.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"osdrender/pkg/codec"
	"osdrender/pkg/log"
	"osdrender/pkg/video/h264"
	"osdrender/pkg/video/mp4"
	"osdrender/pkg/video/mp4/bitio"
	"osdrender/pkg/video/mp4muxer"
	"osdrender/pkg/video/writerseeker"
)

// Errors.
var (
	ErrDecoderConfigure = errors.New("could not configure decoder")
	ErrEncoderConfigure = errors.New("could not configure encoder")
	ErrDecoder          = errors.New("decoder")
	ErrEncoder          = errors.New("encoder")
	ErrMissingFrame     = errors.New("decoder produced no frame")
	ErrNoSamples        = errors.New("video has no samples")
)

// Defaults.
const (
	BitrateQuantum          = 5_000_000
	DefaultFrameRate        = mp4muxer.DefaultFrameRate
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultReaderWindow     = 1 << 20

	outputCodec = "avc1.640028"
)

// Compositor draws the overlay on a decoded frame.
type Compositor interface {
	Composite(src image.Image, index int) *image.RGBA
	Width() int
	Height() int
}

// NewCompositorFunc returns the compositor for a source size.
type NewCompositorFunc func(sourceWidth, sourceHeight int) (Compositor, error)

// Reporter receives progress notifications.
type Reporter interface {
	ProgressInit(expectedFrames int)

	// ProgressUpdate is called from the progress ticker. Preview
	// is the first composited frame, sent once.
	ProgressUpdate(stats Stats, preview image.Image)

	Complete()
}

// Config of a job.
type Config struct {
	Input     io.ReaderAt
	InputSize int64
	Output    io.WriteSeeker

	NewCompositor NewCompositorFunc
	Codecs        codec.Factory
	Reporter      Reporter // Optional.

	Logger *log.Logger
	JobID  string

	FrameRate        int           // Default 60.
	ProgressInterval time.Duration // Default 500ms.
	ReaderWindow     int           // Default 1 MiB.
}

// DecodedFrame is one frame of the current batch.
type DecodedFrame struct {
	Index     int   // Decode order sample index.
	Timestamp int64 // Decode time in media timescale units.
	Image     image.Image
	Sync      bool
}

// Processor runs one job, it owns the input, output and codecs.
type Processor struct {
	cfg    Config
	logger *log.Logger

	state    atomic.Int32
	counters counters

	previewMu   sync.Mutex
	preview     image.Image
	previewSent bool
}

// New returns a processor.
func New(cfg Config) *Processor {
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.ReaderWindow == 0 {
		cfg.ReaderWindow = DefaultReaderWindow
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewMockLogger()
	}
	return &Processor{cfg: cfg, logger: logger}
}

type nopReporter struct{}

func (nopReporter) ProgressInit(int)                  {}
func (nopReporter) ProgressUpdate(Stats, image.Image) {}
func (nopReporter) Complete()                         {}

// State returns the current state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return p.counters.snapshot()
}

func (p *Processor) logf(level log.Level, format string, a ...interface{}) {
	var e *log.Event
	switch level {
	case log.LevelError:
		e = p.logger.Error()
	case log.LevelWarning:
		e = p.logger.Warn()
	case log.LevelInfo:
		e = p.logger.Info()
	default:
		e = p.logger.Debug()
	}
	e.Src("processor").Job(p.cfg.JobID).Msgf(format, a...)
}

func (p *Processor) mp4Logf(format string, a ...interface{}) {
	p.logger.Debug().Src("mp4").Job(p.cfg.JobID).Msgf(format, a...)
}

// Bitrate returns the average bitrate of a payload rounded up to
// the next BitrateQuantum. Never less than one quantum.
func Bitrate(payloadSize int64, timescale uint32, duration uint64) int64 {
	if payloadSize <= 0 || timescale == 0 || duration == 0 {
		return BitrateQuantum
	}
	bps := uint64(payloadSize) * 8 * uint64(timescale) / duration
	quanta := (bps + BitrateQuantum - 1) / BitrateQuantum
	if quanta == 0 {
		quanta = 1
	}
	return int64(quanta) * BitrateQuantum
}

// NewDecoderConfig derives the decoder configuration from a track.
func NewDecoderConfig(track *mp4.Track) (codec.DecoderConfig, error) {
	avcC := track.AvcC
	if len(avcC.SequenceParameterSets) == 0 || len(avcC.PictureParameterSets) == 0 {
		return codec.DecoderConfig{}, fmt.Errorf("%w: avcC has no SPS or PPS", mp4.ErrStreamFormat)
	}

	var sps h264.SPS
	if err := sps.Unmarshal(avcC.SequenceParameterSets[0].NALUnit); err != nil {
		return codec.DecoderConfig{}, fmt.Errorf("parse sps: %w", err)
	}

	ws := &writerseeker.WriterSeeker{}
	w, err := bitio.NewWriter(ws)
	if err != nil {
		return codec.DecoderConfig{}, err
	}
	if err := mp4.WriteBox(w, avcC); err != nil {
		return codec.DecoderConfig{}, fmt.Errorf("marshal avcC: %w", err)
	}
	if err := w.Flush(); err != nil {
		return codec.DecoderConfig{}, err
	}

	config := codec.DecoderConfig{
		Codec:          h264.CodecString(avcC.Profile, avcC.ProfileCompatibility, avcC.Level),
		CodedWidth:     sps.Width(),
		CodedHeight:    sps.Height(),
		Description:    ws.Bytes()[8:],
		NALULengthSize: int(avcC.LengthSizeMinusOne) + 1,
	}
	for _, ps := range avcC.SequenceParameterSets {
		config.SPS = append(config.SPS, ps.NALUnit)
	}
	for _, ps := range avcC.PictureParameterSets {
		config.PPS = append(config.PPS, ps.NALUnit)
	}
	return config, nil
}

// NextBatch returns the end of the batch starting at start. A batch
// ends before the next sync sample or at the end of the samples.
func NextBatch(samples *mp4.SampleTable, start int) int {
	end := start
	for end < samples.SampleCount() {
		if end > start && samples.IsSampleSync(end) {
			break
		}
		end++
	}
	return end
}

type job struct {
	reader  *bitio.Reader
	samples *mp4.SampleTable
	decoder codec.Decoder
	encoder codec.Encoder
	comp    Compositor
	muxer   *mp4muxer.Muxer
}

// Run processes the job. A canceled job returns the context error
// and leaves the output unfinalized.
func (p *Processor) Run(ctx context.Context) error {
	err := p.run(ctx)
	if err != nil {
		p.setState(StateFailed)
		p.logf(log.LevelError, "failed: %v", err)
		return err
	}
	p.setState(StateDone)
	return nil
}

func (p *Processor) run(ctx context.Context) error { //nolint:funlen
	var j job
	j.reader = bitio.NewReader(p.cfg.Input, p.cfg.InputSize, p.cfg.ReaderWindow)

	file, err := mp4.ReadFile(j.reader, p.mp4Logf)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	track, err := file.VideoTrack()
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	j.samples = track.Samples

	// Decoder.
	decoderConfig, err := NewDecoderConfig(track)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecoderConfigure, err)
	}
	if j.decoder, err = p.cfg.Codecs.NewDecoder(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoderConfigure, err)
	}
	defer j.decoder.Close()
	if err := j.decoder.Configure(decoderConfig); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoderConfigure, err)
	}
	p.logf(log.LevelDebug, "decoder: %v %dx%d",
		decoderConfig.Codec, decoderConfig.CodedWidth, decoderConfig.CodedHeight)

	if j.comp, err = p.cfg.NewCompositor(decoderConfig.CodedWidth, decoderConfig.CodedHeight); err != nil {
		return fmt.Errorf("compositor: %w", err)
	}

	// Encoder.
	duration := track.Duration()
	if duration == 0 {
		duration = uint64(j.samples.DecodeTime(j.samples.SampleCount()))
	}
	bitrate := Bitrate(file.Mdat.DataSize, track.Timescale(), duration)
	encoderConfig := codec.EncoderConfig{
		Codec:     outputCodec,
		Width:     j.comp.Width(),
		Height:    j.comp.Height(),
		Bitrate:   bitrate,
		FrameRate: p.cfg.FrameRate,
	}
	if j.encoder, err = p.cfg.Codecs.NewEncoder(); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderConfigure, err)
	}
	defer j.encoder.Close()
	if err := j.encoder.Configure(encoderConfig); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderConfigure, err)
	}
	p.logf(log.LevelDebug, "encoder: %dx%d %d bps %d fps",
		encoderConfig.Width, encoderConfig.Height, bitrate, p.cfg.FrameRate)

	j.muxer, err = mp4muxer.New(p.cfg.Output, mp4muxer.Config{
		Width:     encoderConfig.Width,
		Height:    encoderConfig.Height,
		FrameRate: p.cfg.FrameRate,
	})
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	expectedFrames := j.samples.SampleCount()
	if expectedFrames == 0 {
		return ErrNoSamples
	}
	p.cfg.Reporter.ProgressInit(expectedFrames)

	stopProgress := p.startProgress(ctx)
	defer stopProgress()

	for start := 0; start < expectedFrames; {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := NextBatch(j.samples, start)
		if err := p.processBatch(ctx, &j, start, end); err != nil {
			return err
		}
		p.counters.batches.Add(1)
		start = end
	}

	p.setState(StateFinalizing)
	sps, pps := j.encoder.ParameterSets()
	j.muxer.SetParameterSets(sps, pps)
	if err := j.muxer.Finalize(); err != nil {
		return fmt.Errorf("finalize output: %w", err)
	}

	stopProgress()
	stats := p.Stats()
	p.logf(log.LevelInfo, "done: %d frames encoded, %d missing, %d batches",
		stats.FramesEncoded, stats.FramesDecodedMissing, stats.Batches)
	p.cfg.Reporter.ProgressUpdate(stats, p.takePreview())
	p.cfg.Reporter.Complete()
	return nil
}

func (p *Processor) processBatch(ctx context.Context, j *job, start, end int) error {
	frames, err := p.decodeBatch(ctx, j, start, end)
	if err != nil {
		return err
	}

	p.setState(StateReorderingBatch)
	order := j.samples.PresentationOrder(start, end-start)

	p.setState(StateCompositingAndEncoding)
	if err := p.compositeBatch(j, frames, start, order); err != nil {
		return err
	}
	return p.encodeBatch(ctx, j)
}

func (p *Processor) decodeBatch(ctx context.Context, j *job, start, end int) ([]DecodedFrame, error) {
	p.setState(StateDecodingBatch)
	n := end - start

	frames := make([]DecodedFrame, n)
	for i := start; i < end; i++ {
		data, err := j.samples.GetSample(j.reader, i)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		frames[i-start] = DecodedFrame{
			Index:     i,
			Timestamp: j.samples.DecodeTime(i),
			Sync:      j.samples.IsSampleSync(i),
		}
		chunk := codec.EncodedChunk{
			Index:     i,
			Timestamp: frames[i-start].Timestamp,
			Duration:  int64(j.samples.SampleDelta()),
			Sync:      frames[i-start].Sync,
			Data:      data,
		}
		if err := j.decoder.Decode(chunk); err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrDecoder, i, err)
		}
		p.counters.queuedDecode.Add(1)
		p.counters.decoderQueueSize.Store(int64(j.decoder.QueueSize()))
	}

	decoded, err := j.decoder.Flush(ctx)
	p.counters.queuedDecode.Add(-int64(n))
	p.counters.decoderQueueSize.Store(int64(j.decoder.QueueSize()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: flush: %v", ErrDecoder, err)
	}

	// Decoders may return frames in any order.
	for _, frame := range decoded {
		if frame.Index < start || frame.Index >= end {
			p.logf(log.LevelWarning, "decoder returned frame %d outside batch [%d, %d)",
				frame.Index, start, end)
			continue
		}
		if frame.Image != nil {
			frames[frame.Index-start].Image = frame.Image
		}
	}
	return frames, nil
}

func (p *Processor) compositeBatch(j *job, frames []DecodedFrame, start int, order []int) error {
	sampleDelta := int64(j.muxer.SampleDelta())

	// Sync flags are kept. A key frame is forced only when
	// the batch lost its sync frame.
	forceKeyFrame := true
	for _, frame := range frames {
		if frame.Sync && frame.Image != nil {
			forceKeyFrame = false
			break
		}
	}
	for pos, index := range order {
		frame := &frames[index-start]
		presentation := start + pos

		if frame.Image == nil {
			p.counters.framesDecodedMissing.Add(1)
			p.logf(log.LevelDebug, "%v: sample %d", ErrMissingFrame, frame.Index)
			continue
		}
		p.counters.framesDecoded.Add(1)

		composited := j.comp.Composite(frame.Image, presentation)
		p.setPreview(composited)

		keyFrame := frame.Sync || forceKeyFrame
		forceKeyFrame = false

		err := j.encoder.Encode(codec.VideoFrame{
			Index:     presentation,
			Timestamp: int64(presentation) * sampleDelta,
			Image:     composited,
		}, keyFrame)
		frame.Image = nil
		if err != nil {
			return fmt.Errorf("%w: frame %d: %v", ErrEncoder, presentation, err)
		}
		p.counters.queuedEncode.Add(1)
		p.counters.encoderQueueSize.Store(int64(j.encoder.QueueSize()))
	}
	return nil
}

func (p *Processor) encodeBatch(ctx context.Context, j *job) error {
	queued := p.counters.queuedEncode.Load()
	chunks, err := j.encoder.Flush(ctx)
	p.counters.queuedEncode.Add(-queued)
	p.counters.encoderQueueSize.Store(int64(j.encoder.QueueSize()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: flush: %v", ErrEncoder, err)
	}

	for _, chunk := range chunks {
		sample := mp4muxer.Sample{Data: chunk.Data, Sync: chunk.Sync}
		if err := j.muxer.WriteSample(sample); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		p.counters.framesEncoded.Add(1)
	}
	return nil
}

func (p *Processor) setPreview(img *image.RGBA) {
	p.previewMu.Lock()
	defer p.previewMu.Unlock()
	if p.preview != nil {
		return
	}
	preview := image.NewRGBA(img.Bounds())
	copy(preview.Pix, img.Pix)
	p.preview = preview
}

// takePreview returns the preview the first time it is available.
func (p *Processor) takePreview() image.Image {
	p.previewMu.Lock()
	defer p.previewMu.Unlock()
	if p.preview == nil || p.previewSent {
		return nil
	}
	p.previewSent = true
	return p.preview
}

// startProgress starts the progress ticker. The returned
// function stops it and waits for the last update to return.
func (p *Processor) startProgress(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.cfg.Reporter.ProgressUpdate(p.Stats(), p.takePreview())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
