// Package worker runs render jobs one at a time and talks to its
// controller through bounded request and response channels.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"osdrender/pkg/codec"
	"osdrender/pkg/compositor"
	"osdrender/pkg/font"
	"osdrender/pkg/log"
	"osdrender/pkg/osd"
	"osdrender/pkg/processor"
	"osdrender/pkg/srt"
	"osdrender/pkg/system"
	"osdrender/pkg/video/mp4"

	"github.com/google/uuid"
)

// Errors.
var (
	ErrBusy      = errors.New("a job is already running")
	ErrStopped   = errors.New("manager stopped")
	ErrTelemetry = errors.New("invalid telemetry")
	ErrSubtitle  = errors.New("invalid subtitle")
	ErrFonts     = errors.New("could not load fonts")
	ErrRequest   = errors.New("invalid request")
)

// Error kinds.
const (
	KindBusy             = "busy"
	KindCanceled         = "canceled"
	KindRequest          = "request"
	KindTelemetry        = "telemetry"
	KindSubtitle         = "subtitle"
	KindFonts            = "fonts"
	KindInput            = "input"
	KindDecoderConfigure = "decoderConfigure"
	KindEncoderConfigure = "encoderConfigure"
	KindDecoder          = "decoder"
	KindEncoder          = "encoder"
	KindInternal         = "internal"
)

// ErrorKind maps an error to the Kind of an Error response.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrRequest):
		return KindRequest
	case errors.Is(err, ErrTelemetry):
		return KindTelemetry
	case errors.Is(err, ErrSubtitle):
		return KindSubtitle
	case errors.Is(err, ErrFonts):
		return KindFonts
	case errors.Is(err, processor.ErrDecoderConfigure):
		return KindDecoderConfigure
	case errors.Is(err, processor.ErrEncoderConfigure):
		return KindEncoderConfigure
	case errors.Is(err, processor.ErrDecoder):
		return KindDecoder
	case errors.Is(err, processor.ErrEncoder):
		return KindEncoder
	case errors.Is(err, mp4.ErrStreamFormat), errors.Is(err, processor.ErrNoSamples):
		return KindInput
	}
	return KindInternal
}

// NewCodecsFunc returns the codec factory of a job.
type NewCodecsFunc func(jobID string) codec.Factory

// StatusFunc returns the current host status.
type StatusFunc func() system.Status

// Config of the manager.
type Config struct {
	NewCodecs  NewCodecsFunc
	FontSource font.Source
	Logger     *log.Logger
	Status     StatusFunc // Optional.

	FrameRate        int
	ProgressInterval time.Duration
	ReaderWindow     int

	// Capacity of the request and response channels.
	Buffer int
}

// Manager runs at most one job at a time.
type Manager struct {
	cfg       Config
	logger    *log.Logger
	requests  chan Request
	responses chan Response
	done      chan struct{}
	stopOnce  sync.Once
}

// NewManager returns a manager, call Run to start it.
func NewManager(cfg Config) *Manager {
	if cfg.Buffer < 1 {
		cfg.Buffer = 1
	}
	if cfg.Status == nil {
		cfg.Status = func() system.Status { return system.Status{} }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewMockLogger()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		requests:  make(chan Request, cfg.Buffer),
		responses: make(chan Response, cfg.Buffer),
		done:      make(chan struct{}),
	}
}

// Send queues a request. Blocks while the request channel is full.
func (m *Manager) Send(req Request) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.requests <- req:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// Responses returns the response channel. It is never closed,
// responses are dropped once the manager stopped.
func (m *Manager) Responses() <-chan Response {
	return m.responses
}

func (m *Manager) respond(res Response) {
	select {
	case m.responses <- res:
	case <-m.done:
	}
}

type runningJob struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Run handles requests until ctx is canceled. A running job is
// canceled and waited for before Run returns, its last responses
// are dropped.
func (m *Manager) Run(ctx context.Context) {
	var job *runningJob
	defer func() {
		m.stopOnce.Do(func() { close(m.done) })
		if job != nil {
			job.cancel()
			<-job.done
		}
	}()

	for {
		var jobDone chan struct{}
		if job != nil {
			jobDone = job.done
		}

		select {
		case <-ctx.Done():
			return

		case <-jobDone:
			job = nil

		case req := <-m.requests:
			switch r := req.(type) {
			case StartJob:
				if job != nil {
					m.logger.Warn().Src("worker").Job(job.id).Msg("start rejected: job running")
					m.respond(Error{Kind: ErrorKind(ErrBusy), Err: ErrBusy})
					continue
				}
				job = m.startJob(ctx, r)

			case CancelJob:
				if job == nil {
					continue
				}
				m.logger.Info().Src("worker").Job(job.id).Msg("cancel requested")
				job.cancel()
			}
		}
	}
}

func (m *Manager) startJob(ctx context.Context, req StartJob) *runningJob {
	ctx, cancel := context.WithCancel(ctx)
	job := &runningJob{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(job.done)
		defer cancel()

		start := time.Now()
		m.logger.Info().Src("worker").Job(job.id).Msg("job started")
		if err := m.runJob(ctx, job.id, req); err != nil {
			m.logger.Error().Src("worker").Job(job.id).Msgf("job failed: %v", err)
			m.respond(Error{JobID: job.id, Kind: ErrorKind(err), Err: err})
			return
		}
		m.logger.Info().Src("worker").Job(job.id).
			Msgf("job completed in %v", time.Since(start).Round(time.Millisecond))
	}()
	return job
}

func validateRequest(req StartJob) error {
	switch {
	case req.Telemetry == nil:
		return fmt.Errorf("%w: missing telemetry", ErrRequest)
	case req.Video == nil:
		return fmt.Errorf("%w: missing video", ErrRequest)
	case req.VideoSize <= 0:
		return fmt.Errorf("%w: video size %d", ErrRequest, req.VideoSize)
	case req.Output == nil:
		return fmt.Errorf("%w: missing output", ErrRequest)
	}
	return nil
}

func (m *Manager) runJob(ctx context.Context, jobID string, req StartJob) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	header, osdFrames, err := osd.Decode(req.Telemetry)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTelemetry, err)
	}
	m.logger.Debug().Src("osd").Job(jobID).Msgf("version %d, %dx%d grid, %d frames",
		header.Version, header.Config.CharWidth, header.Config.CharHeight, len(osdFrames))

	var subtitles []srt.Frame
	if req.Subtitle != nil {
		var skipped int
		subtitles, skipped, err = srt.Parse(req.Subtitle)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSubtitle, err)
		}
		if skipped != 0 {
			m.logger.Warn().Src("worker").Job(jobID).Msgf("skipped %d subtitle blocks", skipped)
		}
	}

	fonts := req.Fonts
	if fonts == nil {
		src := req.FontSource
		if src == nil {
			src = m.cfg.FontSource
		}
		if src == nil {
			return fmt.Errorf("%w: no font source", ErrFonts)
		}
		if fonts, err = font.LoadPack(ctx, src, header.Config.FontVariant); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrFonts, err)
		}
		m.logger.Debug().Src("worker").Job(jobID).Msgf("loaded font %q", fonts.Name)
	}

	newCompositor := func(w, h int) (processor.Compositor, error) {
		return compositor.New(compositor.Options{
			Header:         *header,
			Frames:         osdFrames,
			Subtitles:      subtitles,
			Fonts:          fonts,
			ChromaKey:      req.ChromaKey,
			ChromaKeyColor: req.ChromaKeyColor,
			SourceWidth:    w,
			SourceHeight:   h,
			FrameRate:      m.cfg.FrameRate,
		})
	}

	p := processor.New(processor.Config{
		Input:            req.Video,
		InputSize:        req.VideoSize,
		Output:           req.Output,
		NewCompositor:    newCompositor,
		Codecs:           m.cfg.NewCodecs(jobID),
		Reporter:         &reporter{m: m, jobID: jobID},
		Logger:           m.logger,
		JobID:            jobID,
		FrameRate:        m.cfg.FrameRate,
		ProgressInterval: m.cfg.ProgressInterval,
		ReaderWindow:     m.cfg.ReaderWindow,
	})
	return p.Run(ctx)
}

// reporter forwards processor progress as responses.
type reporter struct {
	m     *Manager
	jobID string
}

func (r *reporter) ProgressInit(expectedFrames int) {
	r.m.respond(ProgressInit{JobID: r.jobID, ExpectedFrames: expectedFrames})
}

func (r *reporter) ProgressUpdate(stats processor.Stats, preview image.Image) {
	r.m.respond(ProgressUpdate{
		JobID:   r.jobID,
		Stats:   stats,
		Preview: preview,
		System:  r.m.cfg.Status(),
	})
}

func (r *reporter) Complete() {
	r.m.respond(Complete{JobID: r.jobID})
}
