package worker

import (
	"image"
	"image/color"
	"io"

	"osdrender/pkg/font"
	"osdrender/pkg/processor"
	"osdrender/pkg/system"
)

// Request is sent to the manager.
type Request interface {
	isRequest()
}

// StartJob starts a render job.
type StartJob struct {
	// Fonts are loaded from FontSource by the OSD
	// header font variant when nil.
	Fonts      *font.Pack
	FontSource font.Source // Optional, overrides the manager source.

	Telemetry io.Reader
	Subtitle  io.Reader // Optional.

	Video     io.ReaderAt
	VideoSize int64
	Output    io.WriteSeeker

	ChromaKey      bool
	ChromaKeyColor color.RGBA
}

// CancelJob cancels the running job.
type CancelJob struct{}

func (StartJob) isRequest()  {}
func (CancelJob) isRequest() {}

// Response is emitted by the manager.
type Response interface {
	isResponse()
}

// ProgressInit is sent once the input is parsed.
type ProgressInit struct {
	JobID          string
	ExpectedFrames int
}

// ProgressUpdate is sent periodically while a job runs.
type ProgressUpdate struct {
	JobID   string
	Stats   processor.Stats
	Preview image.Image // Nil except in the first update after compositing starts.
	System  system.Status
}

// Complete is sent when the output is finalized.
type Complete struct {
	JobID string
}

// Error is sent when a request fails.
type Error struct {
	JobID string
	Kind  string
	Err   error
}

func (ProgressInit) isResponse()   {}
func (ProgressUpdate) isResponse() {}
func (Complete) isResponse()       {}
func (Error) isResponse()          {}
