package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"

	"osdrender/pkg/log"
	"osdrender/pkg/processor"
	"osdrender/pkg/system"
	"osdrender/pkg/worker"
)

// Message types.
const (
	TypeProgressInit   = "progressInit"
	TypeProgressUpdate = "progressUpdate"
	TypeComplete       = "complete"
	TypeError          = "error"
)

// Message is the JSON form of a worker response.
type Message struct {
	Type           string           `json:"type"`
	JobID          string           `json:"jobId,omitempty"`
	ExpectedFrames int              `json:"expectedFrames,omitempty"`
	Stats          *processor.Stats `json:"stats,omitempty"`
	System         *system.Status   `json:"system,omitempty"`
	Preview        string           `json:"preview,omitempty"` // PNG data URL.
	Kind           string           `json:"kind,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// NewMessage converts a worker response.
func NewMessage(res worker.Response) (Message, error) {
	switch r := res.(type) {
	case worker.ProgressInit:
		return Message{
			Type:           TypeProgressInit,
			JobID:          r.JobID,
			ExpectedFrames: r.ExpectedFrames,
		}, nil

	case worker.ProgressUpdate:
		msg := Message{
			Type:   TypeProgressUpdate,
			JobID:  r.JobID,
			Stats:  &r.Stats,
			System: &r.System,
		}
		if r.Preview != nil {
			var buf bytes.Buffer
			if err := png.Encode(&buf, r.Preview); err != nil {
				return Message{}, fmt.Errorf("encode preview: %w", err)
			}
			msg.Preview = "data:image/png;base64," +
				base64.StdEncoding.EncodeToString(buf.Bytes())
		}
		return msg, nil

	case worker.Complete:
		return Message{Type: TypeComplete, JobID: r.JobID}, nil

	case worker.Error:
		msg := Message{Type: TypeError, JobID: r.JobID, Kind: r.Kind}
		if r.Err != nil {
			msg.Error = r.Err.Error()
		}
		return msg, nil
	}
	return Message{}, fmt.Errorf("unknown response: %T", res) //nolint:goerr113
}

const subscriberBuffer = 64

// Relay fans out worker responses to subscribers. Slow
// subscribers miss messages instead of blocking the worker.
type Relay struct {
	logger *log.Logger
	sub    chan chan Message
	unsub  chan chan Message
	done   chan struct{}
}

// NewRelay returns a relay, call Run to start it.
func NewRelay(logger *log.Logger) *Relay {
	return &Relay{
		logger: logger,
		sub:    make(chan chan Message),
		unsub:  make(chan chan Message),
		done:   make(chan struct{}),
	}
}

// Run reads responses until ctx is canceled.
func (r *Relay) Run(ctx context.Context, responses <-chan worker.Response) {
	subs := map[chan Message]struct{}{}
	defer func() {
		close(r.done)
		for ch := range subs {
			close(ch)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case ch := <-r.sub:
			subs[ch] = struct{}{}

		case ch := <-r.unsub:
			if _, exists := subs[ch]; exists {
				close(ch)
				delete(subs, ch)
			}

		case res := <-responses:
			msg, err := NewMessage(res)
			if err != nil {
				r.logger.Error().Src("app").Msgf("relay: %v", err)
				continue
			}
			for ch := range subs {
				select {
				case ch <- msg:
				default:
					r.logger.Warn().Src("app").Job(msg.JobID).
						Msgf("relay: dropped %s message", msg.Type)
				}
			}
		}
	}
}

// Subscribe returns a message feed that is closed when the
// relay stops, and a function that cancels the subscription.
func (r *Relay) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	select {
	case r.sub <- ch:
	case <-r.done:
		close(ch)
		return ch, func() {}
	}
	cancel := func() {
		select {
		case r.unsub <- ch:
		case <-r.done:
		}
	}
	return ch, cancel
}
