package processor

import (
	"fmt"
	"sync/atomic"
)

// State of a processor.
type State int32

// States.
const (
	StateIdle State = iota
	StateDecodingBatch
	StateReorderingBatch
	StateCompositingAndEncoding
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecodingBatch:
		return "decodingBatch"
	case StateReorderingBatch:
		return "reorderingBatch"
	case StateCompositingAndEncoding:
		return "compositingAndEncoding"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	FramesDecoded        int64 `json:"framesDecoded"`
	FramesDecodedMissing int64 `json:"framesDecodedMissing"`
	FramesEncoded        int64 `json:"framesEncoded"`
	QueuedDecode         int64 `json:"queuedDecode"`
	QueuedEncode         int64 `json:"queuedEncode"`
	DecoderQueueSize     int64 `json:"decoderQueueSize"`
	EncoderQueueSize     int64 `json:"encoderQueueSize"`
	Batches              int64 `json:"batches"`
}

type counters struct {
	framesDecoded        atomic.Int64
	framesDecodedMissing atomic.Int64
	framesEncoded        atomic.Int64
	queuedDecode         atomic.Int64
	queuedEncode         atomic.Int64
	decoderQueueSize     atomic.Int64
	encoderQueueSize     atomic.Int64
	batches              atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesDecoded:        c.framesDecoded.Load(),
		FramesDecodedMissing: c.framesDecodedMissing.Load(),
		FramesEncoded:        c.framesEncoded.Load(),
		QueuedDecode:         c.queuedDecode.Load(),
		QueuedEncode:         c.queuedEncode.Load(),
		DecoderQueueSize:     c.decoderQueueSize.Load(),
		EncoderQueueSize:     c.encoderQueueSize.Load(),
		Batches:              c.batches.Load(),
	}
}
