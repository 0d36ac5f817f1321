package osd

import "sort"

// Selector picks the frame shown at a video frame index. Indices
// must not decrease between calls, the pointer never moves back.
type Selector struct {
	frames []Frame
	pos    int
}

// NewSelector returns a selector over frames, which are
// sorted by frame number if needed.
func NewSelector(frames []Frame) *Selector {
	sorted := sort.SliceIsSorted(frames, func(i, j int) bool {
		return frames[i].FrameNumber < frames[j].FrameNumber
	})
	if !sorted {
		frames = append([]Frame(nil), frames...)
		sort.SliceStable(frames, func(i, j int) bool {
			return frames[i].FrameNumber < frames[j].FrameNumber
		})
	}
	return &Selector{frames: frames}
}

// Advance moves to the frame with the greatest frame number not
// exceeding index. Before the first frame the first frame is used.
// Returns nil when there are no frames.
func (s *Selector) Advance(index int) *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	for s.pos+1 < len(s.frames) && int64(s.frames[s.pos+1].FrameNumber) <= int64(index) {
		s.pos++
	}
	return &s.frames[s.pos]
}

// Current returns the selected frame or nil.
func (s *Selector) Current() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[s.pos]
}

// Len returns the number of frames.
func (s *Selector) Len() int {
	return len(s.frames)
}
