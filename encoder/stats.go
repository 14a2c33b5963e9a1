package encoder

import "go.uber.org/atomic"

type stats struct {
	frames    atomic.Uint64
	keyFrames atomic.Uint64
	bytes     atomic.Uint64
	errors    atomic.Uint64
}

// Stats is a snapshot of the session counters.
type Stats struct {
	Frames    uint64 `json:"frames"`
	KeyFrames uint64 `json:"key_frames"`
	Bytes     uint64 `json:"bytes"`
	Errors    uint64 `json:"errors"`
}

func (s *stats) snapshot() Stats {
	return Stats{
		Frames:    s.frames.Load(),
		KeyFrames: s.keyFrames.Load(),
		Bytes:     s.bytes.Load(),
		Errors:    s.errors.Load(),
	}
}
