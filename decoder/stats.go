package decoder

import "go.uber.org/atomic"

type stats struct {
	decoded       atomic.Uint64
	keyFrames     atomic.Uint64
	noFrameBuffer atomic.Uint64
	bytes         atomic.Uint64
	errors        atomic.Uint64
}

// Stats is a snapshot of the session counters.
type Stats struct {
	Decoded       uint64 `json:"decoded"`
	KeyFrames     uint64 `json:"key_frames"`
	NoFrameBuffer uint64 `json:"no_frame_buffer"`
	Bytes         uint64 `json:"bytes"`
	Errors        uint64 `json:"errors"`
}

func (s *stats) snapshot() Stats {
	return Stats{
		Decoded:       s.decoded.Load(),
		KeyFrames:     s.keyFrames.Load(),
		NoFrameBuffer: s.noFrameBuffer.Load(),
		Bytes:         s.bytes.Load(),
		Errors:        s.errors.Load(),
	}
}
