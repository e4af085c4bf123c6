package phonic

import (
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/pipelined/phonic/signal"
)

// DefaultBlockSize is the number of samples per channel in a single frame.
const DefaultBlockSize = 8192

// Frame is a block of samples which flows through the pipe.
type Frame struct {
	// Index is a position of the frame in the stream, starting from zero.
	Index int
	// Samples is a non-interleaved block of samples.
	Samples signal.Float64
	// EOS is set for the last frame of the stream.
	EOS bool
}

// Size returns number of samples per channel.
func (f Frame) Size() int {
	return f.Samples.Size()
}

// NumChannels returns number of channels.
func (f Frame) NumChannels() int {
	return f.Samples.NumChannels()
}

// Copy returns a deep copy of the frame.
func (f Frame) Copy() Frame {
	return Frame{
		Index:   f.Index,
		Samples: f.Samples.Copy(),
		EOS:     f.EOS,
	}
}

// Equal reports whether frames have the same position, end-of-stream flag
// and bit-identical samples.
func (f Frame) Equal(other Frame) bool {
	return f.Index == other.Index && f.EOS == other.EOS && f.Samples.Equal(other.Samples)
}

// Properties are the stream parameters every stage is configured with.
// They are fixed for the lifetime of a single run.
type Properties struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// Validate checks that properties describe a valid stream.
func (p Properties) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return &ConfigurationError{Param: "sample rate", Reason: fmt.Sprintf("must be positive, got %d", p.SampleRate)}
	case p.Channels <= 0:
		return &ConfigurationError{Param: "channels", Reason: fmt.Sprintf("must be positive, got %d", p.Channels)}
	case p.BlockSize <= 0:
		return &ConfigurationError{Param: "block size", Reason: fmt.Sprintf("must be positive, got %d", p.BlockSize)}
	}
	return nil
}

// Require returns configuration error if properties don't match the
// sample rate and number of channels stage was constructed with. Zero
// values are not checked.
func (p Properties) Require(stage string, sampleRate, channels int) error {
	if sampleRate != 0 && p.SampleRate != sampleRate {
		return &ConfigurationError{
			Stage:  stage,
			Param:  "sample rate",
			Reason: fmt.Sprintf("stage expects %d Hz, stream has %d Hz", sampleRate, p.SampleRate),
		}
	}
	if channels != 0 && p.Channels != channels {
		return &ConfigurationError{
			Stage:  stage,
			Param:  "channels",
			Reason: fmt.Sprintf("stage expects %d channels, stream has %d", channels, p.Channels),
		}
	}
	return nil
}

// StreamInfo describes the stream discovered by decoder.
type StreamInfo struct {
	Properties
	// TotalFrames is the number of samples per channel, -1 if unknown.
	TotalFrames int64
	Duration    time.Duration
	MimeType    string
}

// Blocks returns the number of frames the stream is split into, -1 if the
// length of the stream is unknown.
func (i StreamInfo) Blocks() int {
	if i.TotalFrames < 0 || i.BlockSize <= 0 {
		return -1
	}
	return int((i.TotalFrames + int64(i.BlockSize) - 1) / int64(i.BlockSize))
}

// NewUID returns new unique id value.
func NewUID() string {
	return xid.New().String()
}
