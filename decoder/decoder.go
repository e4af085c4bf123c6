// Package decoder splits raw audio sources into frames of fixed size.
//
// Decoder wraps a Source and takes care of start offset, duration, block
// size, end-of-stream detection and decoded-frame cache. Sources only need
// to read samples.
package decoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

// Source is a raw origin of samples.
//
// Open probes the source and returns its properties, BlockSize is ignored.
// TotalFrames is -1 if length of the source is unknown. Read fills provided
// buffer and returns number of samples per channel read. It returns io.EOF
// if no samples were read.
type Source interface {
	Open() (phonic.StreamInfo, error)
	Read(signal.Float64) (int, error)
	Close() error
	String() string
}

// SampleSeeker is implemented by sources that can skip samples without reading
// them. SeekSamples is called after Open and before the first Read.
type SampleSeeker interface {
	SeekSamples(samples int64) error
}

// Decoder produces frames of fixed size from the source.
type Decoder struct {
	src       Source
	blockSize int
	start     float64
	duration  float64
	stack     *phonic.Stack

	info   phonic.StreamInfo
	opened bool
	done   bool
	index  int
	read   int64 // samples per channel read in current pass
	limit  int64 // -1 if unbounded
	ahead  *phonic.Frame
}

// Option configures decoder.
type Option func(*Decoder) error

// WithBlockSize sets number of samples per channel in a frame.
func WithBlockSize(n int) Option {
	return func(d *Decoder) error {
		if n <= 0 {
			return &phonic.ConfigurationError{Stage: d.String(), Param: "block size", Reason: fmt.Sprintf("must be positive, got %d", n)}
		}
		d.blockSize = n
		return nil
	}
}

// WithStart sets start offset in seconds.
func WithStart(seconds float64) Option {
	return func(d *Decoder) error {
		if seconds < 0 {
			return &phonic.ConfigurationError{Stage: d.String(), Param: "start", Reason: fmt.Sprintf("must not be negative, got %v", seconds)}
		}
		d.start = seconds
		return nil
	}
}

// WithDuration limits decoded duration in seconds. Zero means till the
// end of the source.
func WithDuration(seconds float64) Option {
	return func(d *Decoder) error {
		if seconds < 0 {
			return &phonic.ConfigurationError{Stage: d.String(), Param: "duration", Reason: fmt.Sprintf("must be positive, got %v", seconds)}
		}
		d.duration = seconds
		return nil
	}
}

// WithStack enables decoded-frame cache. The first run fills it, consequent
// runs replay frames from it.
func WithStack() Option {
	return func(d *Decoder) error {
		d.stack = phonic.NewStack()
		return nil
	}
}

// New creates a decoder for provided source.
func New(src Source, options ...Option) (*Decoder, error) {
	if src == nil {
		return nil, &phonic.ConfigurationError{Stage: "decoder", Param: "source", Reason: "source is nil"}
	}
	d := &Decoder{
		src:       src,
		blockSize: phonic.DefaultBlockSize,
	}
	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Descriptor implements phonic.Decoder.
func (d *Decoder) Descriptor() phonic.Descriptor {
	return phonic.Descriptor{
		ID:          "decoder",
		Name:        d.String(),
		Version:     "1.0",
		Description: "Splits audio source into frames of fixed size",
		Kind:        phonic.KindDecoder,
		Params: []phonic.Param{
			{Name: "block_size", Default: phonic.DefaultBlockSize, Description: "samples per channel in a frame"},
			{Name: "start", Default: 0.0, Description: "start offset in seconds"},
			{Name: "duration", Default: 0.0, Description: "duration in seconds, zero means till the end"},
			{Name: "stack", Default: false, Description: "cache decoded frames for consequent runs"},
		},
	}
}

// Stack implements phonic.Decoder.
func (d *Decoder) Stack() *phonic.Stack {
	return d.stack
}

// Info returns properties discovered by the latest Open. Once the stack is
// sealed, properties of cached stream are returned.
func (d *Decoder) Info() phonic.StreamInfo {
	if d.stack.Replaying() {
		return d.stack.Info()
	}
	return d.info
}

// Open probes the source and starts a new pass.
func (d *Decoder) Open() (phonic.StreamInfo, error) {
	if d.opened {
		if err := d.Close(); err != nil {
			return phonic.StreamInfo{}, err
		}
	}
	info, err := d.src.Open()
	if err != nil {
		return phonic.StreamInfo{}, d.decodeError(err)
	}
	d.opened = true
	d.done = false
	d.index = 0
	d.read = 0
	d.ahead = nil
	info.BlockSize = d.blockSize
	if err := info.Properties.Validate(); err != nil {
		d.Close()
		return phonic.StreamInfo{}, d.decodeError(err)
	}

	d.info = info
	offset := signal.SamplesOf(info.SampleRate, d.start)
	if offset > 0 {
		if err := d.skip(info.Channels, offset); err != nil {
			d.Close()
			return phonic.StreamInfo{}, d.decodeError(err)
		}
	}

	d.limit = -1
	if d.duration > 0 {
		d.limit = signal.SamplesOf(info.SampleRate, d.duration)
	}
	if info.TotalFrames >= 0 {
		left := info.TotalFrames - offset
		if left < 0 {
			left = 0
		}
		if d.limit < 0 || left < d.limit {
			d.limit = left
		}
		info.TotalFrames = d.limit
	}
	if info.TotalFrames >= 0 {
		info.Duration = signal.DurationOf(info.SampleRate, info.TotalFrames)
	}
	d.info = info
	return info, nil
}

// skip advances the source to the offset.
func (d *Decoder) skip(channels int, offset int64) error {
	if s, ok := d.src.(SampleSeeker); ok {
		return s.SeekSamples(offset)
	}
	buf := signal.EmptyFloat64(channels, d.blockSize)
	for offset > 0 {
		size := d.blockSize
		if offset < int64(size) {
			size = int(offset)
		}
		n, err := d.src.Read(view(buf, 0, size))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
		offset -= int64(n)
	}
	return nil
}

// Read returns the next frame. The last frame has EOS flag set. When the
// stream is over, io.EOF is returned.
func (d *Decoder) Read() (phonic.Frame, error) {
	if !d.opened || d.done {
		return phonic.Frame{}, io.EOF
	}
	var current phonic.Frame
	if d.ahead != nil {
		current = *d.ahead
		d.ahead = nil
	} else {
		f, err := d.readBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.done = true
			}
			return phonic.Frame{}, err
		}
		current = f
	}

	next, err := d.readBlock()
	switch {
	case err == nil:
		d.ahead = &next
	case errors.Is(err, io.EOF):
		current.EOS = true
		d.done = true
	default:
		return phonic.Frame{}, err
	}
	return current, nil
}

// readBlock reads a full block unless the source or limit is exhausted.
func (d *Decoder) readBlock() (phonic.Frame, error) {
	size := d.blockSize
	if d.limit >= 0 {
		if left := d.limit - d.read; left < int64(size) {
			size = int(left)
		}
	}
	if size <= 0 {
		return phonic.Frame{}, io.EOF
	}
	buf := signal.EmptyFloat64(d.info.Channels, size)
	var n int
	for n < size {
		read, err := d.src.Read(view(buf, n, size))
		n += read
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return phonic.Frame{}, d.decodeError(err)
		}
		if read == 0 {
			break
		}
	}
	if n == 0 {
		return phonic.Frame{}, io.EOF
	}
	d.read += int64(n)
	f := phonic.Frame{
		Index:   d.index,
		Samples: view(buf, 0, n),
	}
	d.index++
	return f, nil
}

// Close releases the source.
func (d *Decoder) Close() error {
	if !d.opened {
		return nil
	}
	d.opened = false
	d.ahead = nil
	if err := d.src.Close(); err != nil {
		return d.decodeError(err)
	}
	return nil
}

func (d *Decoder) String() string {
	if d.src == nil {
		return "decoder"
	}
	return d.src.String()
}

func (d *Decoder) decodeError(err error) error {
	var de *phonic.DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &phonic.DecodeError{Source: d.String(), Err: err}
}

// view returns a window of the buffer without copying samples.
func view(buf signal.Float64, from, to int) signal.Float64 {
	result := make(signal.Float64, len(buf))
	for i := range buf {
		result[i] = buf[i][from:to]
	}
	return result
}
