// Package mock provides mocks for pipeline stages and allows to execute integration tests.
package mock

import (
	"io"
	"time"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

// Source mocks a decoder.Source interface. It produces Limit samples per
// channel with constant Value.
type Source struct {
	counter
	Interval    time.Duration
	Limit       int
	Value       float64
	NumChannels int
	SampleRate  int
	// Unknown hides the length of the source.
	Unknown     bool
	ErrorOnOpen error
	ErrorOnCall error
	// ErrorAfter makes Read fail once that many samples are read.
	ErrorAfter int
	Opens      int
	Closed     bool
}

// Open implements decoder.Source.
func (m *Source) Open() (phonic.StreamInfo, error) {
	m.Opens++
	if m.ErrorOnOpen != nil {
		return phonic.StreamInfo{}, m.ErrorOnOpen
	}
	m.reset()
	m.Closed = false
	total := int64(m.Limit)
	if m.Unknown {
		total = -1
	}
	return phonic.StreamInfo{
		Properties: phonic.Properties{
			SampleRate: m.SampleRate,
			Channels:   m.NumChannels,
		},
		TotalFrames: total,
		Duration:    signal.DurationOf(m.SampleRate, int64(m.Limit)),
		MimeType:    "audio/x-mock",
	}, nil
}

// Read implements decoder.Source.
func (m *Source) Read(b signal.Float64) (int, error) {
	if m.ErrorOnCall != nil {
		return 0, m.ErrorOnCall
	}
	if m.ErrorAfter > 0 && m.samples >= m.ErrorAfter {
		return 0, io.ErrUnexpectedEOF
	}
	if m.samples >= m.Limit {
		return 0, io.EOF
	}
	time.Sleep(m.Interval)

	bs := b.Size()
	if left := m.Limit - m.samples; left < bs {
		bs = left
	}
	for i := range b {
		for j := 0; j < bs; j++ {
			b[i][j] = m.Value
		}
	}
	m.advance(bs)
	return bs, nil
}

// Close implements decoder.Source.
func (m *Source) Close() error {
	m.Closed = true
	return nil
}

func (m *Source) String() string {
	return "mock"
}

// Processor mocks a phonic.Processor interface. It passes frames through,
// multiplied by Gain if it's set. Results are number of frames and
// samples processed.
type Processor struct {
	phonic.Lifecycle
	counter
	// ID is the plugin identifier, "mock" by default.
	ID         string
	Gain       float64
	SampleRate int
	Channels   int
	// StopAt asks pipe to stop after that many frames.
	StopAt int

	ErrorOnSetup    error
	ErrorOnCall     error
	ErrorOnFinalize error
	Hooks

	frames  []phonic.Frame
	keep    bool
	results []phonic.Result
}

// Keep makes processor retain copies of processed frames.
func (m *Processor) Keep() *Processor {
	m.keep = true
	return m
}

// Descriptor implements phonic.Processor.
func (m *Processor) Descriptor() phonic.Descriptor {
	id := m.ID
	if id == "" {
		id = "mock"
	}
	kind := phonic.KindAnalyzer
	if m.Gain != 0 {
		kind = phonic.KindTransform
	}
	return phonic.Descriptor{
		ID:          id,
		Name:        "Mock processor",
		Version:     "1.0",
		Description: "Counts frames and samples",
		Kind:        kind,
		Params: []phonic.Param{
			{Name: "gain", Default: 0.0, Description: "multiplier, zero passes frames unchanged"},
		},
	}
}

// Setup implements phonic.Processor.
func (m *Processor) Setup(props phonic.Properties) error {
	m.Stage = m.Descriptor().ID
	m.SetUp++
	if m.ErrorOnSetup != nil {
		return m.ErrorOnSetup
	}
	if err := props.Require(m.Stage, m.SampleRate, m.Channels); err != nil {
		return err
	}
	m.reset()
	m.frames = nil
	m.results = nil
	m.Begin()
	return nil
}

// Process implements phonic.Processor.
func (m *Processor) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := m.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	if m.ErrorOnCall != nil {
		return phonic.Frame{}, false, m.ErrorOnCall
	}
	m.advance(f.Size())
	if m.keep {
		m.frames = append(m.frames, f.Copy())
	}
	more := m.StopAt <= 0 || m.messages < m.StopAt
	if m.Gain == 0 {
		return f, more, nil
	}
	out := f.Copy()
	for i := range out.Samples {
		for j := range out.Samples[i] {
			out.Samples[i][j] *= m.Gain
		}
	}
	return out, more, nil
}

// Finalize implements phonic.Processor.
func (m *Processor) Finalize() ([]phonic.Result, error) {
	if err := m.End("finalize"); err != nil {
		return nil, err
	}
	m.Finalizes++
	if m.ErrorOnFinalize != nil {
		return nil, m.ErrorOnFinalize
	}
	m.results = []phonic.Result{
		{
			Field:  "frames",
			Values: []float64{float64(m.messages)},
		},
		{
			Field:  "samples",
			Values: []float64{float64(m.samples)},
		},
	}
	return m.results, nil
}

// Results implements phonic.Analyzer.
func (m *Processor) Results() []phonic.Result {
	return m.results
}

// Interrupt implements phonic.Interrupter.
func (m *Processor) Interrupt() error {
	m.Interrupted = true
	return m.ErrorOnInterrupt
}

// Frames returns frames retained by the latest run.
func (m *Processor) Frames() []phonic.Frame {
	return m.frames
}

// Encoder mocks a phonic.Encoder interface. It writes samples as
// little-endian float64 values, interleaved. Every processed frame is
// emitted at once in streaming mode.
type Encoder struct {
	phonic.Lifecycle
	counter
	Output     phonic.Output
	SampleRate int
	Channels   int
	Hooks

	metadata phonic.Metadata
	written  phonic.Metadata
	data     []byte
	finished bool
	reported bool
}

// Descriptor implements phonic.Processor.
func (m *Encoder) Descriptor() phonic.Descriptor {
	return phonic.Descriptor{
		ID:          "mock_encoder",
		Name:        "Mock encoder",
		Version:     "1.0",
		Description: "Writes raw float64 samples",
		Kind:        phonic.KindEncoder,
	}
}

// Format implements phonic.Encoder.
func (m *Encoder) Format() phonic.Format {
	return phonic.Format{
		Label:       "RAW",
		Description: "Raw float64 samples",
		Extension:   "raw",
		MimeType:    "audio/x-raw",
	}
}

// Setup implements phonic.Processor.
func (m *Encoder) Setup(props phonic.Properties) error {
	m.Stage = "mock_encoder"
	m.SetUp++
	if err := m.Output.Validate(); err != nil {
		return err
	}
	if err := props.Require(m.Stage, m.SampleRate, m.Channels); err != nil {
		return err
	}
	m.reset()
	m.data = nil
	m.finished, m.reported = false, false
	m.Begin()
	return nil
}

// SetMetadata implements phonic.Encoder.
func (m *Encoder) SetMetadata(md phonic.Metadata) {
	m.metadata = append(phonic.Metadata(nil), md...)
}

// Process implements phonic.Processor.
func (m *Encoder) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := m.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	b := f.Samples.AsInterFloat64LE()
	m.advance(f.Size())
	if m.Output.Streaming() {
		m.Output.Emit(b)
	} else {
		m.data = append(m.data, b...)
	}
	return f, true, nil
}

// Finish implements phonic.Encoder.
func (m *Encoder) Finish() error {
	if err := m.End("finish"); err != nil {
		return err
	}
	m.finished = true
	m.written = m.metadata
	return nil
}

// Update implements phonic.Encoder.
func (m *Encoder) Update() error {
	switch {
	case m.Output.Streaming():
		return &phonic.FinalizeMisuseError{Stage: m.Stage, Op: "update", Err: phonic.ErrStreamingMode}
	case !m.finished:
		return &phonic.FinalizeMisuseError{Stage: m.Stage, Op: "update", Err: phonic.ErrNotFinished}
	}
	m.written = m.metadata
	return nil
}

// Finalize implements phonic.Processor. It finishes the output if it's
// not finished yet.
func (m *Encoder) Finalize() ([]phonic.Result, error) {
	if m.reported {
		return nil, &phonic.FinalizeMisuseError{Stage: m.Stage, Op: "finalize", Err: phonic.ErrFinalized}
	}
	if !m.finished {
		if err := m.Finish(); err != nil {
			return nil, err
		}
	}
	m.reported = true
	m.Finalizes++
	r := phonic.Result{
		Field:    "output",
		MimeType: m.Format().MimeType,
		Values:   []float64{float64(m.samples)},
	}
	if !m.Output.Streaming() {
		r.Path = m.Output.Path
	}
	return []phonic.Result{r}, nil
}

// Interrupt implements phonic.Interrupter.
func (m *Encoder) Interrupt() error {
	m.Interrupted = true
	return m.ErrorOnInterrupt
}

// Data returns bytes written in file mode.
func (m *Encoder) Data() []byte {
	return m.data
}

// Written returns metadata written by the latest Finish or Update.
func (m *Encoder) Written() phonic.Metadata {
	return m.written
}

// Decode converts raw bytes produced by encoder back to samples.
func Decode(b []byte, channels int) signal.Float64 {
	return signal.FromInterFloat64LE(b, channels)
}

// Hooks allows to mock stages hooks.
type Hooks struct {
	SetUp       int
	Finalizes   int
	Interrupted bool

	ErrorOnInterrupt error
}

// reset resets counter's metrics.
func (c *counter) reset() {
	c.messages, c.samples = 0, 0
}

// counter counts messages and samples.
type counter struct {
	messages int
	samples  int
}

// advance counter's metrics.
func (c *counter) advance(size int) {
	c.messages++
	c.samples = c.samples + size
}

// Count returns messages and samples metrics.
func (c *counter) Count() (int, int) {
	return c.messages, c.samples
}
