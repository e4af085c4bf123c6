package phonic

import "fmt"

// Kind identifies the role of a stage.
type Kind int

const (
	// KindDecoder produces frames.
	KindDecoder Kind = iota
	// KindAnalyzer consumes frames and produces numeric results.
	KindAnalyzer
	// KindTransform changes frames and passes them further.
	KindTransform
	// KindEncoder writes frames into encoded media.
	KindEncoder
	// KindGrapher renders frames into a picture.
	KindGrapher
)

func (k Kind) String() string {
	switch k {
	case KindDecoder:
		return "decoder"
	case KindAnalyzer:
		return "analyzer"
	case KindTransform:
		return "transform"
	case KindEncoder:
		return "encoder"
	case KindGrapher:
		return "grapher"
	}
	return "unknown"
}

// Param describes a single parameter accepted by a plugin.
type Param struct {
	Name        string
	Default     interface{}
	Description string
}

// Descriptor declares identity of a plugin. It doesn't depend on the stream
// and is available before the stage is set up.
type Descriptor struct {
	ID          string
	Name        string
	Version     string
	Description string
	Kind        Kind
	Params      []Param
}

func (d Descriptor) String() string {
	if d.Version == "" {
		return d.ID
	}
	return fmt.Sprintf("%s@%s", d.ID, d.Version)
}

// Processor is a stage of the pipe.
//
// Setup is called before every run with properties of the stream. Process
// receives frames in order and returns the frame passed to the next stage.
// If more is false, the run ends after current frame. Finalize is called
// exactly once after the last frame, a second call must fail with
// FinalizeMisuseError.
type Processor interface {
	Descriptor() Descriptor
	Setup(Properties) error
	Process(Frame) (out Frame, more bool, err error)
	Finalize() ([]Result, error)
}

// Analyzer is a processor which accumulates numeric state and produces
// results. Frames are passed through unchanged.
type Analyzer interface {
	Processor
	// Results returns results computed by the latest Finalize.
	Results() []Result
}

// Format describes the artifact produced by encoder or grapher.
type Format struct {
	Label       string
	Description string
	Extension   string
	MimeType    string
}

// Encoder is a processor which writes frames into encoded media.
type Encoder interface {
	Processor
	Format() Format
	// SetMetadata attaches tags written into the output.
	SetMetadata(Metadata)
	// Update rewrites tags into the already finished output file. It's
	// not allowed in streaming mode.
	Update() error
	// Finish flushes buffered data and closes the output.
	Finish() error
}

// Grapher is a processor which renders frames into a picture.
type Grapher interface {
	Processor
	Format() Format
	Size() (height, width int)
	Finish() error
}

// Decoder is a source of frames.
//
// Open probes the source and starts a new pass. Read returns frames in order
// and io.EOF once the stream is over. Close releases the source. Stack
// returns the decoded-frame cache or nil if caching wasn't requested.
type Decoder interface {
	Descriptor() Descriptor
	Open() (StreamInfo, error)
	Read() (Frame, error)
	Close() error
	Stack() *Stack
}

// Interrupter is implemented by stages which need to release resources when
// a run is aborted before finalization.
type Interrupter interface {
	Interrupt() error
}

// Output is a destination of encoded data. Exactly one of Path and Stream
// must be set.
type Output struct {
	Path   string
	Stream func([]byte)
}

// ToFile returns output which writes into file.
func ToFile(path string) Output {
	return Output{Path: path}
}

// ToStream returns output which delivers encoded blocks to the callback.
func ToStream(fn func([]byte)) Output {
	return Output{Stream: fn}
}

// Validate checks that exactly one destination is set.
func (o Output) Validate() error {
	switch {
	case o.Path != "" && o.Stream != nil:
		return &ConfigurationError{Param: "output", Reason: "both file path and stream callback are set"}
	case o.Path == "" && o.Stream == nil:
		return &ConfigurationError{Param: "output", Reason: "neither file path nor stream callback is set"}
	}
	return nil
}

// Streaming returns true if output is a callback.
func (o Output) Streaming() bool {
	return o.Stream != nil
}

// Emit passes a copy of non-empty data to the stream callback.
func (o Output) Emit(b []byte) {
	if len(b) == 0 || o.Stream == nil {
		return
	}
	c := make([]byte, len(b))
	copy(c, b)
	o.Stream(c)
}

// Write implements io.Writer for streaming outputs.
func (o Output) Write(b []byte) (int, error) {
	o.Emit(b)
	return len(b), nil
}

func (o Output) String() string {
	if o.Streaming() {
		return "stream"
	}
	return o.Path
}

// Tag is a single metadata entry.
type Tag struct {
	Name  string
	Value string
}

// Metadata is an ordered sequence of tags. Names are not unique.
type Metadata []Tag

// Get returns the last value for provided name.
func (m Metadata) Get(name string) (string, bool) {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i].Name == name {
			return m[i].Value, true
		}
	}
	return "", false
}
