package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

const (
	encoderID = "wav_encoder"
	// pcm audio format.
	pcm = 1
)

var encoderDescriptor = phonic.Descriptor{
	ID:          encoderID,
	Name:        "WAV encoder",
	Version:     "1.0",
	Description: "Encodes signal into PCM wav",
	Kind:        phonic.KindEncoder,
	Params: []phonic.Param{
		{Name: "bit_depth", Default: 16, Description: "bits per sample: 8, 16, 24 or 32"},
	},
}

func init() {
	phonic.Register(encoderDescriptor, func(args phonic.Args) (phonic.Processor, error) {
		bitDepth, err := args.Params.Int("bit_depth", int(signal.BitDepth16))
		if err != nil {
			return nil, err
		}
		return NewEncoder(args.Output, args.SampleRate, args.Channels, WithBitDepth(signal.BitDepth(bitDepth)))
	})
}

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 8, 16, 24 and 32 bit depth is supported")

// Encoder writes signal into wav. Wav header is written when output is
// finished, so in streaming mode the whole output is emitted by Finish.
// Every run truncates the output file.
type Encoder struct {
	phonic.Lifecycle
	output     phonic.Output
	sampleRate int
	channels   int
	bitDepth   signal.BitDepth
	metadata   phonic.Metadata

	file     *os.File
	mem      *memFile
	encoder  *wav.Encoder
	buf      *audio.IntBuffer
	samples  int64
	finished bool
	reported bool
	// err is the failure of the latest Finish.
	err error
}

// Option configures wav encoder.
type Option func(*Encoder) error

// WithBitDepth sets bit depth of the output.
func WithBitDepth(bitDepth signal.BitDepth) Option {
	return func(e *Encoder) error {
		switch bitDepth {
		case signal.BitDepth8, signal.BitDepth16, signal.BitDepth24, signal.BitDepth32:
			e.bitDepth = bitDepth
			return nil
		}
		return &phonic.ConfigurationError{Stage: encoderID, Param: "bit_depth", Err: ErrUnsupportedBitDepth}
	}
}

// NewEncoder creates wav encoder for provided output.
func NewEncoder(output phonic.Output, sampleRate, channels int, options ...Option) (*Encoder, error) {
	if err := output.Validate(); err != nil {
		return nil, stage(err)
	}
	props := phonic.Properties{SampleRate: sampleRate, Channels: channels, BlockSize: 1}
	if err := props.Validate(); err != nil {
		return nil, stage(err)
	}
	e := &Encoder{
		Lifecycle:  phonic.Lifecycle{Stage: encoderID},
		output:     output,
		sampleRate: sampleRate,
		channels:   channels,
		bitDepth:   signal.BitDepth16,
	}
	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func stage(err error) error {
	var ce *phonic.ConfigurationError
	if errors.As(err, &ce) && ce.Stage == "" {
		ce.Stage = encoderID
	}
	return err
}

// Descriptor implements phonic.Processor.
func (e *Encoder) Descriptor() phonic.Descriptor {
	return encoderDescriptor
}

// Format implements phonic.Encoder.
func (e *Encoder) Format() phonic.Format {
	return phonic.Format{
		Label:       "WAV",
		Description: "Waveform Audio File Format",
		Extension:   "wav",
		MimeType:    MimeType,
	}
}

// SetMetadata implements phonic.Encoder. Tags are written as LIST/INFO
// chunk.
func (e *Encoder) SetMetadata(md phonic.Metadata) {
	e.metadata = append(phonic.Metadata(nil), md...)
}

// Setup implements phonic.Processor.
func (e *Encoder) Setup(props phonic.Properties) error {
	if err := props.Require(encoderID, e.sampleRate, e.channels); err != nil {
		return err
	}
	e.release()
	e.samples = 0
	e.finished, e.reported, e.err = false, false, nil
	var ws io.WriteSeeker
	if e.output.Streaming() {
		e.mem = &memFile{}
		ws = e.mem
	} else {
		f, err := os.Create(e.output.Path)
		if err != nil {
			return err
		}
		e.file = f
		ws = f
	}
	e.Begin()
	e.encoder = wav.NewEncoder(ws, e.sampleRate, int(e.bitDepth), e.channels, pcm)
	e.buf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: e.channels,
			SampleRate:  e.sampleRate,
		},
		SourceBitDepth: int(e.bitDepth),
	}
	return nil
}

// Process implements phonic.Processor.
func (e *Encoder) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := e.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	e.buf.Data = f.Samples.AsInterInt(e.bitDepth)
	if err := e.encoder.Write(e.buf); err != nil {
		return phonic.Frame{}, false, err
	}
	e.samples += int64(f.Size())
	return f, true, nil
}

// Finish implements phonic.Encoder.
func (e *Encoder) Finish() error {
	if err := e.End("finish"); err != nil {
		return err
	}
	e.finished = true
	if err := e.finish(); err != nil {
		e.err = err
		e.release()
		return err
	}
	return nil
}

func (e *Encoder) finish() error {
	if e.samples == 0 {
		// header is written with the first block
		if err := e.encoder.Write(e.buf); err != nil {
			return err
		}
	}
	e.encoder.Metadata = toInfo(e.metadata)
	if err := e.encoder.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	if e.output.Streaming() {
		e.output.Emit(e.mem.Bytes())
		e.mem = nil
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

// Finalize implements phonic.Processor. Output is finished if it wasn't.
// Failure of Finish is returned instead of the result.
func (e *Encoder) Finalize() ([]phonic.Result, error) {
	if e.reported {
		return nil, &phonic.FinalizeMisuseError{Stage: encoderID, Op: "finalize", Err: phonic.ErrFinalized}
	}
	if !e.finished {
		if err := e.Finish(); !e.finished {
			return nil, err
		}
	}
	e.reported = true
	if e.err != nil {
		return nil, e.err
	}
	r := phonic.Result{
		ID:       encoderID,
		Field:    "output",
		Version:  encoderDescriptor.Version,
		MimeType: MimeType,
		Values:   []float64{float64(e.samples)},
		Metadata: map[string]interface{}{
			"bit_depth":   int(e.bitDepth),
			"sample_rate": e.sampleRate,
			"channels":    e.channels,
		},
	}
	if !e.output.Streaming() {
		r.Path = e.output.Path
	}
	return []phonic.Result{r}, nil
}

// Update implements phonic.Encoder. The file is decoded and encoded again
// with current tags.
func (e *Encoder) Update() error {
	switch {
	case e.output.Streaming():
		return &phonic.FinalizeMisuseError{Stage: encoderID, Op: "update", Err: phonic.ErrStreamingMode}
	case !e.finished:
		return &phonic.FinalizeMisuseError{Stage: encoderID, Op: "update", Err: phonic.ErrNotFinished}
	case e.err != nil:
		return e.err
	}
	return rewrite(e.output.Path, toInfo(e.metadata))
}

// Interrupt implements phonic.Interrupter. Partially written file is
// removed.
func (e *Encoder) Interrupt() error {
	e.End("interrupt")
	e.finished = true
	return e.release()
}

func (e *Encoder) release() error {
	e.mem = nil
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	if rerr := os.Remove(e.output.Path); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// rewrite replaces tags of the wav file.
func rewrite(path string, md *wav.Metadata) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	d := wav.NewDecoder(in)
	if !d.IsValidFile() {
		return ErrInvalidFile
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	out, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())
	enc := wav.NewEncoder(out, int(d.SampleRate), int(d.BitDepth), int(d.NumChans), int(d.WavAudioFormat))
	enc.Metadata = md
	if err := enc.Write(buf); err != nil {
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), path)
}

// memFile is an in-memory io.WriteSeeker.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	n := copy(m.data[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(m.pos) + offset
	case io.SeekEnd:
		pos = int64(len(m.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative position %d", pos)
	}
	m.pos = int(pos)
	return pos, nil
}

// Bytes returns written data.
func (m *memFile) Bytes() []byte {
	return m.data
}
