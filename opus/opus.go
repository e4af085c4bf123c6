// Package opus provides encoder of raw opus packets.
//
// Output starts with a header: magic "OPUSRAW1", sample rate as 32-bit and
// channel count as 8-bit little-endian values. Each packet follows,
// prefixed with its 16-bit little-endian length. Every packet holds 20ms
// of signal.
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/hraban/opus.v2"

	"github.com/pipelined/phonic"
)

const (
	encoderID = "opus_encoder"
	// MimeType of raw opus packets stream.
	MimeType = "audio/x-opus-raw"
	// DefaultBitRate in kbps.
	DefaultBitRate = 128
	// frames per second.
	framesPerSecond = 50
	maxPacketSize   = 4000
)

var magic = []byte("OPUSRAW1")

// ErrTagsUnsupported is returned by Update, raw packets carry no tags.
var ErrTagsUnsupported = errors.New("tags are not supported by raw opus")

var encoderDescriptor = phonic.Descriptor{
	ID:          encoderID,
	Name:        "Opus encoder",
	Version:     "1.0",
	Description: "Encodes signal into length-prefixed opus packets",
	Kind:        phonic.KindEncoder,
	Params: []phonic.Param{
		{Name: "bit_rate", Default: DefaultBitRate, Description: "bit rate in kbps"},
	},
}

func init() {
	phonic.Register(encoderDescriptor, func(args phonic.Args) (phonic.Processor, error) {
		bitRate, err := args.Params.Int("bit_rate", DefaultBitRate)
		if err != nil {
			return nil, err
		}
		return NewEncoder(args.Output, args.SampleRate, args.Channels, WithBitRate(bitRate))
	})
}

// Encoder writes opus packets. In streaming mode each packet is emitted as
// soon as it's encoded. Every run starts a new stream.
type Encoder struct {
	phonic.Lifecycle
	output     phonic.Output
	sampleRate int
	channels   int
	bitRate    int

	file     *os.File
	w        io.Writer
	enc      *opus.Encoder
	pending  []float32
	packet   []byte
	header   bool
	samples  int64
	packets  int
	finished bool
	reported bool
	// failure of the latest Finish.
	err error
}

// Option configures opus encoder.
type Option func(*Encoder) error

// WithBitRate sets target bit rate in kbps.
func WithBitRate(kbps int) Option {
	return func(e *Encoder) error {
		if kbps < 6 || kbps > 510 {
			return &phonic.ConfigurationError{Stage: encoderID, Param: "bit_rate", Reason: fmt.Sprintf("must be between 6 and 510, got %d", kbps)}
		}
		e.bitRate = kbps
		return nil
	}
}

// NewEncoder creates opus encoder. Sample rate must be one of 8000, 12000,
// 16000, 24000 or 48000 and there must be one or two channels.
func NewEncoder(output phonic.Output, sampleRate, channels int, options ...Option) (*Encoder, error) {
	if err := output.Validate(); err != nil {
		return nil, stage(err)
	}
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, &phonic.ConfigurationError{Stage: encoderID, Param: "sample rate", Reason: fmt.Sprintf("%d is not supported by opus", sampleRate)}
	}
	if channels != 1 && channels != 2 {
		return nil, &phonic.ConfigurationError{Stage: encoderID, Param: "channels", Reason: fmt.Sprintf("must be 1 or 2, got %d", channels)}
	}
	e := &Encoder{
		Lifecycle:  phonic.Lifecycle{Stage: encoderID},
		output:     output,
		sampleRate: sampleRate,
		channels:   channels,
		bitRate:    DefaultBitRate,
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
		Label:       "OPUS-RAW",
		Description: "Length-prefixed opus packets",
		Extension:   "opus",
		MimeType:    MimeType,
	}
}

// SetMetadata implements phonic.Encoder. Raw packets have no place for
// tags, so they are ignored.
func (e *Encoder) SetMetadata(phonic.Metadata) {}

// Setup implements phonic.Processor.
func (e *Encoder) Setup(props phonic.Properties) error {
	if err := props.Require(encoderID, e.sampleRate, e.channels); err != nil {
		return err
	}
	e.release()
	e.header, e.samples, e.packets = false, 0, 0
	e.finished, e.reported, e.err = false, false, nil
	enc, err := opus.NewEncoder(e.sampleRate, e.channels, opus.AppAudio)
	if err != nil {
		return err
	}
	if err := enc.SetBitrate(e.bitRate * 1000); err != nil {
		return err
	}
	e.enc = enc
	e.packet = make([]byte, maxPacketSize)
	if e.output.Streaming() {
		e.w = e.output
	} else {
		f, err := os.Create(e.output.Path)
		if err != nil {
			return err
		}
		e.file, e.w = f, f
	}
	e.Begin()
	return nil
}

// frameSize returns number of interleaved values in a packet.
func (e *Encoder) frameSize() int {
	return e.sampleRate / framesPerSecond * e.channels
}

// Process implements phonic.Processor.
func (e *Encoder) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := e.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	e.pending = append(e.pending, f.Samples.AsInterFloat32()...)
	e.samples += int64(f.Size())
	size := e.frameSize()
	var offset int
	for ; len(e.pending)-offset >= size; offset += size {
		if err := e.encode(e.pending[offset : offset+size]); err != nil {
			return phonic.Frame{}, false, err
		}
	}
	e.pending = append(e.pending[:0], e.pending[offset:]...)
	return f, true, nil
}

// encode writes a single packet, header is written before the first one.
func (e *Encoder) encode(pcm []float32) error {
	n, err := e.enc.EncodeFloat32(pcm, e.packet)
	if err != nil {
		return fmt.Errorf("encode opus packet: %w", err)
	}
	var buf []byte
	if !e.header {
		buf = e.headerBytes()
		e.header = true
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(n))
	buf = append(buf, e.packet[:n]...)
	if _, err := e.w.Write(buf); err != nil {
		return err
	}
	e.packets++
	return nil
}

// Finish implements phonic.Encoder. The last packet is padded with
// silence.
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
	if len(e.pending) > 0 {
		pcm := make([]float32, e.frameSize())
		copy(pcm, e.pending)
		e.pending = nil
		if err := e.encode(pcm); err != nil {
			return err
		}
	}
	if !e.header {
		// empty stream still has a header
		e.header = true
		if _, err := e.w.Write(e.headerBytes()); err != nil {
			return err
		}
	}
	if e.file == nil {
		return nil
	}
	if err := e.file.Close(); err != nil {
		return err
	}
	e.file = nil
	return nil
}

func (e *Encoder) headerBytes() []byte {
	buf := append([]byte{}, magic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.sampleRate))
	return append(buf, byte(e.channels))
}

// Finalize implements phonic.Processor. Output is finished if it wasn't.
// Failure of Finish is returned instead of the result.
func (e *Encoder) Finalize() ([]phonic.Result, error) {
	if e.reported {
		return nil, &phonic.FinalizeMisuseError{Stage: encoderID, Op: "finalize", Err: phonic.ErrFinalized}
	}
	if !e.finished {
		if err := e.Finish(); err != nil && !e.finished {
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
			"bit_rate": e.bitRate,
			"packets":  e.packets,
		},
	}
	if !e.output.Streaming() {
		r.Path = e.output.Path
	}
	return []phonic.Result{r}, nil
}

// Update implements phonic.Encoder. It always fails because raw packets
// carry no tags.
func (e *Encoder) Update() error {
	switch {
	case e.output.Streaming():
		return &phonic.FinalizeMisuseError{Stage: encoderID, Op: "update", Err: phonic.ErrStreamingMode}
	case !e.finished:
		return &phonic.FinalizeMisuseError{Stage: encoderID, Op: "update", Err: phonic.ErrNotFinished}
	case e.err != nil:
		return e.err
	}
	return ErrTagsUnsupported
}

// Interrupt implements phonic.Interrupter. Partially written file is
// removed.
func (e *Encoder) Interrupt() error {
	if e.finished {
		return nil
	}
	e.End("interrupt")
	e.finished = true
	return e.release()
}

func (e *Encoder) release() error {
	e.pending = nil
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

// Header describes raw opus stream.
type Header struct {
	SampleRate int
	Channels   int
}

// ErrInvalidStream is returned when stream doesn't start with a header.
var ErrInvalidStream = errors.New("not a raw opus stream")

// ReadPackets reads header and all packets of raw opus stream.
func ReadPackets(r io.Reader) (Header, [][]byte, error) {
	head := make([]byte, len(magic)+5)
	if _, err := io.ReadFull(r, head); err != nil {
		return Header{}, nil, fmt.Errorf("read header: %w", err)
	}
	if string(head[:len(magic)]) != string(magic) {
		return Header{}, nil, ErrInvalidStream
	}
	h := Header{
		SampleRate: int(binary.LittleEndian.Uint32(head[len(magic):])),
		Channels:   int(head[len(magic)+4]),
	}
	var (
		packets [][]byte
		size    [2]byte
	)
	for {
		if _, err := io.ReadFull(r, size[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return h, packets, nil
			}
			return h, packets, fmt.Errorf("read packet size: %w", err)
		}
		p := make([]byte, binary.LittleEndian.Uint16(size[:]))
		if _, err := io.ReadFull(r, p); err != nil {
			return h, packets, fmt.Errorf("read packet: %w", err)
		}
		packets = append(packets, p)
	}
}
