package mp3

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/viert/lame"

	"github.com/pipelined/phonic"
)

const encoderID = "mp3_encoder"

// Defaults of encoder options.
const (
	DefaultBitRate = 192
	DefaultQuality = 2
)

var encoderDescriptor = phonic.Descriptor{
	ID:          encoderID,
	Name:        "MP3 encoder",
	Version:     "1.0",
	Description: "Encodes signal into mp3 with lame and writes ID3v2 tags",
	Kind:        phonic.KindEncoder,
	Params: []phonic.Param{
		{Name: "bit_rate", Default: DefaultBitRate, Description: "bit rate in kbps"},
		{Name: "quality", Default: DefaultQuality, Description: "lame quality, 0 is best and 9 is worst"},
		{Name: "vbr", Default: false, Description: "variable bit rate"},
	},
}

func init() {
	phonic.Register(encoderDescriptor, func(args phonic.Args) (phonic.Processor, error) {
		bitRate, err := args.Params.Int("bit_rate", DefaultBitRate)
		if err != nil {
			return nil, err
		}
		quality, err := args.Params.Int("quality", DefaultQuality)
		if err != nil {
			return nil, err
		}
		vbr, err := args.Params.Bool("vbr", false)
		if err != nil {
			return nil, err
		}
		return NewEncoder(args.Output, args.SampleRate, args.Channels,
			WithBitRate(bitRate),
			WithQuality(quality),
			WithVBR(vbr),
		)
	})
}

// Encoder writes signal into mp3. In streaming mode encoded chunks are
// emitted while frames are processed. Every run rewrites the output.
type Encoder struct {
	phonic.Lifecycle
	output     phonic.Output
	sampleRate int
	channels   int
	bitRate    int
	quality    int
	vbr        bool
	metadata   phonic.Metadata

	file     *os.File
	wr       *lame.LameWriter
	tagged   bool
	samples  int64
	finished bool
	reported bool
	// failure of the latest Finish.
	err error
}

// Option configures mp3 encoder.
type Option func(*Encoder) error

// WithBitRate sets bit rate in kbps.
func WithBitRate(kbps int) Option {
	return func(e *Encoder) error {
		if kbps < 8 || kbps > 320 {
			return &phonic.ConfigurationError{Stage: encoderID, Param: "bit_rate", Reason: fmt.Sprintf("must be between 8 and 320, got %d", kbps)}
		}
		e.bitRate = kbps
		return nil
	}
}

// WithQuality sets lame algorithm quality.
func WithQuality(q int) Option {
	return func(e *Encoder) error {
		if q < 0 || q > 9 {
			return &phonic.ConfigurationError{Stage: encoderID, Param: "quality", Reason: fmt.Sprintf("must be between 0 and 9, got %d", q)}
		}
		e.quality = q
		return nil
	}
}

// WithVBR enables variable bit rate.
func WithVBR(vbr bool) Option {
	return func(e *Encoder) error {
		e.vbr = vbr
		return nil
	}
}

// NewEncoder creates mp3 encoder for provided output.
func NewEncoder(output phonic.Output, sampleRate, channels int, options ...Option) (*Encoder, error) {
	if err := output.Validate(); err != nil {
		return nil, stage(err)
	}
	props := phonic.Properties{SampleRate: sampleRate, Channels: channels, BlockSize: 1}
	if err := props.Validate(); err != nil {
		return nil, stage(err)
	}
	if channels > 2 {
		return nil, &phonic.ConfigurationError{Stage: encoderID, Param: "channels", Reason: fmt.Sprintf("at most 2 channels are supported, got %d", channels)}
	}
	e := &Encoder{
		Lifecycle:  phonic.Lifecycle{Stage: encoderID},
		output:     output,
		sampleRate: sampleRate,
		channels:   channels,
		bitRate:    DefaultBitRate,
		quality:    DefaultQuality,
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
		Label:       "MP3",
		Description: "MPEG-1 Audio Layer III",
		Extension:   "mp3",
		MimeType:    MimeType,
	}
}

// SetMetadata implements phonic.Encoder. Tags are written as ID3v2.
func (e *Encoder) SetMetadata(md phonic.Metadata) {
	e.metadata = append(phonic.Metadata(nil), md...)
}

// Setup implements phonic.Processor.
func (e *Encoder) Setup(props phonic.Properties) error {
	if err := props.Require(encoderID, e.sampleRate, e.channels); err != nil {
		return err
	}
	e.release()
	e.samples, e.tagged = 0, false
	e.finished, e.reported, e.err = false, false, nil
	if e.output.Streaming() {
		e.wr = lame.NewWriter(e.output)
	} else {
		f, err := os.Create(e.output.Path)
		if err != nil {
			return err
		}
		e.file = f
		e.wr = lame.NewWriter(f)
	}
	e.Begin()
	e.wr.Encoder.SetBitrate(e.bitRate)
	e.wr.Encoder.SetQuality(e.quality)
	e.wr.Encoder.SetNumChannels(e.channels)
	e.wr.Encoder.SetInSamplerate(e.sampleRate)
	e.wr.Encoder.InitParams()
	if e.channels == 1 {
		e.wr.Encoder.SetMode(lame.MONO)
	} else {
		e.wr.Encoder.SetMode(lame.JOINT_STEREO)
	}
	if e.vbr {
		e.wr.Encoder.SetVBR(lame.VBR_RH)
	}
	return nil
}

// Process implements phonic.Processor.
func (e *Encoder) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := e.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	if err := e.tagStream(); err != nil {
		return phonic.Frame{}, false, err
	}
	if _, err := e.wr.Write(f.Samples.AsInterPCM16()); err != nil {
		return phonic.Frame{}, false, err
	}
	e.samples += int64(f.Size())
	return f, true, nil
}

// tagStream emits ID3v2 tag before the first encoded chunk.
func (e *Encoder) tagStream() error {
	if e.tagged || !e.output.Streaming() {
		return nil
	}
	e.tagged = true
	if len(e.metadata) == 0 {
		return nil
	}
	tag := id3v2.NewEmptyTag()
	applyTags(tag, e.metadata)
	_, err := tag.WriteTo(e.output)
	return err
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
	if err := e.tagStream(); err != nil {
		return err
	}
	if err := e.wr.Close(); err != nil {
		return fmt.Errorf("close lame writer: %w", err)
	}
	if e.output.Streaming() {
		return nil
	}
	if err := e.file.Close(); err != nil {
		return err
	}
	e.file = nil
	if len(e.metadata) == 0 {
		return nil
	}
	return writeTags(e.output.Path, e.metadata)
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
			"quality":  e.quality,
			"vbr":      e.vbr,
		},
	}
	if !e.output.Streaming() {
		r.Path = e.output.Path
	}
	return []phonic.Result{r}, nil
}

// Update implements phonic.Encoder. Tags of the file are replaced.
func (e *Encoder) Update() error {
	switch {
	case e.output.Streaming():
		return &phonic.FinalizeMisuseError{Stage: encoderID, Op: "update", Err: phonic.ErrStreamingMode}
	case !e.finished:
		return &phonic.FinalizeMisuseError{Stage: encoderID, Op: "update", Err: phonic.ErrNotFinished}
	case e.err != nil:
		return e.err
	}
	return writeTags(e.output.Path, e.metadata)
}

// Interrupt implements phonic.Interrupter. Partially written file is
// removed.
func (e *Encoder) Interrupt() error {
	e.End("interrupt")
	e.finished = true
	return e.release()
}

func (e *Encoder) release() error {
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

// writeTags replaces ID3v2 tag of the file.
func writeTags(path string, md phonic.Metadata) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("open tags of %s: %w", path, err)
	}
	defer tag.Close()
	tag.DeleteAllFrames()
	applyTags(tag, md)
	return tag.Save()
}

// ReadMetadata returns common ID3v2 tags of the file.
func ReadMetadata(path string) (phonic.Metadata, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, err
	}
	defer tag.Close()
	var md phonic.Metadata
	for _, t := range []phonic.Tag{
		{Name: "title", Value: tag.Title()},
		{Name: "artist", Value: tag.Artist()},
		{Name: "album", Value: tag.Album()},
		{Name: "genre", Value: tag.Genre()},
		{Name: "date", Value: tag.Year()},
	} {
		if t.Value != "" {
			md = append(md, t)
		}
	}
	return md, nil
}

// applyTags maps common names to ID3v2 frames. Other names are written as
// user defined text frames.
func applyTags(tag *id3v2.Tag, md phonic.Metadata) {
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	for _, t := range md {
		switch strings.ToLower(t.Name) {
		case "title":
			tag.SetTitle(t.Value)
		case "artist":
			tag.SetArtist(t.Value)
		case "album":
			tag.SetAlbum(t.Value)
		case "genre":
			tag.SetGenre(t.Value)
		case "date", "year":
			tag.SetYear(t.Value)
		case "comment":
			tag.AddCommentFrame(id3v2.CommentFrame{
				Encoding: id3v2.EncodingUTF8,
				Language: "eng",
				Text:     t.Value,
			})
		default:
			tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
				Encoding:    id3v2.EncodingUTF8,
				Description: t.Name,
				Value:       t.Value,
			})
		}
	}
}
