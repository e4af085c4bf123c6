package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pipelined/phonic"
)

// Preset describes ffmpeg output format.
type Preset struct {
	ID string
	phonic.Format
	// Muxer is ffmpeg output format.
	Muxer string
	Codec string
	// BitRate in kbps, zero if codec is lossless.
	BitRate int
}

// Presets of ffmpeg encoders.
var (
	FLAC = Preset{
		ID: "flac_encoder",
		Format: phonic.Format{
			Label:       "FLAC",
			Description: "Free Lossless Audio Codec",
			Extension:   "flac",
			MimeType:    "audio/x-flac",
		},
		Muxer: "flac",
		Codec: "flac",
	}
	Vorbis = Preset{
		ID: "vorbis_encoder",
		Format: phonic.Format{
			Label:       "OGG",
			Description: "Vorbis in OGG container",
			Extension:   "ogg",
			MimeType:    "audio/ogg",
		},
		Muxer:   "ogg",
		Codec:   "libvorbis",
		BitRate: 192,
	}
	AAC = Preset{
		ID: "aac_encoder",
		Format: phonic.Format{
			Label:       "AAC",
			Description: "Advanced Audio Coding in ADTS stream",
			Extension:   "aac",
			MimeType:    "audio/aac",
		},
		Muxer:   "adts",
		Codec:   "aac",
		BitRate: 192,
	}
)

func init() {
	for _, preset := range []Preset{FLAC, Vorbis, AAC} {
		preset := preset
		d := preset.descriptor()
		phonic.Register(d, func(args phonic.Args) (phonic.Processor, error) {
			options := []Option{}
			if preset.BitRate > 0 {
				bitRate, err := args.Params.Int("bit_rate", preset.BitRate)
				if err != nil {
					return nil, err
				}
				options = append(options, WithBitRate(bitRate))
			}
			return NewEncoder(preset, args.Output, args.SampleRate, args.Channels, options...)
		})
	}
}

func (p Preset) descriptor() phonic.Descriptor {
	d := phonic.Descriptor{
		ID:          p.ID,
		Name:        p.Label + " encoder",
		Version:     "1.0",
		Description: fmt.Sprintf("Encodes signal into %s with ffmpeg", p.Description),
		Kind:        phonic.KindEncoder,
	}
	if p.BitRate > 0 {
		d.Params = []phonic.Param{
			{Name: "bit_rate", Default: p.BitRate, Description: "bit rate in kbps"},
		}
	}
	return d
}

// Encoder pipes signal into ffmpeg process. The process is started by the
// first processed frame. In streaming mode output of the process is
// collected in background and emitted by Process and Finish calls.
// Every run launches its own process.
type Encoder struct {
	phonic.Lifecycle
	preset     Preset
	output     phonic.Output
	sampleRate int
	channels   int
	bitRate    int
	binary     string
	metadata   phonic.Metadata

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *buffer
	// streaming output
	mu     sync.Mutex
	queue  [][]byte
	copied chan error

	samples  int64
	finished bool
	reported bool
	// failure of the latest Finish.
	err error
}

// Option configures ffmpeg encoder.
type Option func(*Encoder) error

// WithBitRate sets bit rate in kbps for lossy presets.
func WithBitRate(kbps int) Option {
	return func(e *Encoder) error {
		if e.preset.BitRate == 0 {
			return &phonic.ConfigurationError{Stage: e.preset.ID, Param: "bit_rate", Reason: "codec is lossless"}
		}
		if kbps < 8 || kbps > 512 {
			return &phonic.ConfigurationError{Stage: e.preset.ID, Param: "bit_rate", Reason: fmt.Sprintf("must be between 8 and 512, got %d", kbps)}
		}
		e.bitRate = kbps
		return nil
	}
}

// WithBinary sets ffmpeg binary.
func WithBinary(path string) Option {
	return func(e *Encoder) error {
		if path == "" {
			return &phonic.ConfigurationError{Stage: e.preset.ID, Param: "binary", Reason: "empty path"}
		}
		e.binary = path
		return nil
	}
}

// NewEncoder creates encoder for provided preset and output.
func NewEncoder(preset Preset, output phonic.Output, sampleRate, channels int, options ...Option) (*Encoder, error) {
	if err := output.Validate(); err != nil {
		return nil, stage(preset.ID, err)
	}
	props := phonic.Properties{SampleRate: sampleRate, Channels: channels, BlockSize: 1}
	if err := props.Validate(); err != nil {
		return nil, stage(preset.ID, err)
	}
	e := &Encoder{
		Lifecycle:  phonic.Lifecycle{Stage: preset.ID},
		preset:     preset,
		output:     output,
		sampleRate: sampleRate,
		channels:   channels,
		bitRate:    preset.BitRate,
		binary:     DefaultFFmpeg,
	}
	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func stage(id string, err error) error {
	var ce *phonic.ConfigurationError
	if errors.As(err, &ce) && ce.Stage == "" {
		ce.Stage = id
	}
	return err
}

// Descriptor implements phonic.Processor.
func (e *Encoder) Descriptor() phonic.Descriptor {
	return e.preset.descriptor()
}

// Format implements phonic.Encoder.
func (e *Encoder) Format() phonic.Format {
	return e.preset.Format
}

// SetMetadata implements phonic.Encoder. Tags are passed to ffmpeg as
// -metadata arguments.
func (e *Encoder) SetMetadata(md phonic.Metadata) {
	e.metadata = append(phonic.Metadata(nil), md...)
}

// Setup implements phonic.Processor. Process is launched with the first
// frame of every run.
func (e *Encoder) Setup(props phonic.Properties) error {
	if err := props.Require(e.preset.ID, e.sampleRate, e.channels); err != nil {
		return err
	}
	e.kill()
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
	e.samples = 0
	e.finished, e.reported, e.err = false, false, nil
	e.Begin()
	return nil
}

// args returns ffmpeg arguments.
func (e *Encoder) args() []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", rawFormat,
		"-ar", strconv.Itoa(e.sampleRate),
		"-ac", strconv.Itoa(e.channels),
		"-i", "pipe:0",
	}
	args = append(args, metadataArgs(e.metadata)...)
	args = append(args, "-c:a", e.preset.Codec)
	if e.bitRate > 0 {
		args = append(args, "-b:a", strconv.Itoa(e.bitRate)+"k")
	}
	args = append(args, "-f", e.preset.Muxer)
	if e.output.Streaming() {
		return append(args, "pipe:1")
	}
	return append(args, "-y", e.output.Path)
}

func metadataArgs(md phonic.Metadata) []string {
	args := make([]string, 0, 2*len(md))
	for _, t := range md {
		args = append(args, "-metadata", t.Name+"="+t.Value)
	}
	return args
}

// start launches ffmpeg process.
func (e *Encoder) start() error {
	cmd := exec.Command(e.binary, e.args()...)
	e.stderr = &buffer{}
	cmd.Stderr = e.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	var stdout io.ReadCloser
	if e.output.Streaming() {
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return err
		}
	}
	if err := cmd.Start(); err != nil {
		return processError("start ffmpeg", cmd, e.stderr, err)
	}
	e.cmd, e.stdin = cmd, stdin
	if stdout != nil {
		e.copied = make(chan error, 1)
		go e.collect(stdout)
	}
	return nil
}

// collect reads process output into the queue until it's closed.
func (e *Encoder) collect(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.mu.Lock()
			e.queue = append(e.queue, chunk)
			e.mu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			e.copied <- err
			return
		}
	}
}

// drain emits collected output.
func (e *Encoder) drain() {
	e.mu.Lock()
	queue := e.queue
	e.queue = nil
	e.mu.Unlock()
	for _, chunk := range queue {
		e.output.Emit(chunk)
	}
}

// Process implements phonic.Processor.
func (e *Encoder) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := e.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	if e.cmd == nil {
		if err := e.start(); err != nil {
			return phonic.Frame{}, false, err
		}
	}
	if _, err := e.stdin.Write(f.Samples.AsInterFloat64LE()); err != nil {
		// process is dead, its exit status tells why
		e.stdin.Close()
		return phonic.Frame{}, false, e.wait(err)
	}
	e.samples += int64(f.Size())
	if e.output.Streaming() {
		e.drain()
	}
	return f, true, nil
}

// wait waits for the process and returns its failure.
func (e *Encoder) wait(cause error) error {
	cmd := e.cmd
	e.cmd = nil
	var copyErr error
	if e.copied != nil {
		copyErr = <-e.copied
		e.copied = nil
	}
	if err := cmd.Wait(); err != nil {
		return processError("ffmpeg failed", cmd, e.stderr, err)
	}
	if cause != nil {
		return processError("ffmpeg failed", cmd, e.stderr, cause)
	}
	if copyErr != nil {
		return processError("read ffmpeg output", cmd, e.stderr, copyErr)
	}
	return nil
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
	if e.cmd == nil {
		// empty stream still produces valid output
		if err := e.start(); err != nil {
			return err
		}
	}
	if err := e.stdin.Close(); err != nil {
		return e.wait(err)
	}
	if err := e.wait(nil); err != nil {
		return err
	}
	if e.output.Streaming() {
		e.drain()
	}
	return nil
}

// Finalize implements phonic.Processor. Output is finished if it wasn't.
// Failure of Finish is returned instead of the result.
func (e *Encoder) Finalize() ([]phonic.Result, error) {
	if e.reported {
		return nil, &phonic.FinalizeMisuseError{Stage: e.preset.ID, Op: "finalize", Err: phonic.ErrFinalized}
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
		ID:       e.preset.ID,
		Field:    "output",
		Version:  "1.0",
		MimeType: e.preset.MimeType,
		Values:   []float64{float64(e.samples)},
		Metadata: map[string]interface{}{
			"codec":    e.preset.Codec,
			"bit_rate": e.bitRate,
		},
	}
	if !e.output.Streaming() {
		r.Path = e.output.Path
	}
	return []phonic.Result{r}, nil
}

// Update implements phonic.Encoder. Streams are copied into a new file
// with current tags, then the file replaces the output.
func (e *Encoder) Update() error {
	switch {
	case e.output.Streaming():
		return &phonic.FinalizeMisuseError{Stage: e.preset.ID, Op: "update", Err: phonic.ErrStreamingMode}
	case !e.finished:
		return &phonic.FinalizeMisuseError{Stage: e.preset.ID, Op: "update", Err: phonic.ErrNotFinished}
	case e.err != nil:
		return e.err
	}
	path := e.output.Path
	tmp := filepath.Join(filepath.Dir(path), ".tags-"+filepath.Base(path))
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-i", path, "-map", "0", "-map_metadata", "-1"}
	args = append(args, metadataArgs(e.metadata)...)
	args = append(args, "-c", "copy", "-f", e.preset.Muxer, "-y", tmp)
	cmd := exec.Command(e.binary, args...)
	stderr := &buffer{}
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		return processError("update tags", cmd, stderr, err)
	}
	return os.Rename(tmp, path)
}

// Interrupt implements phonic.Interrupter. Process is killed and partially
// written file is removed.
func (e *Encoder) Interrupt() error {
	if e.finished {
		return nil
	}
	e.End("interrupt")
	e.finished = true
	e.kill()
	e.release()
	return nil
}

// kill stops the running process, if any.
func (e *Encoder) kill() {
	if e.cmd == nil {
		return
	}
	e.stdin.Close()
	e.cmd.Process.Kill()
	// killed process exits with error
	e.wait(nil)
}

func (e *Encoder) release() {
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
	if !e.output.Streaming() {
		os.Remove(e.output.Path)
	}
}
