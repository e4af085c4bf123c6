package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/signal"
)

func init() {
	open := func(location string) (decoder.Source, error) {
		return NewSource(location), nil
	}
	decoder.RegisterSource("*", open)
	decoder.RegisterSource("http", open)
	decoder.RegisterSource("https", open)
}

var errStarted = errors.New("seek after decoding is started")

// Source decodes any media ffmpeg can read. Open probes the media with
// ffprobe, decoding process is started by the first Read.
type Source struct {
	location string
	ffmpeg   string
	ffprobe  string

	info   Info
	offset int64
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *buffer
	buf    []byte
	done   bool
}

// SourceOption configures ffmpeg source.
type SourceOption func(*Source)

// WithFFmpeg sets ffmpeg binary used to decode.
func WithFFmpeg(path string) SourceOption {
	return func(s *Source) {
		s.ffmpeg = path
	}
}

// WithFFprobe sets ffprobe binary used to probe.
func WithFFprobe(path string) SourceOption {
	return func(s *Source) {
		s.ffprobe = path
	}
}

// NewSource creates source for file path or URL.
func NewSource(location string, options ...SourceOption) *Source {
	s := &Source{
		location: location,
		ffmpeg:   DefaultFFmpeg,
		ffprobe:  DefaultFFprobe,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Open implements decoder.Source.
func (s *Source) Open() (phonic.StreamInfo, error) {
	if err := s.Close(); err != nil {
		return phonic.StreamInfo{}, err
	}
	info, err := Probe(context.Background(), s.ffprobe, s.location)
	if err != nil {
		return phonic.StreamInfo{}, err
	}
	s.info = info
	s.offset = 0
	s.done = false
	return phonic.StreamInfo{
		Properties: phonic.Properties{
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
		},
		TotalFrames: info.TotalFrames,
		Duration:    info.Duration,
		MimeType:    info.MimeType(),
	}, nil
}

// SeekSamples implements decoder.SampleSeeker. Offset is passed to ffmpeg
// when decoding is started.
func (s *Source) SeekSamples(samples int64) error {
	if s.cmd != nil {
		return errStarted
	}
	s.offset = samples
	return nil
}

func (s *Source) start() error {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if s.offset > 0 {
		seconds := float64(s.offset) / float64(s.info.SampleRate)
		args = append(args, "-ss", strconv.FormatFloat(seconds, 'f', -1, 64))
	}
	args = append(args,
		"-i", s.location,
		"-vn",
		"-f", rawFormat,
		"-acodec", "pcm_"+rawFormat,
		"-ac", strconv.Itoa(s.info.Channels),
		"-ar", strconv.Itoa(s.info.SampleRate),
		"pipe:1",
	)
	cmd := exec.Command(s.ffmpeg, args...)
	s.stderr = &buffer{}
	cmd.Stderr = s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", commandLine(cmd), err)
	}
	s.cmd, s.stdout = cmd, stdout
	return nil
}

// Read implements decoder.Source.
func (s *Source) Read(b signal.Float64) (int, error) {
	if s.done || s.info.Channels == 0 {
		return 0, io.EOF
	}
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return 0, err
		}
	}
	frameSize := bytesPerSample * s.info.Channels
	size := b.Size() * frameSize
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	n, err := io.ReadFull(s.stdout, s.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	n -= n % frameSize
	if n == 0 {
		s.done = true
		if err := s.wait(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	floats := signal.FromInterFloat64LE(s.buf[:n], s.info.Channels)
	var read int
	for i := range b {
		read = copy(b[i], floats[i])
	}
	return read, nil
}

// wait reaps the process and reports its failure.
func (s *Source) wait() error {
	cmd := s.cmd
	s.cmd, s.stdout = nil, nil
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w: %s", commandLine(cmd), err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}

// Close implements decoder.Source. Running process is killed.
func (s *Source) Close() error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd, s.stdout = nil, nil
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	// killed process exits with error
	cmd.Wait()
	return nil
}

func (s *Source) String() string {
	return s.location
}
