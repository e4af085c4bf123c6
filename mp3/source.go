// Package mp3 provides mp3 source and encoder.
package mp3

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/signal"
)

// MimeType of mp3 streams.
const MimeType = "audio/mpeg"

const (
	// decoder always provides 16 bit stereo.
	channels       = 2
	bytesPerSample = 2 * channels
)

func init() {
	decoder.RegisterSource(".mp3", func(location string) (decoder.Source, error) {
		return NewSource(location), nil
	})
}

var errNotOpen = errors.New("source is not open")

// Source reads samples from mp3 file.
type Source struct {
	path string
	file *os.File
	d    *mp3.Decoder
	buf  []byte
}

// NewSource creates new mp3 source.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Open implements decoder.Source.
func (s *Source) Open() (phonic.StreamInfo, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return phonic.StreamInfo{}, err
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return phonic.StreamInfo{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	s.file, s.d = f, d
	total := int64(-1)
	if l := d.Length(); l >= 0 {
		total = l / bytesPerSample
	}
	return phonic.StreamInfo{
		Properties: phonic.Properties{
			SampleRate: d.SampleRate(),
			Channels:   channels,
		},
		TotalFrames: total,
		Duration:    signal.DurationOf(d.SampleRate(), total),
		MimeType:    MimeType,
	}, nil
}

// Read implements decoder.Source.
func (s *Source) Read(b signal.Float64) (int, error) {
	if s.d == nil {
		return 0, io.EOF
	}
	size := b.Size() * bytesPerSample
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	n, err := io.ReadFull(s.d, s.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	n -= n % bytesPerSample
	if n == 0 {
		return 0, io.EOF
	}
	floats := signal.FromInterPCM16(s.buf[:n], channels)
	var read int
	for i := range b {
		read = copy(b[i], floats[i])
	}
	return read, nil
}

// SeekSamples implements decoder.SampleSeeker.
func (s *Source) SeekSamples(samples int64) error {
	if s.d == nil {
		return errNotOpen
	}
	_, err := s.d.Seek(samples*bytesPerSample, io.SeekStart)
	return err
}

// Close implements decoder.Source.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.d = nil, nil
	return err
}

func (s *Source) String() string {
	return s.path
}
