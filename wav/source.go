// Package wav provides wav source and encoder.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/signal"
)

// MimeType of wav streams.
const MimeType = "audio/x-wav"

func init() {
	open := func(location string) (decoder.Source, error) {
		return NewSource(location), nil
	}
	decoder.RegisterSource(".wav", open)
	decoder.RegisterSource(".wave", open)
}

// ErrInvalidFile is returned when file is not a valid wav.
var ErrInvalidFile = errors.New("wav is not valid")

// Source reads samples from wav file.
type Source struct {
	path     string
	file     *os.File
	decoder  *wav.Decoder
	buf      *audio.IntBuffer
	channels int
	bitDepth signal.BitDepth
}

// NewSource creates a new wav source.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Open implements decoder.Source.
func (s *Source) Open() (phonic.StreamInfo, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return phonic.StreamInfo{}, err
	}
	d := wav.NewDecoder(file)
	if !d.IsValidFile() {
		file.Close()
		return phonic.StreamInfo{}, ErrInvalidFile
	}
	if err := d.FwdToPCM(); err != nil {
		file.Close()
		return phonic.StreamInfo{}, fmt.Errorf("seek to pcm: %w", err)
	}
	s.file = file
	s.decoder = d
	s.channels = int(d.NumChans)
	s.bitDepth = signal.BitDepth(d.BitDepth)

	total := int64(-1)
	if bytesPerSample := int64(d.BitDepth) / 8; bytesPerSample > 0 && s.channels > 0 {
		total = int64(d.PCMSize) / bytesPerSample / int64(s.channels)
	}
	return phonic.StreamInfo{
		Properties: phonic.Properties{
			SampleRate: int(d.SampleRate),
			Channels:   s.channels,
		},
		TotalFrames: total,
		Duration:    signal.DurationOf(int(d.SampleRate), total),
		MimeType:    MimeType,
	}, nil
}

// Read implements decoder.Source.
func (s *Source) Read(b signal.Float64) (int, error) {
	if s.decoder == nil {
		return 0, io.EOF
	}
	size := b.Size() * s.channels
	if s.buf == nil || cap(s.buf.Data) < size {
		s.buf = &audio.IntBuffer{
			Format:         s.decoder.Format(),
			Data:           make([]int, size),
			SourceBitDepth: int(s.bitDepth),
		}
	}
	s.buf.Data = s.buf.Data[:size]
	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	floats := signal.InterInt{
		Data:        s.buf.Data[:n],
		NumChannels: s.channels,
		BitDepth:    s.bitDepth,
	}.AsFloat64()
	var read int
	for i := range b {
		read = copy(b[i], floats[i])
	}
	return read, nil
}

// Close implements decoder.Source.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.decoder = nil, nil
	return err
}

func (s *Source) String() string {
	return s.path
}

// ReadMetadata returns tags of the wav file. LIST/INFO entries are read
// both with and without the pad byte after odd-sized values.
func ReadMetadata(path string) (phonic.Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	p := riff.New(file)
	if err := p.ParseHeaders(); err != nil {
		return nil, ErrInvalidFile
	}
	if p.Format != riff.WavFormatID {
		return nil, ErrInvalidFile
	}
	values := make(map[string]string)
	for {
		ch, err := p.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
		if ch.ID != listID {
			ch.Done()
			continue
		}
		// odd chunk size is already padded by the parser
		b, err := io.ReadAll(io.LimitReader(ch, int64(ch.Size)))
		if err != nil {
			return nil, fmt.Errorf("read LIST chunk: %w", err)
		}
		readInfo(b, values)
	}
	var md phonic.Metadata
	for _, name := range infoOrder {
		if v, ok := values[name]; ok && v != "" {
			md = append(md, phonic.Tag{Name: name, Value: v})
		}
	}
	return md, nil
}

var (
	listID = [4]byte{'L', 'I', 'S', 'T'}
	infoID = [4]byte{'I', 'N', 'F', 'O'}
)

// readInfo decodes entries of LIST/INFO chunk into values. Other LIST types
// are ignored.
func readInfo(b []byte, values map[string]string) {
	if len(b) < 4 || [4]byte(b[:4]) != infoID {
		return
	}
	b = b[4:]
	for len(b) >= 8 {
		id := [4]byte(b[:4])
		size := int(binary.LittleEndian.Uint32(b[4:8]))
		b = b[8:]
		if size > len(b) {
			size = len(b)
		}
		if name, ok := infoNames[id]; ok {
			values[name] = strings.TrimRight(string(b[:size]), "\x00")
		}
		b = b[size:]
		if size%2 == 1 && len(b) > 0 && b[0] == 0 {
			b = b[1:]
		}
	}
}

// infoNames maps LIST/INFO identifiers to tag names.
var infoNames = map[[4]byte]string{
	{'I', 'N', 'A', 'M'}: "title",
	{'I', 'A', 'R', 'T'}: "artist",
	{'I', 'P', 'R', 'D'}: "album",
	{'I', 'C', 'M', 'T'}: "comment",
	{'I', 'C', 'O', 'P'}: "copyright",
	{'I', 'C', 'R', 'D'}: "date",
	{'I', 'G', 'N', 'R'}: "genre",
	{'I', 'K', 'E', 'Y'}: "keywords",
	{'I', 'S', 'F', 'T'}: "software",
	{'I', 'S', 'R', 'C'}: "source",
	{'I', 'A', 'R', 'L'}: "location",
	{'I', 'T', 'R', 'K'}: "track",
	{'I', 'S', 'B', 'J'}: "subject",
	{'I', 'E', 'N', 'G'}: "engineer",
}

// infoFields maps tag names to LIST/INFO fields.
var infoFields = map[string]func(*wav.Metadata) *string{
	"title":     func(m *wav.Metadata) *string { return &m.Title },
	"artist":    func(m *wav.Metadata) *string { return &m.Artist },
	"album":     func(m *wav.Metadata) *string { return &m.Product },
	"comment":   func(m *wav.Metadata) *string { return &m.Comments },
	"copyright": func(m *wav.Metadata) *string { return &m.Copyright },
	"date":      func(m *wav.Metadata) *string { return &m.CreationDate },
	"genre":     func(m *wav.Metadata) *string { return &m.Genre },
	"keywords":  func(m *wav.Metadata) *string { return &m.Keywords },
	"software":  func(m *wav.Metadata) *string { return &m.Software },
	"source":    func(m *wav.Metadata) *string { return &m.Source },
	"location":  func(m *wav.Metadata) *string { return &m.Location },
	"track":     func(m *wav.Metadata) *string { return &m.TrackNbr },
	"subject":   func(m *wav.Metadata) *string { return &m.Subject },
	"engineer":  func(m *wav.Metadata) *string { return &m.Engineer },
}

// infoOrder keeps tags read from file in stable order.
var infoOrder = []string{
	"title", "artist", "album", "comment", "copyright", "date", "genre",
	"keywords", "software", "source", "location", "track", "subject", "engineer",
}

// toInfo converts tags into LIST/INFO metadata. Unknown names are
// dropped, the last value wins. Nil is returned if no tags are mapped.
func toInfo(md phonic.Metadata) *wav.Metadata {
	var (
		m      wav.Metadata
		mapped bool
	)
	for _, tag := range md {
		if field, ok := infoFields[strings.ToLower(tag.Name)]; ok {
			*field(&m) = tag.Value
			mapped = true
		}
	}
	if !mapped {
		return nil
	}
	return &m
}
