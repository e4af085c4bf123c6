package decoder

import (
	"fmt"
	"io"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

// Array is an in-memory source.
type Array struct {
	data       signal.Float64
	sampleRate int
	pos        int
}

// NewArray returns a source which reads provided samples. Samples are not
// copied and must not be modified while source is used.
func NewArray(data signal.Float64, sampleRate int) *Array {
	return &Array{
		data:       data,
		sampleRate: sampleRate,
	}
}

// Open implements Source.
func (a *Array) Open() (phonic.StreamInfo, error) {
	if a.data.NumChannels() == 0 {
		return phonic.StreamInfo{}, fmt.Errorf("array has no channels")
	}
	a.pos = 0
	total := int64(a.data.Size())
	return phonic.StreamInfo{
		Properties: phonic.Properties{
			SampleRate: a.sampleRate,
			Channels:   a.data.NumChannels(),
		},
		TotalFrames: total,
		Duration:    signal.DurationOf(a.sampleRate, total),
		MimeType:    "audio/x-raw",
	}, nil
}

// Read implements Source.
func (a *Array) Read(b signal.Float64) (int, error) {
	if a.pos >= a.data.Size() {
		return 0, io.EOF
	}
	var n int
	for i := range b {
		n = copy(b[i], a.data[i][a.pos:])
	}
	a.pos += n
	return n, nil
}

// SeekSamples implements SampleSeeker.
func (a *Array) SeekSamples(samples int64) error {
	if samples < 0 {
		return fmt.Errorf("negative seek position %d", samples)
	}
	if samples > int64(a.data.Size()) {
		samples = int64(a.data.Size())
	}
	a.pos = int(samples)
	return nil
}

// Close implements Source.
func (a *Array) Close() error {
	return nil
}

func (a *Array) String() string {
	return fmt.Sprintf("array[%dx%d]", a.data.NumChannels(), a.data.Size())
}
