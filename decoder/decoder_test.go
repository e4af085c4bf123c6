package decoder_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/signal"
)

func ramp(channels, size int) signal.Float64 {
	s := signal.EmptyFloat64(channels, size)
	for c := range s {
		for i := range s[c] {
			s[c][i] = float64(i) / float64(size)
		}
	}
	return s
}

func readAll(t *testing.T, d *decoder.Decoder) []phonic.Frame {
	t.Helper()
	var frames []phonic.Frame
	for {
		f, err := d.Read()
		if errors.Is(err, io.EOF) {
			return frames
		}
		assert.NoError(t, err)
		if err != nil {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestDecoderBlocks(t *testing.T) {
	tests := []struct {
		size       int
		blockSize  int
		start      float64
		duration   float64
		frames     int
		lastSize   int
		totalCount int64
	}{
		{size: 352800, blockSize: 8192, frames: 44, lastSize: 352800 - 43*8192, totalCount: 352800},
		{size: 100, blockSize: 10, frames: 10, lastSize: 10, totalCount: 100},
		{size: 100, blockSize: 30, frames: 4, lastSize: 10, totalCount: 100},
		{size: 100, blockSize: 200, frames: 1, lastSize: 100, totalCount: 100},
		{size: 100, blockSize: 10, start: 0.5, frames: 5, lastSize: 10, totalCount: 50},
		{size: 100, blockSize: 10, start: 0.5, duration: 0.25, frames: 3, lastSize: 5, totalCount: 25},
		{size: 100, blockSize: 10, duration: 2, frames: 10, lastSize: 10, totalCount: 100},
		{size: 100, blockSize: 10, start: 2, frames: 0, totalCount: 0},
	}
	for _, test := range tests {
		sampleRate := 100
		if test.size == 352800 {
			sampleRate = 44100
		}
		d, err := decoder.New(
			decoder.NewArray(ramp(2, test.size), sampleRate),
			decoder.WithBlockSize(test.blockSize),
			decoder.WithStart(test.start),
			decoder.WithDuration(test.duration),
		)
		assert.NoError(t, err)
		info, err := d.Open()
		assert.NoError(t, err)
		assert.Equal(t, test.totalCount, info.TotalFrames)
		assert.Equal(t, test.blockSize, info.BlockSize)
		assert.Equal(t, 2, info.Channels)
		assert.Equal(t, test.frames, info.Blocks())

		frames := readAll(t, d)
		assert.Equal(t, test.frames, len(frames))
		for i, f := range frames {
			assert.Equal(t, i, f.Index)
			assert.Equal(t, i == len(frames)-1, f.EOS)
		}
		if len(frames) > 0 {
			assert.Equal(t, test.lastSize, frames[len(frames)-1].Size())
		}
		assert.NoError(t, d.Close())
	}
}

func TestDecoderStart(t *testing.T) {
	d, err := decoder.New(
		decoder.NewArray(ramp(1, 100), 100),
		decoder.WithBlockSize(10),
		decoder.WithStart(0.25),
	)
	assert.NoError(t, err)
	_, err = d.Open()
	assert.NoError(t, err)
	f, err := d.Read()
	assert.NoError(t, err)
	assert.Equal(t, 0.25, f.Samples[0][0])
	assert.Equal(t, 0, f.Index)

	// offset is in samples, sources are not byte seekers
	var src interface{} = decoder.NewArray(ramp(1, 100), 100)
	_, ok := src.(decoder.SampleSeeker)
	assert.True(t, ok)
	_, ok = src.(io.Seeker)
	assert.False(t, ok)
	assert.NoError(t, src.(decoder.SampleSeeker).SeekSamples(50))
}

func TestDecoderReopen(t *testing.T) {
	d, err := decoder.New(decoder.NewArray(ramp(1, 25), 10), decoder.WithBlockSize(10))
	assert.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = d.Open()
		assert.NoError(t, err)
		frames := readAll(t, d)
		assert.Equal(t, 3, len(frames))
	}
	assert.NoError(t, d.Close())
	// read after close
	_, err = d.Read()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestDecoderOptions(t *testing.T) {
	src := decoder.NewArray(ramp(1, 10), 10)
	tests := []decoder.Option{
		decoder.WithBlockSize(0),
		decoder.WithBlockSize(-1),
		decoder.WithStart(-1),
		decoder.WithDuration(-1),
	}
	for _, option := range tests {
		_, err := decoder.New(src, option)
		assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	}
	_, err := decoder.New(nil)
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
}

func TestDecoderErrors(t *testing.T) {
	// no channels
	d, err := decoder.New(decoder.NewArray(signal.Float64{}, 44100))
	assert.NoError(t, err)
	_, err = d.Open()
	assert.True(t, errors.Is(err, phonic.ErrDecode))

	// invalid sample rate
	d, err = decoder.New(decoder.NewArray(ramp(1, 10), 0))
	assert.NoError(t, err)
	_, err = d.Open()
	assert.True(t, errors.Is(err, phonic.ErrDecode))

	// unknown location
	_, err = decoder.Open("file.unknown-extension")
	assert.True(t, errors.Is(err, phonic.ErrDecode))
}

func TestDecoderStack(t *testing.T) {
	d, err := decoder.New(decoder.NewArray(ramp(1, 10), 10))
	assert.NoError(t, err)
	assert.Nil(t, d.Stack())
	assert.Equal(t, phonic.NotCaching, d.Stack().State())

	d, err = decoder.New(decoder.NewArray(ramp(1, 10), 10), decoder.WithStack())
	assert.NoError(t, err)
	assert.Equal(t, phonic.FillingCache, d.Stack().State())
	_, err = d.Open()
	assert.NoError(t, err)
	readAll(t, d)
	// decoder doesn't fill the stack by itself
	assert.Equal(t, 0, d.Stack().Len())
	assert.Equal(t, phonic.FillingCache, d.Stack().State())
}

func TestResolve(t *testing.T) {
	var opened string
	decoder.RegisterSource(".phonic-test", func(location string) (decoder.Source, error) {
		opened = location
		return decoder.NewArray(ramp(1, 10), 10), nil
	})
	decoder.RegisterSource("phonic-test", func(location string) (decoder.Source, error) {
		opened = "scheme:" + location
		return decoder.NewArray(ramp(1, 10), 10), nil
	})

	_, err := decoder.Resolve("file:///tmp/a.PHONIC-TEST")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/a.PHONIC-TEST", opened)

	_, err = decoder.Resolve("phonic-test://host/a.wav")
	assert.NoError(t, err)
	assert.Equal(t, "scheme:phonic-test://host/a.wav", opened)

	d, err := decoder.Open("/tmp/b.phonic-test")
	assert.NoError(t, err)
	assert.Equal(t, "array[1x10]", d.String())
}
