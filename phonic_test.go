package phonic_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

func TestFrame(t *testing.T) {
	f := phonic.Frame{
		Index:   3,
		Samples: signal.Float64{{1, 2, 3}, {4, 5, 6}},
		EOS:     true,
	}
	assert.Equal(t, 3, f.Size())
	assert.Equal(t, 2, f.NumChannels())

	c := f.Copy()
	assert.True(t, f.Equal(c))
	c.Samples[0][0] = 10
	assert.False(t, f.Equal(c))
	assert.Equal(t, 1.0, f.Samples[0][0])

	c = f.Copy()
	c.EOS = false
	assert.False(t, f.Equal(c))
	assert.Equal(t, 0, phonic.Frame{}.Size())
}

func TestProperties(t *testing.T) {
	tests := []struct {
		props phonic.Properties
		param string
	}{
		{props: phonic.Properties{SampleRate: 44100, Channels: 2, BlockSize: 512}},
		{props: phonic.Properties{Channels: 2, BlockSize: 512}, param: "sample rate"},
		{props: phonic.Properties{SampleRate: 44100, BlockSize: 512}, param: "channels"},
		{props: phonic.Properties{SampleRate: 44100, Channels: 2}, param: "block size"},
	}
	for _, c := range tests {
		err := c.props.Validate()
		if c.param == "" {
			assert.NoError(t, err)
			continue
		}
		var ce *phonic.ConfigurationError
		assert.True(t, errors.As(err, &ce))
		assert.Equal(t, c.param, ce.Param)
	}

	props := phonic.Properties{SampleRate: 44100, Channels: 2, BlockSize: 512}
	assert.NoError(t, props.Require("stage", 44100, 2))
	assert.NoError(t, props.Require("stage", 0, 0))
	err := props.Require("stage", 48000, 2)
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	assert.Contains(t, err.Error(), "stage")
	assert.Contains(t, err.Error(), "48000")
	assert.Error(t, props.Require("stage", 44100, 1))
}

func TestStreamInfo(t *testing.T) {
	tests := []struct {
		total     int64
		blockSize int
		blocks    int
	}{
		{total: 352800, blockSize: 8192, blocks: 44},
		{total: 8192, blockSize: 8192, blocks: 1},
		{total: 0, blockSize: 8192, blocks: 0},
		{total: -1, blockSize: 8192, blocks: -1},
	}
	for _, c := range tests {
		info := phonic.StreamInfo{
			Properties:  phonic.Properties{SampleRate: 44100, Channels: 2, BlockSize: c.blockSize},
			TotalFrames: c.total,
		}
		assert.Equal(t, c.blocks, info.Blocks(), "total %d", c.total)
	}
}

func TestOutput(t *testing.T) {
	assert.NoError(t, phonic.ToFile("a.wav").Validate())
	assert.NoError(t, phonic.ToStream(func([]byte) {}).Validate())
	assert.True(t, errors.Is(phonic.Output{}.Validate(), phonic.ErrConfiguration))
	both := phonic.Output{Path: "a.wav", Stream: func([]byte) {}}
	assert.True(t, errors.Is(both.Validate(), phonic.ErrConfiguration))

	var chunks [][]byte
	o := phonic.ToStream(func(b []byte) { chunks = append(chunks, b) })
	assert.True(t, o.Streaming())
	assert.False(t, phonic.ToFile("a.wav").Streaming())
	data := []byte{1, 2}
	n, err := o.Write(data)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	o.Emit(nil)
	o.Emit([]byte{})
	// emitted data is a copy
	data[0] = 9
	assert.Equal(t, [][]byte{{1, 2}}, chunks)
	assert.Equal(t, "stream", o.String())
	assert.Equal(t, "a.wav", phonic.ToFile("a.wav").String())
}

func TestMetadata(t *testing.T) {
	md := phonic.Metadata{
		{Name: "title", Value: "First"},
		{Name: "artist", Value: "Nobody"},
		{Name: "title", Value: "Second"},
	}
	v, ok := md.Get("title")
	assert.True(t, ok)
	assert.Equal(t, "Second", v)
	_, ok = md.Get("album")
	assert.False(t, ok)
}

func TestDescriptor(t *testing.T) {
	d := phonic.Descriptor{ID: "level", Version: "1.0", Kind: phonic.KindAnalyzer}
	assert.Equal(t, "level@1.0", d.String())
	assert.Equal(t, "level", phonic.Descriptor{ID: "level"}.String())
	assert.Equal(t, "analyzer", d.Kind.String())
	assert.Equal(t, "unknown", phonic.Kind(100).String())
}

func TestUID(t *testing.T) {
	assert.NotEqual(t, phonic.NewUID(), phonic.NewUID())
}
