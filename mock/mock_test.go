package mock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/mock"
	"github.com/pipelined/phonic/pipe"
)

const blockSize = 10

var tests = []struct {
	channels int
	limit    int
	value    float64
	messages int
	samples  int
}{
	{
		channels: 1,
		limit:    100,
		value:    0.5,
		messages: 10,
		samples:  100,
	},
	{
		channels: 2,
		limit:    1005,
		value:    0.7,
		messages: 101,
		samples:  1005,
	},
}

func TestPipe(t *testing.T) {
	for _, test := range tests {
		src := &mock.Source{
			Limit:       test.limit,
			Value:       test.value,
			NumChannels: test.channels,
			SampleRate:  44100,
		}
		dec, err := decoder.New(src, decoder.WithBlockSize(blockSize))
		require.NoError(t, err)
		processor := (&mock.Processor{}).Keep()
		encoder := &mock.Encoder{Output: phonic.ToFile("mock.raw")}
		p, err := pipe.New(dec, pipe.WithName("Mock"), pipe.WithProcessors(processor, encoder))
		require.NoError(t, err)

		require.NoError(t, p.Run(context.Background()))
		assert.True(t, src.Closed)

		messages, samples := processor.Count()
		assert.Equal(t, test.messages, messages)
		assert.Equal(t, test.samples, samples)
		messages, samples = encoder.Count()
		assert.Equal(t, test.messages, messages)
		assert.Equal(t, test.samples, samples)

		frames := processor.Frames()
		require.Len(t, frames, test.messages)
		assert.True(t, frames[len(frames)-1].EOS)
		assert.Equal(t, test.channels, frames[0].NumChannels())

		decoded := mock.Decode(encoder.Data(), test.channels)
		assert.Equal(t, test.samples, decoded.Size())
		for c := range decoded {
			for _, v := range decoded[c] {
				assert.Equal(t, test.value, v)
			}
		}

		results := p.Results()
		r, ok := results.Get("mock.frames")
		require.True(t, ok)
		assert.Equal(t, float64(test.messages), r.Value())
		r, ok = results.Get("mock_encoder.output")
		require.True(t, ok)
		assert.Equal(t, "mock.raw", r.Path)
	}
}

func TestProcessorGain(t *testing.T) {
	src := &mock.Source{Limit: 20, Value: 0.25, NumChannels: 2, SampleRate: 8000}
	dec, err := decoder.New(src, decoder.WithBlockSize(blockSize))
	require.NoError(t, err)
	gain := &mock.Processor{ID: "gain", Gain: 2}
	sink := (&mock.Processor{}).Keep()
	p, err := pipe.New(dec, pipe.WithProcessors(gain, sink))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, phonic.KindTransform, gain.Descriptor().Kind)
	for _, f := range sink.Frames() {
		for c := range f.Samples {
			for _, v := range f.Samples[c] {
				assert.Equal(t, 0.5, v)
			}
		}
	}
}

func TestEncoderUpdate(t *testing.T) {
	e := &mock.Encoder{Output: phonic.ToFile("mock.raw")}
	require.NoError(t, e.Setup(phonic.Properties{SampleRate: 44100, Channels: 1, BlockSize: blockSize}))
	e.SetMetadata(phonic.Metadata{{Name: "title", Value: "first"}})
	assert.ErrorIs(t, e.Update(), phonic.ErrNotFinished)

	_, err := e.Finalize()
	require.NoError(t, err)
	assert.Equal(t, phonic.Metadata{{Name: "title", Value: "first"}}, e.Written())

	e.SetMetadata(phonic.Metadata{{Name: "title", Value: "second"}})
	require.NoError(t, e.Update())
	assert.Equal(t, phonic.Metadata{{Name: "title", Value: "second"}}, e.Written())

	_, err = e.Finalize()
	assert.ErrorIs(t, err, phonic.ErrFinalized)

	// encoder starts over on the next run
	require.NoError(t, e.Setup(phonic.Properties{SampleRate: 44100, Channels: 1, BlockSize: blockSize}))
	assert.ErrorIs(t, e.Update(), phonic.ErrNotFinished)
	results, err := e.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 0.0, results[0].Value())
	assert.Equal(t, 2, e.Finalizes)
}
