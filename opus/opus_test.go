package opus_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	hopus "gopkg.in/hraban/opus.v2"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/opus"
	"github.com/pipelined/phonic/pipe"
	"github.com/pipelined/phonic/test"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleRate = 48000

func run(t *testing.T, enc *opus.Encoder, samples int) *pipe.Pipe {
	t.Helper()
	d, err := decoder.New(decoder.NewArray(test.Sweep(test.Channels, samples, sampleRate), sampleRate))
	require.NoError(t, err)
	p, err := pipe.New(d, pipe.WithProcessors(enc))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	return p
}

func TestEncodeFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sweep.opus")
	enc, err := opus.NewEncoder(phonic.ToFile(out), sampleRate, test.Channels, opus.WithBitRate(64))
	require.NoError(t, err)
	// one second and a half of a packet
	p := run(t, enc, sampleRate+480)

	r, ok := p.Results().Get("opus_encoder.output")
	require.True(t, ok)
	assert.Equal(t, out, r.Path)
	assert.Equal(t, 51, r.Metadata["packets"])

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	h, packets, err := opus.ReadPackets(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, opus.Header{SampleRate: sampleRate, Channels: test.Channels}, h)
	require.Len(t, packets, 51)

	dec, err := hopus.NewDecoder(sampleRate, test.Channels)
	require.NoError(t, err)
	pcm := make([]float32, sampleRate/50*test.Channels)
	for _, packet := range packets {
		n, err := dec.DecodeFloat32(packet, pcm)
		require.NoError(t, err)
		assert.Equal(t, sampleRate/50, n)
	}

	assert.True(t, errors.Is(enc.Update(), opus.ErrTagsUnsupported))
}

func TestEncodeStream(t *testing.T) {
	var chunks [][]byte
	enc, err := opus.NewEncoder(phonic.ToStream(func(b []byte) { chunks = append(chunks, b) }), sampleRate, test.Channels)
	require.NoError(t, err)
	p := run(t, enc, sampleRate)

	require.Len(t, chunks, 50)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
	}
	assert.True(t, bytes.HasPrefix(chunks[0], []byte("OPUSRAW1")))
	_, packets, err := opus.ReadPackets(bytes.NewReader(bytes.Join(chunks, nil)))
	require.NoError(t, err)
	assert.Len(t, packets, 50)

	assert.True(t, errors.Is(enc.Update(), phonic.ErrStreamingMode))
	_, _, err = enc.Process(phonic.Frame{Samples: test.Sweep(test.Channels, 10, sampleRate)})
	assert.True(t, errors.Is(err, phonic.ErrFinalizeMisuse))

	// next run writes a new stream
	require.NoError(t, p.Run(context.Background()))
	require.Len(t, chunks, 100)
	assert.True(t, bytes.HasPrefix(chunks[50], []byte("OPUSRAW1")))
	r, ok := p.Results().Get("opus_encoder.output")
	require.True(t, ok)
	assert.Equal(t, 50, r.Metadata["packets"])
}

func TestEncodeEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc, err := opus.NewEncoder(phonic.ToStream(func(b []byte) { buf.Write(b) }), sampleRate, 1)
	require.NoError(t, err)
	d, err := decoder.New(decoder.NewArray(test.Sweep(1, 0, sampleRate), sampleRate))
	require.NoError(t, err)
	p, err := pipe.New(d, pipe.WithProcessors(enc))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	h, packets, err := opus.ReadPackets(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Channels)
	assert.Empty(t, packets)
}

func TestReadPacketsInvalid(t *testing.T) {
	_, _, err := opus.ReadPackets(bytes.NewReader([]byte("RIFF0000WAVE")))
	assert.True(t, errors.Is(err, opus.ErrInvalidStream))
}

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		sampleRate int
		channels   int
		options    []opus.Option
	}{
		{sampleRate: 44100, channels: 2},
		{sampleRate: 48000, channels: 3},
		{sampleRate: 48000, channels: 2, options: []opus.Option{opus.WithBitRate(1)}},
	}
	for _, c := range tests {
		_, err := opus.NewEncoder(phonic.ToFile("a.opus"), c.sampleRate, c.channels, c.options...)
		assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	}
	proc, err := phonic.New("opus_encoder", phonic.Args{SampleRate: 48000, Channels: 1, Output: phonic.ToFile("a.opus")})
	require.NoError(t, err)
	assert.Equal(t, "opus_encoder", proc.Descriptor().ID)
}
