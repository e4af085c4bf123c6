package pipe_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/analyzer/level"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/metric"
	"github.com/pipelined/phonic/mock"
	"github.com/pipelined/phonic/pipe"
	"github.com/pipelined/phonic/signal"
	"github.com/pipelined/phonic/wav"
)

const (
	sampleRate = 44100
	channels   = 2
	// 8 seconds of stereo signal.
	samples = 352800
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sweep returns a sine sweep from 20 Hz to 2 kHz.
func sweep(channels, size, sampleRate int) signal.Float64 {
	s := signal.EmptyFloat64(channels, size)
	var phase float64
	for i := 0; i < size; i++ {
		freq := 20 + 1980*float64(i)/float64(size)
		phase += 2 * math.Pi * freq / float64(sampleRate)
		for c := range s {
			s[c][i] = 0.5 * math.Sin(phase)
		}
	}
	return s
}

func newDecoder(t *testing.T, options ...decoder.Option) *decoder.Decoder {
	t.Helper()
	d, err := decoder.New(decoder.NewArray(sweep(channels, samples, sampleRate), sampleRate), options...)
	require.NoError(t, err)
	return d
}

func result(t *testing.T, p *pipe.Pipe, key string) float64 {
	t.Helper()
	r, ok := p.Results().Get(key)
	require.True(t, ok, "missing %s", key)
	return r.Value()
}

func TestBlocks(t *testing.T) {
	proc := (&mock.Processor{}).Keep()
	p, err := pipe.New(newDecoder(t), pipe.WithProcessors(proc))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	frames := proc.Frames()
	assert.Equal(t, 44, len(frames))
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, channels, f.NumChannels())
		assert.Equal(t, i == 43, f.EOS)
	}
	assert.Equal(t, samples-43*phonic.DefaultBlockSize, frames[43].Size())
	assert.Equal(t, 44.0, result(t, p, "mock.frames"))
	assert.Equal(t, float64(samples), result(t, p, "mock.samples"))
	assert.Equal(t, 1, proc.Finalizes)
	assert.Equal(t, phonic.NotCaching, p.Stack().State())
}

func TestStack(t *testing.T) {
	src := &mock.Source{
		Limit:       samples,
		Value:       0.25,
		NumChannels: channels,
		SampleRate:  sampleRate,
	}
	d, err := decoder.New(src, decoder.WithStack())
	require.NoError(t, err)
	proc := (&mock.Processor{}).Keep()
	p, err := pipe.New(d, pipe.WithProcessors(proc))
	require.NoError(t, err)

	assert.Equal(t, phonic.FillingCache, p.Stack().State())
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, phonic.ReplayingFromCache, p.Stack().State())
	assert.Equal(t, 44, p.Stack().Len())
	assert.Equal(t, 1, src.Opens)
	assert.True(t, src.Closed)

	info := p.Stack().Info()
	assert.Equal(t, int64(samples), info.TotalFrames)
	assert.Equal(t, 44, info.Blocks())
	assert.Equal(t, "audio/x-mock", info.MimeType)
	decoded := proc.Frames()

	// source is broken, but it's not touched anymore
	src.ErrorOnOpen = errors.New("source is gone")
	src.ErrorOnCall = errors.New("source is gone")
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, src.Opens)
	assert.Equal(t, phonic.ReplayingFromCache, p.Stack().State())

	replayed := proc.Frames()
	require.Equal(t, len(decoded), len(replayed))
	for i := range decoded {
		assert.True(t, decoded[i].Equal(replayed[i]), "frame %d", i)
	}
	assert.Equal(t, 2, proc.Finalizes)
}

func TestLevelOnStack(t *testing.T) {
	levelOnFile := level.New()
	p, err := pipe.New(newDecoder(t, decoder.WithStack()), pipe.WithProcessors(levelOnFile))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	onFile := result(t, p, "level.rms")
	assert.True(t, p.Stack().Replaying())

	levelOnStack := level.New()
	p.Extend(levelOnStack)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, onFile, result(t, p, "level.rms"))
	assert.Equal(t, onFile, result(t, p, "level.rms#2"))
	assert.Len(t, p.Results().All("level.rms"), 2)

	// 0.5 amplitude sine is about -9 dBFS
	assert.InDelta(t, -9.03, onFile, 0.1)
}

func TestCompose(t *testing.T) {
	first, second := level.New(), level.New()
	a, err := pipe.New(newDecoder(t), pipe.WithProcessors(first))
	require.NoError(t, err)

	composed := pipe.Compose(a, second)
	assert.Len(t, a.Processors(), 1)
	assert.Len(t, composed.Processors(), 2)
	assert.Equal(t, a.Decoder(), composed.Decoder())

	require.NoError(t, composed.Run(context.Background()))
	keys := composed.Results().Keys()
	assert.Equal(t, []string{"level.rms", "level.max", "level.rms#2", "level.max#2"}, keys)
	assert.Equal(t, result(t, composed, "level.rms"), result(t, composed, "level.rms#2"))
	assert.Len(t, first.Results(), 2)
	assert.Len(t, second.Results(), 2)

	// results of different instances are distinguished
	r1, _ := composed.Results().Get("level.rms")
	r2, _ := composed.Results().Get("level.rms#2")
	assert.NotEqual(t, r1.Instance, r2.Instance)
	assert.Equal(t, "1.0", r1.Version)

	// original pipe wasn't run
	assert.Equal(t, 0, a.Results().Len())
}

func TestComposeAssociative(t *testing.T) {
	x, y, z := &mock.Processor{ID: "x"}, &mock.Processor{ID: "y"}, &mock.Processor{ID: "z"}
	d := newDecoder(t)
	a, err := pipe.New(d, pipe.WithProcessors(x))
	require.NoError(t, err)

	left := pipe.Compose(pipe.Compose(a, y), z)
	right := pipe.Compose(a, y, z)
	assert.Equal(t, left.Processors(), right.Processors())

	m1, err := pipe.Merge(a, pipe.Chain(y, z))
	require.NoError(t, err)
	ab, err := pipe.Merge(a, pipe.Chain(y))
	require.NoError(t, err)
	m2, err := pipe.Merge(ab, pipe.Chain(z))
	require.NoError(t, err)
	assert.Equal(t, left.Processors(), m1.Processors())
	assert.Equal(t, left.Processors(), m2.Processors())

	// already attached processors are ignored
	a.Extend(x, y, y)
	assert.Equal(t, []phonic.Processor{x, y}, a.Processors())
}

func TestMerge(t *testing.T) {
	proc := &mock.Processor{}
	d := newDecoder(t)
	a, err := pipe.New(d)
	require.NoError(t, err)

	merged, err := pipe.Merge(pipe.Chain(proc), a)
	require.NoError(t, err)
	assert.Equal(t, d, merged.Decoder())
	require.NoError(t, merged.Run(context.Background()))
	assert.Equal(t, 44.0, result(t, merged, "mock.frames"))

	b, err := pipe.New(newDecoder(t))
	require.NoError(t, err)
	_, err = pipe.Merge(a, b)
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))

	err = pipe.Chain(proc).Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
}

func TestEmptyStream(t *testing.T) {
	d, err := decoder.New(decoder.NewArray(signal.Float64{[]float64{}}, sampleRate), decoder.WithStack())
	require.NoError(t, err)
	proc := &mock.Processor{}
	p, err := pipe.New(d, pipe.WithProcessors(level.New(), proc))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Run(context.Background()))
		assert.Equal(t, level.Floor, result(t, p, "level.rms"))
		assert.Equal(t, level.Floor, result(t, p, "level.max"))
		assert.Equal(t, 0.0, result(t, p, "mock.frames"))
		assert.True(t, p.Stack().Replaying())
		assert.Equal(t, 0, p.Stack().Len())
	}
	assert.Equal(t, 2, proc.Finalizes)
}

func TestStop(t *testing.T) {
	stopper := &mock.Processor{ID: "stopper", StopAt: 3}
	after := &mock.Processor{ID: "after"}
	p, err := pipe.New(newDecoder(t, decoder.WithStack()), pipe.WithProcessors(stopper, after))
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3.0, result(t, p, "stopper.frames"))
	// current frame reaches all stages
	assert.Equal(t, 3.0, result(t, p, "after.frames"))
	assert.Equal(t, 1, stopper.Finalizes)
	assert.Equal(t, 1, after.Finalizes)
	assert.False(t, after.Interrupted)

	// partial cache is discarded
	assert.Equal(t, phonic.FillingCache, p.Stack().State())
	assert.Equal(t, 0, p.Stack().Len())

	stopper.StopAt = 0
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, phonic.ReplayingFromCache, p.Stack().State())
	assert.Equal(t, 44, p.Stack().Len())
}

func TestTransform(t *testing.T) {
	before := &mock.Processor{ID: "before"}
	gain := &mock.Processor{ID: "gain", Gain: 0.5}
	after := &mock.Processor{ID: "after"}
	p, err := pipe.New(newDecoder(t), pipe.WithProcessors(level.New(), gain, before, level.New()))
	require.NoError(t, err)
	p.Extend(after)
	require.NoError(t, p.Run(context.Background()))

	// -6 dB after gain
	assert.InDelta(t, result(t, p, "level.rms")-6.02, result(t, p, "level.rms#2"), 0.01)
	assert.Equal(t, result(t, p, "before.samples"), result(t, p, "after.samples"))
}

func TestConfigurationErrors(t *testing.T) {
	src := &mock.Source{Limit: 100, NumChannels: 1, SampleRate: sampleRate}
	d, err := decoder.New(src, decoder.WithStack())
	require.NoError(t, err)
	ok := &mock.Processor{ID: "ok"}
	wrongRate := &mock.Processor{ID: "wrong", SampleRate: 48000}
	p, err := pipe.New(d, pipe.WithProcessors(ok, wrongRate))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	var ce *phonic.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "wrong", ce.Stage)
	assert.Equal(t, "sample rate", ce.Param)

	// no frame is pulled
	count, _ := src.Count()
	assert.Equal(t, 0, count)
	assert.True(t, ok.Interrupted)
	assert.False(t, wrongRate.Interrupted)
	assert.Equal(t, 0, ok.Finalizes)

	setupErr := errors.New("setup failed")
	failing := &mock.Processor{ID: "failing", ErrorOnSetup: setupErr}
	p, err = pipe.New(d, pipe.WithProcessors(failing))
	require.NoError(t, err)
	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	assert.True(t, errors.Is(err, setupErr))

	// error kept by the stage is not modified
	kept := &phonic.ConfigurationError{Param: "gain", Reason: "out of range"}
	failing.ErrorOnSetup = kept
	err = p.Run(context.Background())
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "failing@1.0", ce.Stage)
	assert.Equal(t, "gain", ce.Param)
	assert.Empty(t, kept.Stage)

	// misuse is reported as is
	misuse := &phonic.FinalizeMisuseError{Stage: "failing", Op: "setup", Err: phonic.ErrFinalized}
	failing.ErrorOnSetup = misuse
	err = p.Run(context.Background())
	assert.Equal(t, misuse, err)
	assert.True(t, errors.Is(err, phonic.ErrFinalized))
	assert.False(t, errors.Is(err, phonic.ErrConfiguration))

	_, err = pipe.New(nil)
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	_, err = pipe.New(d, pipe.WithProcessors(nil))
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
	_, err = pipe.New(d, pipe.WithLogger(nil))
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
}

func TestProcessError(t *testing.T) {
	processErr := errors.New("process failed")
	first := &mock.Processor{ID: "first"}
	failing := &mock.Processor{ID: "failing", ErrorOnCall: processErr}
	p, err := pipe.New(newDecoder(t, decoder.WithStack()), pipe.WithProcessors(first, failing))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrProcess))
	assert.True(t, errors.Is(err, processErr))
	var pe *phonic.ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "failing@1.0", pe.Stage)
	assert.Equal(t, 0, pe.Index)

	assert.True(t, first.Interrupted)
	assert.True(t, failing.Interrupted)
	assert.Equal(t, 0, first.Finalizes)
	assert.Equal(t, 0, p.Results().Len())
	assert.Equal(t, phonic.FillingCache, p.Stack().State())
	assert.Equal(t, 0, p.Stack().Len())

	// pipe is reusable after the cause is fixed
	failing.ErrorOnCall = nil
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 44.0, result(t, p, "failing.frames"))
	assert.True(t, p.Stack().Replaying())
}

func TestEncoderRerun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sweep.wav")
	processErr := errors.New("process failed")
	failing := &mock.Processor{ID: "failing", ErrorOnCall: processErr}
	enc, err := wav.NewEncoder(phonic.ToFile(out), sampleRate, channels)
	require.NoError(t, err)
	p, err := pipe.New(newDecoder(t), pipe.WithProcessors(failing, enc))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrProcess))
	assert.True(t, errors.Is(err, processErr))
	assert.False(t, errors.Is(err, phonic.ErrConfiguration))
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))

	failing.ErrorOnCall = nil
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, float64(samples), result(t, p, "wav_encoder.output"))
	r, ok := p.Results().Get("wav_encoder.output")
	require.True(t, ok)
	assert.Equal(t, out, r.Path)

	// clean run after a successful one
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, float64(samples), result(t, p, "wav_encoder.output"))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(samples*channels*2))
}

func TestDecodeError(t *testing.T) {
	src := &mock.Source{
		Limit:       samples,
		NumChannels: channels,
		SampleRate:  sampleRate,
		ErrorAfter:  2 * phonic.DefaultBlockSize,
	}
	d, err := decoder.New(src, decoder.WithStack())
	require.NoError(t, err)
	proc := &mock.Processor{}
	p, err := pipe.New(d, pipe.WithProcessors(proc))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrDecode))
	count, _ := proc.Count()
	assert.Equal(t, 1, count)
	assert.True(t, proc.Interrupted)
	assert.Equal(t, 0, proc.Finalizes)
	assert.Equal(t, 0, p.Stack().Len())
	assert.True(t, src.Closed)

	src.ErrorOnOpen = errors.New("unreadable")
	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, phonic.ErrDecode))
	var de *phonic.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "mock", de.Source)

	src.ErrorOnOpen, src.ErrorAfter = nil, 0
	require.NoError(t, p.Run(context.Background()))
	assert.True(t, p.Stack().Replaying())
}

func TestFinalizeErrors(t *testing.T) {
	finalizeErr := errors.New("finalize failed")
	failing := &mock.Processor{ID: "failing", ErrorOnFinalize: finalizeErr}
	ok := level.New()
	p, err := pipe.New(newDecoder(t), pipe.WithProcessors(failing, ok))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.True(t, errors.Is(err, finalizeErr))
	// other stages are finalized
	_, found := p.Results().Get("level.rms")
	assert.True(t, found)
	_, found = p.Results().Get("failing.frames")
	assert.False(t, found)
}

func TestCancel(t *testing.T) {
	proc := &mock.Processor{}
	p, err := pipe.New(newDecoder(t, decoder.WithStack()), pipe.WithProcessors(proc))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, proc.Finalizes)
	assert.True(t, proc.Interrupted)
	assert.Equal(t, 0, p.Stack().Len())
}

func TestEncoder(t *testing.T) {
	var chunks [][]byte
	enc := &mock.Encoder{
		Output:     phonic.ToStream(func(b []byte) { chunks = append(chunks, b) }),
		SampleRate: sampleRate,
		Channels:   channels,
	}
	enc.SetMetadata(phonic.Metadata{{Name: "title", Value: "sweep"}})
	p, err := pipe.New(newDecoder(t), pipe.WithProcessors(enc))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, chunks, 44)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
	}
	assert.Equal(t, phonic.Metadata{{Name: "title", Value: "sweep"}}, enc.Written())

	// encoder is set up again for the next run
	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, chunks, 88)
	assert.Equal(t, float64(samples), result(t, p, "mock_encoder.output"))

	// process after finish
	_, _, err = enc.Process(phonic.Frame{Samples: signal.EmptyFloat64(channels, 1)})
	assert.True(t, errors.Is(err, phonic.ErrFinalizeMisuse))
	err = enc.Update()
	assert.True(t, errors.Is(err, phonic.ErrStreamingMode))
}

func TestRunAll(t *testing.T) {
	procs := []*mock.Processor{{}, {}, {}}
	pipes := make([]*pipe.Pipe, 0, len(procs))
	for _, proc := range procs {
		p, err := pipe.New(newDecoder(t), pipe.WithProcessors(proc), pipe.WithMetric())
		require.NoError(t, err)
		pipes = append(pipes, p)
	}
	require.NoError(t, pipe.RunAll(context.Background(), pipes...))
	for _, p := range pipes {
		assert.Equal(t, 44.0, result(t, p, "mock.frames"))
	}
	assert.Equal(t, int64(132), metric.Get("mock").Frames)
	for _, p := range pipes {
		m := p.Metrics()
		require.Contains(t, m, "mock@1.0")
		assert.Equal(t, int64(44), m["mock@1.0"].Frames)
		assert.Equal(t, int64(samples), m["mock@1.0"].Samples)
	}

	shared := pipe.Compose(pipes[0])
	err := pipe.RunAll(context.Background(), pipes[0], shared)
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))

	other, err := pipe.New(newDecoder(t), pipe.WithProcessors(procs[1]))
	require.NoError(t, err)
	err = pipe.RunAll(context.Background(), pipes[1], other)
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))

	err = pipe.RunAll(context.Background(), pipes[2], pipes[2])
	assert.True(t, errors.Is(err, phonic.ErrConfiguration))
}
