package phonic_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

func frames(n, size int) []phonic.Frame {
	result := make([]phonic.Frame, n)
	for i := range result {
		s := signal.EmptyFloat64(2, size)
		for c := range s {
			for j := range s[c] {
				s[c][j] = float64(i*size+j) / 1000
			}
		}
		result[i] = phonic.Frame{Index: i, Samples: s, EOS: i == n-1}
	}
	return result
}

func TestStack(t *testing.T) {
	s := phonic.NewStack()
	assert.Equal(t, phonic.FillingCache, s.State())
	assert.True(t, s.Filling())
	assert.False(t, s.Replaying())

	fs := frames(3, 10)
	for _, f := range fs {
		require.NoError(t, s.Push(f))
	}
	// pushed frames are copies
	fs[0].Samples[0][0] = 100
	f, ok := s.Frame(0)
	require.True(t, ok)
	assert.Equal(t, 0.0, f.Samples[0][0])

	info := phonic.StreamInfo{Properties: phonic.Properties{SampleRate: 1000, Channels: 2, BlockSize: 10}, TotalFrames: -1}
	require.NoError(t, s.Seal(info))
	assert.Equal(t, phonic.ReplayingFromCache, s.State())
	assert.Equal(t, int64(30), s.Info().TotalFrames)
	assert.InDelta(t, 0.03, s.Info().Duration.Seconds(), 1e-6)
	assert.Equal(t, 3, s.Len())

	assert.True(t, errors.Is(s.Push(fs[0]), phonic.ErrStackSealed))
	assert.True(t, errors.Is(s.Seal(info), phonic.ErrStackSealed))
	s.Discard()
	assert.Equal(t, 3, s.Len())

	replayed := s.Frames()
	require.Len(t, replayed, 3)
	assert.True(t, replayed[2].EOS)
	_, ok = s.Frame(3)
	assert.False(t, ok)
	_, ok = s.Frame(-1)
	assert.False(t, ok)
}

func TestStackDiscard(t *testing.T) {
	s := phonic.NewStack()
	for _, f := range frames(2, 5) {
		require.NoError(t, s.Push(f))
	}
	s.Discard()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Filling())
}

func TestNilStack(t *testing.T) {
	var s *phonic.Stack
	assert.Equal(t, phonic.NotCaching, s.State())
	assert.Equal(t, "not caching", s.State().String())
	assert.False(t, s.Filling())
	assert.True(t, errors.Is(s.Push(phonic.Frame{}), phonic.ErrNotFilling))
	assert.True(t, errors.Is(s.Seal(phonic.StreamInfo{}), phonic.ErrNotFilling))
	s.Discard()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Frames())
}

func TestStackConcurrentReplay(t *testing.T) {
	s := phonic.NewStack()
	fs := frames(20, 64)
	for _, f := range fs {
		require.NoError(t, s.Push(f))
	}
	require.NoError(t, s.Seal(phonic.StreamInfo{Properties: phonic.Properties{SampleRate: 44100, Channels: 2}}))

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range fs {
				f, ok := s.Frame(i)
				assert.True(t, ok)
				assert.True(t, fs[i].Equal(f))
			}
		}()
	}
	wg.Wait()
}
