// Package test contains helper functions usefull for testing phonic packages.
package test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
	"github.com/pipelined/phonic/wav"
)

// Attributes of the generated fixture: 8 seconds of stereo sweep.
const (
	SampleRate = 44100
	Channels   = 2
	Samples    = 352800
	// Blocks is the number of frames of default size.
	Blocks = 44
	// Amplitude of the sweep.
	Amplitude = 0.5
)

// Sweep returns a sine sweep from 20 Hz to 2 kHz. All channels are equal.
func Sweep(channels, size, sampleRate int) signal.Float64 {
	s := signal.EmptyFloat64(channels, size)
	var phase float64
	for i := 0; i < size; i++ {
		freq := 20 + 1980*float64(i)/float64(size)
		phase += 2 * math.Pi * freq / float64(sampleRate)
		for c := range s {
			s[c][i] = Amplitude * math.Sin(phase)
		}
	}
	return s
}

// Wav writes the fixture into the test temporary directory and returns its
// path.
func Wav(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweep.wav")
	WriteWav(t, path, Sweep(Channels, Samples, SampleRate), SampleRate)
	return path
}

// WriteWav encodes signal into 16 bit wav file.
func WriteWav(t testing.TB, path string, s signal.Float64, sampleRate int) {
	t.Helper()
	e, err := wav.NewEncoder(phonic.ToFile(path), sampleRate, s.NumChannels())
	if err != nil {
		t.Fatal(err)
	}
	props := phonic.Properties{SampleRate: sampleRate, Channels: s.NumChannels(), BlockSize: phonic.DefaultBlockSize}
	if err := e.Setup(props); err != nil {
		t.Fatal(err)
	}
	for i := 0; i*phonic.DefaultBlockSize < s.Size(); i++ {
		size := phonic.DefaultBlockSize
		if left := s.Size() - i*phonic.DefaultBlockSize; left < size {
			size = left
		}
		f := phonic.Frame{Index: i, Samples: s.Slice(i*phonic.DefaultBlockSize, size)}
		if _, _, err := e.Process(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}
}
