// Package spectrum provides analyzer of the average magnitude spectrum.
package spectrum

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/pipelined/phonic"
)

const id = "spectrum"

// DefaultWindowSize is the number of samples per FFT window.
const DefaultWindowSize = 2048

var descriptor = phonic.Descriptor{
	ID:          id,
	Name:        "Spectrum Analyzer",
	Version:     "1.0",
	Description: "Average magnitude spectrum and spectral centroid",
	Kind:        phonic.KindAnalyzer,
	Params: []phonic.Param{
		{Name: "window_size", Default: DefaultWindowSize, Description: "FFT size, power of two"},
	},
}

func init() {
	phonic.Register(descriptor, func(args phonic.Args) (phonic.Processor, error) {
		size, err := args.Params.Int("window_size", DefaultWindowSize)
		if err != nil {
			return nil, err
		}
		return New(size)
	})
}

// Analyzer downmixes signal to mono and splits it into non-overlapping
// Hann-windowed blocks. Magnitudes of every block are averaged. Only one
// window of samples is buffered. Zero-padded last block is weighted by the
// share of samples it holds, so a short tail doesn't skew the average.
type Analyzer struct {
	phonic.Lifecycle
	size       int
	fft        *fourier.FFT
	coeffs     []float64
	sampleRate int

	input   []float64
	pending int
	output  []complex128
	sum     []float64
	windows int
	weight  float64
	results []phonic.Result
}

// New returns spectrum analyzer with provided window size.
func New(windowSize int) (*Analyzer, error) {
	if windowSize < 2 || windowSize&(windowSize-1) != 0 {
		return nil, &phonic.ConfigurationError{Stage: id, Param: "window_size", Reason: fmt.Sprintf("must be a power of two, got %d", windowSize)}
	}
	coeffs := make([]float64, windowSize)
	for i := range coeffs {
		coeffs[i] = 1
	}
	window.Hann(coeffs)
	return &Analyzer{
		Lifecycle: phonic.Lifecycle{Stage: id},
		size:      windowSize,
		fft:       fourier.NewFFT(windowSize),
		coeffs:    coeffs,
		input:     make([]float64, windowSize),
		output:    make([]complex128, windowSize/2+1),
		sum:       make([]float64, windowSize/2+1),
	}, nil
}

// Descriptor implements phonic.Processor.
func (a *Analyzer) Descriptor() phonic.Descriptor {
	return descriptor
}

// Setup implements phonic.Processor.
func (a *Analyzer) Setup(props phonic.Properties) error {
	a.sampleRate = props.SampleRate
	a.pending, a.windows, a.weight = 0, 0, 0
	for i := range a.sum {
		a.sum[i] = 0
	}
	a.results = nil
	a.Begin()
	return nil
}

// Process implements phonic.Processor.
func (a *Analyzer) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := a.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	channels := f.NumChannels()
	for i := 0; i < f.Size(); i++ {
		var v float64
		for c := 0; c < channels; c++ {
			v += f.Samples[c][i]
		}
		a.input[a.pending] = v / float64(channels)
		a.pending++
		if a.pending == a.size {
			a.transform(1)
		}
	}
	return f, true, nil
}

// transform adds weighted magnitudes of the buffered window to the sum.
func (a *Analyzer) transform(weight float64) {
	for i := range a.input {
		a.input[i] *= a.coeffs[i]
	}
	a.fft.Coefficients(a.output, a.input)
	for i, c := range a.output {
		a.sum[i] += weight * cmplx.Abs(c)
	}
	a.windows++
	a.weight += weight
	a.pending = 0
}

// Finalize implements phonic.Processor. Incomplete last window is padded
// with zeros and weighted by its fill ratio.
func (a *Analyzer) Finalize() ([]phonic.Result, error) {
	if err := a.End("finalize"); err != nil {
		return nil, err
	}
	if a.pending > 0 {
		for i := a.pending; i < a.size; i++ {
			a.input[i] = 0
		}
		a.transform(float64(a.pending) / float64(a.size))
	}
	binWidth := float64(a.sampleRate) / float64(a.size)
	mean := make([]float64, len(a.sum))
	var weighted, total float64
	for i, s := range a.sum {
		if a.weight > 0 {
			mean[i] = s / a.weight
		}
		weighted += float64(i) * binWidth * mean[i]
		total += mean[i]
	}
	var centroid float64
	if total > 0 {
		centroid = math.Round(weighted/total*1000) / 1000
	}
	a.results = []phonic.Result{
		{
			ID:       id,
			Field:    "centroid",
			Version:  descriptor.Version,
			Values:   []float64{centroid},
			Metadata: map[string]interface{}{"name": "Spectral centroid", "unit": "Hz"},
		},
		{
			ID:      id,
			Field:   "magnitudes",
			Version: descriptor.Version,
			Values:  mean,
			Metadata: map[string]interface{}{
				"name":        "Average magnitude spectrum",
				"bin_width":   binWidth,
				"window_size": a.size,
				"windows":     a.windows,
			},
		},
	}
	return a.results, nil
}

// Results implements phonic.Analyzer.
func (a *Analyzer) Results() []phonic.Result {
	return a.results
}
