// Package level provides analyzer of signal level.
//
// Signal is downmixed to mono. Results are the RMS and the peak of the
// whole stream in dBFS, rounded to three decimals. Silence and empty
// streams are reported as Floor.
package level

import (
	"math"

	"github.com/pipelined/phonic"
)

// Floor is the lowest reported level in dBFS.
const Floor = -120.0

const id = "level"

var descriptor = phonic.Descriptor{
	ID:          id,
	Name:        "Level Analyzer",
	Version:     "1.0",
	Description: "RMS and peak level of the signal in dBFS",
	Kind:        phonic.KindAnalyzer,
}

func init() {
	phonic.Register(descriptor, func(phonic.Args) (phonic.Processor, error) {
		return New(), nil
	})
}

// Analyzer accumulates sum of squares and peak of the signal. Its
// working state doesn't depend on stream length.
type Analyzer struct {
	phonic.Lifecycle
	sum     float64
	peak    float64
	samples int64
	results []phonic.Result
}

// New returns level analyzer.
func New() *Analyzer {
	return &Analyzer{
		Lifecycle: phonic.Lifecycle{Stage: id},
	}
}

// Descriptor implements phonic.Processor.
func (a *Analyzer) Descriptor() phonic.Descriptor {
	return descriptor
}

// Setup implements phonic.Processor.
func (a *Analyzer) Setup(phonic.Properties) error {
	a.sum, a.peak, a.samples = 0, 0, 0
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
		v /= float64(channels)
		a.sum += v * v
		if abs := math.Abs(v); abs > a.peak {
			a.peak = abs
		}
	}
	a.samples += int64(f.Size())
	return f, true, nil
}

// Finalize implements phonic.Processor.
func (a *Analyzer) Finalize() ([]phonic.Result, error) {
	if err := a.End("finalize"); err != nil {
		return nil, err
	}
	var rms float64
	if a.samples > 0 {
		rms = math.Sqrt(a.sum / float64(a.samples))
	}
	a.results = []phonic.Result{
		{
			ID:       id,
			Field:    "rms",
			Version:  descriptor.Version,
			Values:   []float64{dBFS(rms)},
			Metadata: map[string]interface{}{"name": "RMS level", "unit": "dBFS"},
		},
		{
			ID:       id,
			Field:    "max",
			Version:  descriptor.Version,
			Values:   []float64{dBFS(a.peak)},
			Metadata: map[string]interface{}{"name": "Max level", "unit": "dBFS"},
		},
	}
	return a.results, nil
}

// Results implements phonic.Analyzer.
func (a *Analyzer) Results() []phonic.Result {
	return a.results
}

func dBFS(v float64) float64 {
	if v <= 0 {
		return Floor
	}
	db := 20 * math.Log10(v)
	if db < Floor {
		return Floor
	}
	return math.Round(db*1000) / 1000
}
