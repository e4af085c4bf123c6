// Package waveform provides grapher which renders signal envelope into
// PNG image.
package waveform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/pipelined/phonic"
)

const id = "waveform"

// Default size of the image.
const (
	DefaultHeight = 180
	DefaultWidth  = 320
)

// MimeType of rendered images.
const MimeType = "image/png"

var descriptor = phonic.Descriptor{
	ID:          id,
	Name:        "Waveform",
	Version:     "1.0",
	Description: "Renders minimum and maximum of the signal per pixel column",
	Kind:        phonic.KindGrapher,
	Params: []phonic.Param{
		{Name: "height", Default: DefaultHeight, Description: "image height in pixels"},
		{Name: "width", Default: DefaultWidth, Description: "image width in pixels"},
	},
}

func init() {
	phonic.Register(descriptor, func(args phonic.Args) (phonic.Processor, error) {
		height, err := args.Params.Int("height", DefaultHeight)
		if err != nil {
			return nil, err
		}
		width, err := args.Params.Int("width", DefaultWidth)
		if err != nil {
			return nil, err
		}
		return New(args.Output, WithSize(height, width))
	})
}

// Colors of the image.
var (
	Background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	Foreground = color.RGBA{R: 0x1f, G: 0x5f, B: 0xaf, A: 0xff}
	Axis       = color.RGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff}
)

// bucket is an envelope of consecutive samples.
type bucket struct {
	min, max float64
}

func (b *bucket) add(v float64) {
	b.min = math.Min(b.min, v)
	b.max = math.Max(b.max, v)
}

func (b *bucket) merge(o bucket) {
	b.min = math.Min(b.min, o.min)
	b.max = math.Max(b.max, o.max)
}

var empty = bucket{min: math.Inf(1), max: math.Inf(-1)}

// Grapher collects envelope of the downmixed signal. Length of the stream
// is unknown in advance, so buckets are merged pairwise once there are
// twice as many as columns. Image is rendered when output is finished.
type Grapher struct {
	phonic.Lifecycle
	output phonic.Output
	height int
	width  int

	buckets  []bucket
	span     int // samples per bucket
	filled   int // samples in the last bucket
	finished bool
	reported bool
}

// Option configures grapher.
type Option func(*Grapher) error

// WithSize sets image size.
func WithSize(height, width int) Option {
	return func(g *Grapher) error {
		if height < 2 || width < 1 {
			return &phonic.ConfigurationError{Stage: id, Param: "size", Reason: fmt.Sprintf("invalid image size %dx%d", width, height)}
		}
		g.height, g.width = height, width
		return nil
	}
}

// New creates waveform grapher.
func New(output phonic.Output, options ...Option) (*Grapher, error) {
	if err := output.Validate(); err != nil {
		var ce *phonic.ConfigurationError
		if errors.As(err, &ce) {
			ce.Stage = id
		}
		return nil, err
	}
	g := &Grapher{
		Lifecycle: phonic.Lifecycle{Stage: id},
		output:    output,
		height:    DefaultHeight,
		width:     DefaultWidth,
	}
	for _, option := range options {
		if err := option(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Descriptor implements phonic.Processor.
func (g *Grapher) Descriptor() phonic.Descriptor {
	return descriptor
}

// Format implements phonic.Grapher.
func (g *Grapher) Format() phonic.Format {
	return phonic.Format{
		Label:       "PNG",
		Description: "Waveform image",
		Extension:   "png",
		MimeType:    MimeType,
	}
}

// Size implements phonic.Grapher.
func (g *Grapher) Size() (int, int) {
	return g.height, g.width
}

// Setup implements phonic.Processor.
func (g *Grapher) Setup(phonic.Properties) error {
	g.Begin()
	g.buckets = make([]bucket, 0, 2*g.width)
	g.span, g.filled = 1, 0
	g.finished, g.reported = false, false
	return nil
}

// Process implements phonic.Processor.
func (g *Grapher) Process(f phonic.Frame) (phonic.Frame, bool, error) {
	if err := g.Check("process"); err != nil {
		return phonic.Frame{}, false, err
	}
	channels := f.NumChannels()
	for i := 0; i < f.Size(); i++ {
		var v float64
		for c := 0; c < channels; c++ {
			v += f.Samples[c][i]
		}
		g.add(v / float64(channels))
	}
	return f, true, nil
}

func (g *Grapher) add(v float64) {
	if len(g.buckets) == 0 || g.filled == g.span {
		if len(g.buckets) == 2*g.width {
			g.shrink()
		}
		if len(g.buckets) == 0 || g.filled == g.span {
			g.buckets = append(g.buckets, empty)
			g.filled = 0
		}
	}
	g.buckets[len(g.buckets)-1].add(v)
	g.filled++
}

// shrink merges buckets pairwise and doubles their span.
func (g *Grapher) shrink() {
	n := len(g.buckets) / 2
	for i := 0; i < n; i++ {
		b := g.buckets[2*i]
		b.merge(g.buckets[2*i+1])
		g.buckets[i] = b
	}
	g.buckets = g.buckets[:n]
	g.span *= 2
	g.filled = g.span
}

// Finish implements phonic.Grapher. Image is written into the output.
func (g *Grapher) Finish() error {
	if err := g.End("finish"); err != nil {
		return err
	}
	g.finished = true
	var buf bytes.Buffer
	if err := png.Encode(&buf, g.render()); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	if g.output.Streaming() {
		g.output.Emit(buf.Bytes())
		return nil
	}
	return os.WriteFile(g.output.Path, buf.Bytes(), 0o644)
}

// render draws envelope of buckets spread over image columns.
func (g *Grapher) render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			img.SetRGBA(x, y, Background)
		}
	}
	middle := g.height / 2
	for x := 0; x < g.width; x++ {
		img.SetRGBA(x, middle, Axis)
	}
	if len(g.buckets) == 0 {
		return img
	}
	for x := 0; x < g.width; x++ {
		from := x * len(g.buckets) / g.width
		to := (x + 1) * len(g.buckets) / g.width
		if to <= from {
			if from >= len(g.buckets) {
				continue
			}
			to = from + 1
		}
		column := empty
		for _, b := range g.buckets[from:to] {
			column.merge(b)
		}
		top, bottom := g.row(column.max), g.row(column.min)
		for y := top; y <= bottom; y++ {
			img.SetRGBA(x, y, Foreground)
		}
	}
	return img
}

// row maps sample value to image row.
func (g *Grapher) row(v float64) int {
	v = math.Max(-1, math.Min(1, v))
	y := int(math.Round((1 - v) / 2 * float64(g.height-1)))
	return y
}

// Finalize implements phonic.Processor. Output is finished if it wasn't.
func (g *Grapher) Finalize() ([]phonic.Result, error) {
	if g.reported {
		return nil, &phonic.FinalizeMisuseError{Stage: id, Op: "finalize", Err: phonic.ErrFinalized}
	}
	if !g.finished {
		if err := g.Finish(); err != nil {
			return nil, err
		}
	}
	g.reported = true
	r := phonic.Result{
		ID:       id,
		Field:    "image",
		Version:  descriptor.Version,
		MimeType: MimeType,
		Metadata: map[string]interface{}{
			"height": g.height,
			"width":  g.width,
		},
	}
	if !g.output.Streaming() {
		r.Path = g.output.Path
	}
	return []phonic.Result{r}, nil
}
