// Package example shows how phonic pipes are assembled.
package example

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/analyzer/level"
	"github.com/pipelined/phonic/analyzer/spectrum"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/grapher/waveform"
	"github.com/pipelined/phonic/mp3"
	"github.com/pipelined/phonic/pipe"
	"github.com/pipelined/phonic/store"
	_ "github.com/pipelined/phonic/wav"
)

// Example 1:
//
//	Decode file
//	Measure level and spectral centroid
//	Print results
func one(w io.Writer, path string) error {
	dec, err := decoder.Open(path)
	if err != nil {
		return err
	}
	centroid, err := spectrum.New(spectrum.DefaultWindowSize)
	if err != nil {
		return err
	}
	p, err := pipe.New(dec, pipe.WithProcessors(level.New(), centroid))
	if err != nil {
		return err
	}
	if err := p.Run(context.Background()); err != nil {
		return err
	}
	return store.Write(w, p.Results())
}

// Example 2:
//
//	Decode file once into the stack
//	Render waveform from the stack
//	Encode mp3 from the stack
func two(path, png, mp3Path string) (*phonic.ResultContainer, error) {
	dec, err := decoder.Open(path, decoder.WithStack())
	if err != nil {
		return nil, err
	}
	p, err := pipe.New(dec, pipe.WithProcessors(level.New()))
	if err != nil {
		return nil, err
	}
	if err := p.Run(context.Background()); err != nil {
		return nil, err
	}

	info := dec.Info()
	graph, err := waveform.New(phonic.ToFile(png))
	if err != nil {
		return nil, err
	}
	enc, err := mp3.NewEncoder(phonic.ToFile(mp3Path), info.SampleRate, info.Channels)
	if err != nil {
		return nil, err
	}
	enc.SetMetadata(phonic.Metadata{{Name: "title", Value: "example"}})
	p = pipe.Compose(p, graph, enc)
	if err := p.Run(context.Background()); err != nil {
		return nil, err
	}
	return p.Results(), nil
}

// Example 3:
//
//	Decode file
//	Merge level pipe with mp3 chain
//	Stream mp3 into the buffer
func three(path string) ([]byte, error) {
	dec, err := decoder.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := dec.Open()
	if err != nil {
		return nil, err
	}
	if err := dec.Close(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc, err := mp3.NewEncoder(phonic.ToStream(func(b []byte) {
		buf.Write(b)
	}), info.SampleRate, info.Channels)
	if err != nil {
		return nil, err
	}
	p, err := pipe.New(dec, pipe.WithProcessors(level.New()))
	if err != nil {
		return nil, err
	}
	p, err = pipe.Merge(p, pipe.Chain(enc))
	if err != nil {
		return nil, err
	}
	if err := p.Run(context.Background()); err != nil {
		return nil, fmt.Errorf("stream mp3: %w", err)
	}
	return buf.Bytes(), nil
}
