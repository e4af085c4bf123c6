// Package pipe composes a decoder with processing stages and runs them.
//
// Frames are pulled from the decoder one by one and passed through every
// stage in the order stages were attached. A stage receives the frame
// returned by the previous one, so transforms affect all stages attached
// after them. If a stage returns a frame without samples, the frame it
// received is passed further.
//
// Composition never discards stages: Extend appends to the pipe, Compose
// and Merge return new pipes. Both are associative.
package pipe

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/log"
	"github.com/pipelined/phonic/metric"
)

// Pipe is a decoder with ordered list of stages.
type Pipe struct {
	mu      sync.Mutex
	uid     string
	name    string
	decoder phonic.Decoder
	runners []*runner
	results *phonic.ResultContainer
	metric  bool
	log     logrus.FieldLogger
}

// Option provides a way to set parameters to pipe.
type Option func(*Pipe) error

// New creates a new pipe with decoder and applies provided options.
func New(dec phonic.Decoder, options ...Option) (*Pipe, error) {
	if isNil(dec) {
		return nil, &phonic.ConfigurationError{Stage: "pipe", Param: "decoder", Reason: "decoder is nil"}
	}
	p := newPipe(dec)
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newPipe(dec phonic.Decoder) *Pipe {
	return &Pipe{
		uid:     phonic.NewUID(),
		decoder: dec,
		results: phonic.NewResultContainer(),
		log:     log.Discard(),
	}
}

// WithName sets name to pipe.
func WithName(n string) Option {
	return func(p *Pipe) error {
		p.name = n
		return nil
	}
}

// WithLogger sets logger to pipe.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipe) error {
		if l == nil {
			return &phonic.ConfigurationError{Stage: p.String(), Param: "logger", Reason: "logger is nil"}
		}
		p.log = l
		return nil
	}
}

// WithMetric enables expvar counters for all stages of the pipe.
func WithMetric() Option {
	return func(p *Pipe) error {
		p.metric = true
		return nil
	}
}

// WithProcessors attaches processors to pipe.
func WithProcessors(procs ...phonic.Processor) Option {
	return func(p *Pipe) error {
		for _, proc := range procs {
			if isNil(proc) {
				return &phonic.ConfigurationError{Stage: p.String(), Param: "processor", Reason: "processor is nil"}
			}
		}
		p.attach(procs...)
		return nil
	}
}

// Chain returns a pipe without decoder. It can't be run until it's merged
// with a pipe that has one.
func Chain(procs ...phonic.Processor) *Pipe {
	p := newPipe(nil)
	p.attach(procs...)
	return p
}

// Extend attaches processors to the pipe and returns it. Processors which
// are already attached are ignored.
func (p *Pipe) Extend(procs ...phonic.Processor) *Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attach(procs...)
	return p
}

// Compose returns a new pipe with stages of p followed by procs. The
// original pipe is not modified. Results of the new pipe accumulate
// over all its stages.
func Compose(p *Pipe, procs ...phonic.Processor) *Pipe {
	c := p.clone()
	c.attach(procs...)
	return c
}

// Merge returns a new pipe with stages of a followed by stages of b. Pipes
// must share the same decoder or at most one of them may have it.
func Merge(a, b *Pipe) (*Pipe, error) {
	a.mu.Lock()
	da := a.decoder
	a.mu.Unlock()
	b.mu.Lock()
	db, metric := b.decoder, b.metric
	runners := make([]*runner, 0, len(b.runners))
	for _, r := range b.runners {
		runners = append(runners, r.clone())
	}
	b.mu.Unlock()

	if !isNil(da) && !isNil(db) && !sameDecoder(da, db) {
		return nil, &phonic.ConfigurationError{
			Stage:  a.String(),
			Param:  "decoder",
			Reason: fmt.Sprintf("can't merge with %s: pipes have different decoders", b),
		}
	}
	c := a.clone()
	if isNil(c.decoder) {
		c.decoder = db
	}
	c.metric = c.metric || metric
	for _, r := range runners {
		if !c.has(r.Processor) {
			c.runners = append(c.runners, r)
		}
	}
	return c, nil
}

func (p *Pipe) clone() *Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Pipe{
		uid:     phonic.NewUID(),
		name:    p.name,
		decoder: p.decoder,
		runners: make([]*runner, 0, len(p.runners)),
		results: phonic.NewResultContainer(),
		metric:  p.metric,
		log:     p.log,
	}
	for _, r := range p.runners {
		c.runners = append(c.runners, r.clone())
	}
	return c
}

// attach adds runners for processors not attached yet.
func (p *Pipe) attach(procs ...phonic.Processor) {
	for _, proc := range procs {
		if isNil(proc) || p.has(proc) {
			continue
		}
		p.runners = append(p.runners, newRunner(proc))
	}
}

func (p *Pipe) has(proc phonic.Processor) bool {
	for _, r := range p.runners {
		if sameProcessor(r.Processor, proc) {
			return true
		}
	}
	return false
}

// Decoder returns decoder of the pipe.
func (p *Pipe) Decoder() phonic.Decoder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decoder
}

// Stack returns decoded-frame cache of the decoder. Nil is returned if
// caching is not enabled.
func (p *Pipe) Stack() *phonic.Stack {
	dec := p.Decoder()
	if isNil(dec) {
		return nil
	}
	return dec.Stack()
}

// Processors returns attached processors in order.
func (p *Pipe) Processors() []phonic.Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processors()
}

func (p *Pipe) processors() []phonic.Processor {
	procs := make([]phonic.Processor, 0, len(p.runners))
	for _, r := range p.runners {
		procs = append(procs, r.Processor)
	}
	return procs
}

// Results returns results of the latest run.
func (p *Pipe) Results() *phonic.ResultContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// Metrics returns counters of measured stages keyed by stage identifier.
// It's empty unless pipe is created with metrics enabled.
func (p *Pipe) Metrics() map[string]metric.Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := make(map[string]metric.Counters)
	for _, r := range p.runners {
		if c, ok := r.metrics(); ok {
			m[r.String()] = c
		}
	}
	return m
}

// ID returns unique identifier of the pipe.
func (p *Pipe) ID() string {
	return p.uid
}

func (p *Pipe) String() string {
	if p.name != "" {
		return p.name
	}
	return "pipe " + p.uid
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// sameProcessor compares processors by identity. Values of uncomparable
// types are never the same.
func sameProcessor(a, b phonic.Processor) bool {
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

func sameDecoder(a, b phonic.Decoder) bool {
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
