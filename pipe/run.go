package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pipelined/phonic"
)

var tracer = otel.Tracer("github.com/pipelined/phonic/pipe")

// source provides frames for a single run.
type source interface {
	read() (phonic.Frame, error)
	close() error
}

// live reads frames from decoder and fills the stack if it's filling.
type live struct {
	dec   phonic.Decoder
	stack *phonic.Stack
}

func (s *live) read() (phonic.Frame, error) {
	f, err := s.dec.Read()
	if err != nil {
		return phonic.Frame{}, err
	}
	if s.stack.Filling() {
		if err := s.stack.Push(f); err != nil {
			return phonic.Frame{}, err
		}
	}
	return f, nil
}

func (s *live) close() error {
	return s.dec.Close()
}

// replay reads frames from sealed stack.
type replay struct {
	stack *phonic.Stack
	pos   int
}

func (s *replay) read() (phonic.Frame, error) {
	f, ok := s.stack.Frame(s.pos)
	if !ok {
		return phonic.Frame{}, io.EOF
	}
	s.pos++
	return f, nil
}

func (s *replay) close() error {
	return nil
}

// Run executes the pipe. It blocks until the stream is over, a stage asks
// to stop or an error occurs.
//
// Every stage is set up before the first frame is pulled and finalized
// exactly once after the last one, in the order stages were attached. If
// the decoder has a stack, the first complete run fills it and consequent
// runs replay frames from it without touching the source.
//
// Decode and process errors abort the run: stages are interrupted, not
// finalized, and a partially filled stack is discarded. Context
// cancellation is handled the same way. The pipe stays reusable.
func (p *Pipe) Run(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isNil(p.decoder) {
		return &phonic.ConfigurationError{Stage: p.String(), Param: "decoder", Reason: "pipe has no decoder"}
	}

	ctx, span := tracer.Start(ctx, "pipe.Run", trace.WithAttributes(
		attribute.String("pipe.id", p.uid),
		attribute.String("pipe.name", p.name),
		attribute.Int("pipe.stages", len(p.runners)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p.results = phonic.NewResultContainer()
	stack := p.decoder.Stack()
	l := p.log.WithFields(logrus.Fields{
		"pipe":  p.String(),
		"cache": stack.State().String(),
	})
	span.SetAttributes(attribute.String("pipe.cache", stack.State().String()))

	src, info, err := p.open(stack)
	if err != nil {
		l.WithError(err).Debug("open failed")
		return err
	}
	props := info.Properties
	if err := props.Validate(); err != nil {
		return p.abort(l, src, stack, nil, err)
	}
	for i, r := range p.runners {
		if err := r.setup(props, p.metric); err != nil {
			return p.abort(l, src, stack, p.runners[:i], err)
		}
	}
	l.WithFields(logrus.Fields{
		"sample_rate": props.SampleRate,
		"channels":    props.Channels,
		"block_size":  props.BlockSize,
	}).Debug("run started")

	var (
		frames   int
		complete bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return p.abort(l, src, stack, p.runners, fmt.Errorf("run canceled: %w", err))
		}
		f, err := src.read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				complete = true
				break
			}
			return p.abort(l, src, stack, p.runners, p.decodeError(err))
		}
		frames++

		more := true
		out := f
		for _, r := range p.runners {
			var ok bool
			if out, ok, err = r.process(out); err != nil {
				return p.abort(l, src, stack, p.runners, err)
			}
			more = more && ok
		}
		if f.EOS {
			complete = true
			break
		}
		if !more {
			l.WithField("frames", frames).Debug("stopped by stage")
			break
		}
	}

	var errs phonic.Errors
	if stack.Filling() {
		if complete {
			if err := stack.Seal(info); err != nil {
				errs = append(errs, err)
			}
			l.WithField("frames", stack.Len()).Debug("stack sealed")
		} else {
			stack.Discard()
		}
	}
	if err := src.close(); err != nil {
		errs = append(errs, p.decodeError(err))
	}

	for _, r := range p.runners {
		results, err := r.finalize()
		if err != nil {
			errs = append(errs, err)
			l.WithField("stage", r.String()).WithError(err).Debug("finalize failed")
			continue
		}
		for _, result := range results {
			p.results.Add(result)
		}
	}
	span.SetAttributes(attribute.Int("pipe.frames", frames))
	l.WithFields(logrus.Fields{
		"frames":  frames,
		"results": p.results.Len(),
	}).Debug("run done")
	return errs.Ret()
}

// open returns the source of frames for the run.
func (p *Pipe) open(stack *phonic.Stack) (source, phonic.StreamInfo, error) {
	if stack.Replaying() {
		return &replay{stack: stack}, stack.Info(), nil
	}
	info, err := p.decoder.Open()
	if err != nil {
		return nil, phonic.StreamInfo{}, p.decodeError(err)
	}
	return &live{dec: p.decoder, stack: stack}, info, nil
}

// abort interrupts stages which were set up, discards partially filled
// stack and closes the source. Provided error is returned.
func (p *Pipe) abort(l logrus.FieldLogger, src source, stack *phonic.Stack, runners []*runner, err error) error {
	for _, r := range runners {
		if r.interrupt == nil {
			continue
		}
		if ierr := r.interrupt(); ierr != nil {
			l.WithField("stage", r.String()).WithError(ierr).Debug("interrupt failed")
		}
	}
	stack.Discard()
	if cerr := src.close(); cerr != nil {
		l.WithError(cerr).Debug("close failed")
	}
	l.WithError(err).Debug("run aborted")
	return err
}

func (p *Pipe) decodeError(err error) error {
	var de *phonic.DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &phonic.DecodeError{Source: p.decoder.Descriptor().Name, Err: err}
}

// RunAll runs independent pipes in parallel and waits for all of them.
// Pipes must not share decoders or processors. The first error cancels
// the context passed to other pipes and is returned.
func RunAll(ctx context.Context, pipes ...*Pipe) error {
	if err := independent(pipes); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pipes {
		p := p
		g.Go(func() error {
			return p.Run(ctx)
		})
	}
	return g.Wait()
}

func independent(pipes []*Pipe) error {
	for i := range pipes {
		for j := i + 1; j < len(pipes); j++ {
			if pipes[i] == pipes[j] {
				return &phonic.ConfigurationError{Stage: pipes[i].String(), Reason: "pipe is passed twice"}
			}
			di, dj := pipes[i].Decoder(), pipes[j].Decoder()
			if !isNil(di) && !isNil(dj) && sameDecoder(di, dj) {
				return &phonic.ConfigurationError{
					Stage:  pipes[j].String(),
					Param:  "decoder",
					Reason: fmt.Sprintf("decoder is shared with %s", pipes[i]),
				}
			}
			for _, a := range pipes[i].Processors() {
				for _, b := range pipes[j].Processors() {
					if sameProcessor(a, b) {
						return &phonic.ConfigurationError{
							Stage:  pipes[j].String(),
							Param:  "processor",
							Reason: fmt.Sprintf("%s is shared with %s", a.Descriptor(), pipes[i]),
						}
					}
				}
			}
		}
	}
	return nil
}
