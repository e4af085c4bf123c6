package pipe

import (
	"errors"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/metric"
)

// runner executes a single stage of the pipe.
type runner struct {
	phonic.Processor
	uid        string
	descriptor phonic.Descriptor
	meter      metric.ResetFunc
	measure    metric.MeasureFunc
	hooks
}

// hook represents optional functions for stage lifecycle.
type hook func() error

// set of hooks for runners.
type hooks struct {
	interrupt hook
}

// bindHooks of stage.
func bindHooks(v interface{}) hooks {
	return hooks{
		interrupt: interrupter(v),
	}
}

// interrupter checks if stage implements Interrupter and if so, returns it.
func interrupter(i interface{}) hook {
	if v, ok := i.(phonic.Interrupter); ok {
		return v.Interrupt
	}
	return nil
}

func newRunner(proc phonic.Processor) *runner {
	return &runner{
		Processor:  proc,
		uid:        phonic.NewUID(),
		descriptor: proc.Descriptor(),
		hooks:      bindHooks(proc),
	}
}

// clone keeps the identity of the stage but not its run state.
func (r *runner) clone() *runner {
	return &runner{
		Processor:  r.Processor,
		uid:        r.uid,
		descriptor: r.descriptor,
		hooks:      r.hooks,
	}
}

// setup configures the stage for a new run.
func (r *runner) setup(props phonic.Properties, withMetric bool) error {
	r.measure = nil
	if withMetric {
		if r.meter == nil {
			r.meter = metric.Meter(r.descriptor, r.uid, props.SampleRate)
		}
		r.measure = r.meter()
	}
	err := r.Setup(props)
	if err == nil {
		return nil
	}
	if errors.Is(err, phonic.ErrFinalizeMisuse) {
		return err
	}
	var ce *phonic.ConfigurationError
	if errors.As(err, &ce) {
		// error may be kept by the stage
		c := *ce
		if c.Stage == "" {
			c.Stage = r.String()
		}
		return &c
	}
	return &phonic.ConfigurationError{Stage: r.String(), Reason: "setup failed", Err: err}
}

// metrics returns counters of the stage instance.
func (r *runner) metrics() (metric.Counters, bool) {
	return metric.Instance(r.uid)
}

// process passes the frame through the stage. If stage returns no samples,
// the input frame is returned.
func (r *runner) process(in phonic.Frame) (phonic.Frame, bool, error) {
	out, more, err := r.Process(in)
	if err != nil {
		return phonic.Frame{}, false, &phonic.ProcessError{Stage: r.String(), Index: in.Index, Err: err}
	}
	if out.Samples == nil {
		out = in
	}
	if r.measure != nil {
		r.measure(int64(in.Size()))
	}
	return out, more, nil
}

// finalize returns results of the stage tagged with instance identifier.
func (r *runner) finalize() ([]phonic.Result, error) {
	results, err := r.Finalize()
	for i := range results {
		if results[i].ID == "" {
			results[i].ID = r.descriptor.ID
		}
		if results[i].Version == "" {
			results[i].Version = r.descriptor.Version
		}
		results[i].Instance = r.uid
	}
	return results, err
}

func (r *runner) String() string {
	return r.descriptor.String()
}
