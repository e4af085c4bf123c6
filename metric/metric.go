// Package metric exposes per-stage counters with expvar.
//
// Counters are kept for every stage instance, so two pipes running the
// same analyzer don't share them. All instances are published as a single
// expvar map named "phonic.stages".
package metric

import (
	"expvar"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/signal"
)

const stagesLabel = "phonic.stages"

// Counters is a snapshot of stage counters.
type Counters struct {
	// Runs is the number of started runs.
	Runs int64 `json:"runs"`
	// Frames is the number of processed frames.
	Frames int64 `json:"frames"`
	// Samples is the number of processed samples per channel.
	Samples int64 `json:"samples"`
	// Latency between the two latest processing calls.
	Latency time.Duration `json:"latency"`
	// Duration of processed signal.
	Duration time.Duration `json:"duration"`
}

func (c *Counters) add(o Counters) {
	c.Runs += o.Runs
	c.Frames += o.Frames
	c.Samples += o.Samples
	c.Duration += o.Duration
	if o.Latency > c.Latency {
		c.Latency = o.Latency
	}
}

var registry = &instances{m: make(map[string]*instance)}

func init() {
	expvar.Publish(stagesLabel, expvar.Func(registry.export))
}

type instances struct {
	sync.Mutex
	m map[string]*instance
}

// instance holds counters of a single stage instance.
type instance struct {
	descriptor phonic.Descriptor
	uid        string
	runs       atomic.Int64
	frames     atomic.Int64
	samples    atomic.Int64
	latency    atomic.Int64
	duration   atomic.Int64
}

func (i *instance) label() string {
	return i.descriptor.String() + "#" + i.uid
}

func (i *instance) snapshot() Counters {
	return Counters{
		Runs:     i.runs.Load(),
		Frames:   i.frames.Load(),
		Samples:  i.samples.Load(),
		Latency:  time.Duration(i.latency.Load()),
		Duration: time.Duration(i.duration.Load()),
	}
}

// get returns counters of the instance, registering it on the first call.
func (r *instances) get(d phonic.Descriptor, uid string) *instance {
	r.Lock()
	defer r.Unlock()
	if i, ok := r.m[uid]; ok {
		return i
	}
	i := &instance{descriptor: d, uid: uid}
	r.m[uid] = i
	return i
}

// export is published as expvar.
func (r *instances) export() interface{} {
	return GetAll()
}

// Get returns counters of all instances of the stage with provided ID
// summed together. Latency is the largest one.
func Get(stage string) Counters {
	var c Counters
	registry.Lock()
	defer registry.Unlock()
	for _, i := range registry.m {
		if i.descriptor.ID == stage {
			c.add(i.snapshot())
		}
	}
	return c
}

// Instance returns counters of the stage instance.
func Instance(uid string) (Counters, bool) {
	registry.Lock()
	defer registry.Unlock()
	i, ok := registry.m[uid]
	if !ok {
		return Counters{}, false
	}
	return i.snapshot(), true
}

// GetAll returns counters of all measured instances. Keys have
// id@version#uid form.
func GetAll() map[string]Counters {
	registry.Lock()
	defer registry.Unlock()
	m := make(map[string]Counters, len(registry.m))
	for _, i := range registry.m {
		m[i.label()] = i.snapshot()
	}
	return m
}

// Labels returns sorted keys of GetAll.
func Labels() []string {
	all := GetAll()
	labels := make([]string, 0, len(all))
	for l := range all {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// ResetFunc returns new Measure closure. This closure is needed to postpone metrics
// capture until stage is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when frame is processed.
type MeasureFunc func(frameSize int64)

// Meter creates meter closure for the stage instance. Meters created for
// the same uid share counters.
func Meter(d phonic.Descriptor, uid string, sampleRate int) ResetFunc {
	i := registry.get(d, uid)
	return func() MeasureFunc {
		i.runs.Add(1)
		calledAt := time.Now()
		var (
			frameSize     int64
			frameDuration time.Duration
		)
		return func(s int64) {
			i.latency.Store(int64(time.Since(calledAt)))
			i.frames.Add(1)
			i.samples.Add(s)
			// recalculate frame duration only when frame size has changed
			if frameSize != s {
				frameSize = s
				frameDuration = signal.DurationOf(sampleRate, s)
			}
			i.duration.Add(int64(frameDuration))
			calledAt = time.Now()
		}
	}
}
