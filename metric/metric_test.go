package metric_test

import (
	"expvar"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/metric"
)

func TestMeter(t *testing.T) {
	sampleRate := 44100
	var tests = []struct {
		stage     string
		routines  int
		frames    int
		frameSize int64
		expected  metric.Counters
	}{
		{
			stage:     "metric.test.a",
			routines:  2,
			frames:    10,
			frameSize: 100,
			expected:  metric.Counters{Runs: 2, Frames: 20, Samples: 2000},
		},
		{
			stage:     "metric.test.b",
			routines:  4,
			frames:    5,
			frameSize: 441,
			expected:  metric.Counters{Runs: 4, Frames: 20, Samples: 8820},
		},
	}
	measure := func(fn metric.MeasureFunc, wg *sync.WaitGroup, frames int, frameSize int64) {
		for i := 0; i < frames; i++ {
			fn(frameSize)
		}
		wg.Done()
	}

	for _, c := range tests {
		wg := &sync.WaitGroup{}
		wg.Add(c.routines)
		uid := phonic.NewUID()
		d := phonic.Descriptor{ID: c.stage, Version: "1.0"}
		reset := metric.Meter(d, uid, sampleRate)
		for i := 0; i < c.routines; i++ {
			go measure(reset(), wg, c.frames, c.frameSize)
		}
		// check if no data race.
		wg.Wait()
		values, ok := metric.Instance(uid)
		require.True(t, ok)
		assert.Equal(t, c.expected.Runs, values.Runs)
		assert.Equal(t, c.expected.Frames, values.Frames)
		assert.Equal(t, c.expected.Samples, values.Samples)
		assert.Greater(t, values.Duration, time.Duration(0))
		assert.Equal(t, values, metric.Get(c.stage))
		assert.Contains(t, metric.GetAll(), c.stage+"@1.0#"+uid)
		assert.Contains(t, metric.Labels(), c.stage+"@1.0#"+uid)
	}
}

func TestMeterInstances(t *testing.T) {
	d := phonic.Descriptor{ID: "metric.test.same", Version: "1.0"}
	first, second := phonic.NewUID(), phonic.NewUID()
	metric.Meter(d, first, 44100)()(10)
	metric.Meter(d, second, 44100)()(30)
	// same instance shares counters
	metric.Meter(d, first, 44100)()(10)

	c, ok := metric.Instance(first)
	require.True(t, ok)
	assert.Equal(t, metric.Counters{Runs: 2, Frames: 2, Samples: 20}, metric.Counters{Runs: c.Runs, Frames: c.Frames, Samples: c.Samples})
	c, ok = metric.Instance(second)
	require.True(t, ok)
	assert.Equal(t, int64(30), c.Samples)

	total := metric.Get("metric.test.same")
	assert.Equal(t, int64(3), total.Runs)
	assert.Equal(t, int64(50), total.Samples)

	_, ok = metric.Instance("missing")
	assert.False(t, ok)
	assert.Equal(t, metric.Counters{}, metric.Get("metric.test.missing"))
}

func TestExpvar(t *testing.T) {
	uid := phonic.NewUID()
	metric.Meter(phonic.Descriptor{ID: "metric.test.expvar"}, uid, 8000)()(8000)
	v := expvar.Get("phonic.stages")
	require.NotNil(t, v)
	assert.Contains(t, v.String(), `"metric.test.expvar#`+uid+`"`)
	assert.Contains(t, v.String(), `"samples":8000`)
}
