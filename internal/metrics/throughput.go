package metrics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
)

// Summary describes the dispatch times of a run in seconds.
type Summary struct {
	Steps        int
	Particles    int
	MeanDispatch float64
	StdDispatch  float64
	MinDispatch  float64
	MaxDispatch  float64
	MeanStep     float64
	// Interactions per second of kernel time, N^2 / mean dispatch.
	Interactions float64
}

// Summarize reduces per-step timings to a Summary.
func Summarize(n int, timings []dynamo.Timing) Summary {
	s := Summary{Steps: len(timings), Particles: n}
	if len(timings) == 0 {
		return s
	}

	dispatch := make([]float64, len(timings))
	total := make([]float64, len(timings))
	for i, t := range timings {
		dispatch[i] = t.Dispatch.Seconds()
		total[i] = t.Total().Seconds()
	}

	s.MeanDispatch, s.StdDispatch = stat.MeanStdDev(dispatch, nil)
	if len(dispatch) == 1 {
		s.StdDispatch = 0
	}
	s.MinDispatch = floats.Min(dispatch)
	s.MaxDispatch = floats.Max(dispatch)
	s.MeanStep = stat.Mean(total, nil)
	if s.MeanDispatch > 0 {
		s.Interactions = dynamo.Interactions(n) / s.MeanDispatch
	}
	return s
}

func (s Summary) Mean() time.Duration {
	return time.Duration(math.Round(s.MeanDispatch * float64(time.Second)))
}

// Throughput reports pair interactions per second of dispatch time.
type Throughput struct {
	name    string
	n       int
	timings []dynamo.Timing
}

func NewThroughput() *Throughput {
	return &Throughput{name: "interactions_per_sec"}
}

func (t *Throughput) Name() string { return t.name }

func (t *Throughput) Reset(buf *particle.Buffer) {
	t.n = buf.N()
	t.timings = t.timings[:0]
}

func (t *Throughput) Observe(step int, buf *particle.Buffer, timing dynamo.Timing) {
	t.timings = append(t.timings, timing)
}

func (t *Throughput) Value() float64 {
	return Summarize(t.n, t.timings).Interactions
}

func (t *Throughput) Summary() Summary {
	return Summarize(t.n, t.timings)
}
